package transaction

import "errors"

// Usage errors leave the transaction exactly as it was before the call.
var (
	ErrActiveTransaction   = errors.New("operation is not permitted when there is an active transaction")
	ErrNoActiveTransaction = errors.New("operation is not permitted when there is no active transaction")
	ErrTxnFinished         = errors.New("transaction is already committed or rolled back")
	ErrSubStmtMax          = errors.New("failed to begin statement: nesting limit reached")
	ErrChangePrepared      = errors.New("can not change a prepared transaction")
	ErrCrossEngine         = errors.New("a multi-statement transaction can not use multiple storage engines")
	ErrAlreadyPrepared     = errors.New("transaction is already prepared")
	ErrNotTwoPhase         = errors.New("can not prepare a transaction that is not two-phase")
	ErrIdentityMismatch    = errors.New("two-phase identity does not match the transaction")
	ErrPrepareInSubStmt    = errors.New("can not prepare a transaction inside a statement")
	ErrCommitInSubStmt     = errors.New("can not commit a transaction inside a statement")
	ErrCommitBeforePrepare = errors.New("can not commit a two-phase transaction before prepare")
	ErrRollbackInSubStmt   = errors.New("can not roll back a transaction inside a statement")
	ErrCommitInProgress    = errors.New("transaction is waiting for its log write")
	ErrNoOpenStatement     = errors.New("no statement is open in the transaction")
	ErrUnsupported         = errors.New("operation is not supported")
)

// Durability errors. The transaction has been rolled back when they are returned.
var (
	ErrWALIO = errors.New("failed to write to disk")
)

// Engine errors shared by the storage engines.
var (
	ErrTupleFound = errors.New("duplicate key exists in unique index")
)
