package transaction

//go:generate mockgen -source=engine.go -destination=mock_engine_test.go -package=transaction -exclude_interfaces=Fiber,LogWriter

import "github.com/sushant-115/gojotxn/core/write_engine/wal"

// Engine is a storage engine a transaction binds to on its first statement.
// The binding never changes afterwards. Commit and the rollback hooks can not
// fail: by the time they run the outcome is decided.
type Engine interface {
	Name() string
	Begin(txn *Txn) error
	// BeginStatement records the statement's savepoint.
	BeginStatement(txn *Txn, stmt *Stmt) error
	// Prepare runs right before a single-phase commit writes to the log.
	Prepare(txn *Txn) error
	// PrepareTwoPhase is the engine's vote in a two-phase commit.
	PrepareTwoPhase(txn *Txn) error
	// Commit makes the transaction visible. signature is the log position
	// the transaction is durable at, -1 when it wrote no rows.
	Commit(txn *Txn, signature int64)
	Rollback(txn *Txn)
	RollbackStatement(txn *Txn, stmt *Stmt)
}

// Fiber is the execution context transactions are bound to.
type Fiber interface {
	Value(key any) any
	SetValue(key, val any)
	// Await suspends the fiber until done is closed.
	Await(done <-chan struct{})
	// Reschedule moves the fiber to the back of the ready queue.
	Reschedule()
}

// LogWriter accepts requests for durable writes and resolves them
// asynchronously.
type LogWriter interface {
	Submit(req *wal.Request)
}

type txnKey struct{}

// InTxn returns the transaction bound to f, or nil.
func InTxn(f Fiber) *Txn {
	txn, _ := f.Value(txnKey{}).(*Txn)
	return txn
}
