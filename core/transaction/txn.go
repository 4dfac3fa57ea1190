package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/gojotxn/core/arena"
	"github.com/sushant-115/gojotxn/core/trigger"
	"github.com/sushant-115/gojotxn/core/xrow"
)

// SubStmtMax bounds statement nesting, which grows through on-replace
// triggers issuing statements of their own.
const SubStmtMax = 3

// State is the lifecycle state of a transaction.
type State int

const (
	StateActive State = iota + 1
	StatePreparing
	StatePrepared
	StateCommitting
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StatePreparing:
		return "PREPARING"
	case StatePrepared:
		return "PREPARED"
	case StateCommitting:
		return "COMMITTING"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateCommitted || s == StateRolledBack
}

// Tuple is a stored value.
type Tuple struct {
	Key  string
	Data []byte
}

// Stmt is one statement of a transaction.
type Stmt struct {
	Space *Space
	// Old and New are the replaced and the resulting tuple. Both nil means
	// the statement changed nothing.
	Old *Tuple
	New *Tuple
	// EngineSavepoint is owned by the engine.
	EngineSavepoint any
	// Row is the durable log row, nil for reads and temporary spaces.
	Row *xrow.Header

	txn *Txn
}

// Txn returns the transaction the statement belongs to.
func (s *Stmt) Txn() *Txn { return s.txn }

// Txn is a transaction. It is bound to the fiber that started it. Only a
// coordinator of a two-phase transaction may prepare, commit or roll it
// back from another fiber.
type Txn struct {
	ID            uuid.UUID
	TxID          uint64
	CoordinatorID uint32
	// EngineTx is private state of the bound engine.
	EngineTx any

	stmts       []*Stmt
	open        []*Stmt
	engine      Engine
	autocommit  bool
	twoPhase    bool
	inPrepare   bool
	hasTriggers bool
	writing     bool
	nRows       int
	state       State
	onCommit    trigger.List[*Txn]
	onRollback  trigger.List[*Txn]
	arena       *arena.Arena
	fiber       Fiber
	started     time.Time
}

func (t *Txn) State() State       { return t.state }
func (t *Txn) Engine() Engine     { return t.engine }
func (t *Txn) IsAutocommit() bool { return t.autocommit }
func (t *Txn) IsTwoPhase() bool   { return t.twoPhase }
func (t *Txn) InPrepare() bool    { return t.inPrepare }
func (t *Txn) HasTriggers() bool  { return t.hasTriggers }
func (t *Txn) Fiber() Fiber       { return t.fiber }

// Writing reports whether a commit is waiting for the log write.
func (t *Txn) Writing() bool { return t.writing }

// SubStmtDepth is the number of statements currently open.
func (t *Txn) SubStmtDepth() int { return len(t.open) }

// RowCount is the number of statements holding a log row.
func (t *Txn) RowCount() int { return t.nRows }

// Statements returns the statements in log order, including rolled back
// ones.
func (t *Txn) Statements() []*Stmt {
	out := make([]*Stmt, len(t.stmts))
	copy(out, t.stmts)
	return out
}

// LastStmt returns the most recently begun statement, or nil.
func (t *Txn) LastStmt() *Stmt {
	if len(t.stmts) == 0 {
		return nil
	}
	return t.stmts[len(t.stmts)-1]
}

// OnCommit registers a trigger fired after the transaction is durable. It
// must not fail.
func (t *Txn) OnCommit(name string, fn trigger.Func[*Txn]) (remove func()) {
	t.hasTriggers = true
	return t.onCommit.Add(name, fn)
}

// OnRollback registers a trigger fired when the transaction rolls back. It
// must not fail.
func (t *Txn) OnRollback(name string, fn trigger.Func[*Txn]) (remove func()) {
	t.hasTriggers = true
	return t.onRollback.Add(name, fn)
}

// Alloc carves n bytes out of the transaction's arena. The memory lives
// until the transaction ends. Returns nil once the transaction is finished.
func (t *Txn) Alloc(n int) []byte {
	if t.arena == nil {
		return nil
	}
	return t.arena.Alloc(n)
}

// ArenaUsed reports the bytes allocated from the arena so far.
func (t *Txn) ArenaUsed() int {
	if t.arena == nil {
		return 0
	}
	return t.arena.Used()
}
