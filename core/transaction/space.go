package transaction

import "github.com/sushant-115/gojotxn/core/trigger"

// DupMode selects what a write does when the key already exists.
type DupMode int

const (
	DupReplace DupMode = iota // overwrite the existing tuple
	DupInsert                 // fail with ErrTupleFound
)

// SpaceHandler executes statements against a space's storage.
type SpaceHandler interface {
	Engine() Engine
	Replace(txn *Txn, stmt *Stmt, tuple Tuple, mode DupMode) error
	Delete(txn *Txn, stmt *Stmt, key string) error
	Get(txn *Txn, key string) (*Tuple, error)
	// Select returns up to limit tuples with keys >= from in key order. A
	// limit <= 0 means no limit.
	Select(txn *Txn, from string, limit int) ([]Tuple, error)
}

// Space is a collection owned by one engine.
type Space struct {
	ID   uint32
	Name string
	// Temporary spaces are not logged.
	Temporary bool
	Handler   SpaceHandler
	// OnReplace fires when a statement against the space commits and
	// changed a tuple.
	OnReplace trigger.List[*Stmt]

	triggersDisabled bool
}

// Engine returns the engine owning the space.
func (s *Space) Engine() Engine {
	return s.Handler.Engine()
}

// RunTriggers reports whether on-replace triggers are enabled.
func (s *Space) RunTriggers() bool {
	return !s.triggersDisabled
}

// SetRunTriggers enables or disables on-replace triggers.
func (s *Space) SetRunTriggers(enabled bool) {
	s.triggersDisabled = !enabled
}
