// Package box is the public boundary of the transaction manager: explicit
// transaction control for a fiber, data manipulation statements against
// registered spaces, and log replay at startup.
//
// Every entry point records its failure in the fiber's last-error slot,
// which LastError returns.
package box

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/sushant-115/gojotxn/core/write_engine/wal"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap"
)

var (
	ErrNoSuchSpace     = errors.New("no such space")
	ErrSpaceExists     = errors.New("space already exists")
	ErrUnsupportedType = errors.New("unsupported request type")
)

type lastErrorKey struct{}

// LastError returns the most recent error raised in f, or nil.
func LastError(f transaction.Fiber) error {
	err, _ := f.Value(lastErrorKey{}).(error)
	return err
}

// ClearLastError resets f's last-error slot.
func ClearLastError(f transaction.Fiber) {
	f.SetValue(lastErrorKey{}, nil)
}

func diag(f transaction.Fiber, err error) error {
	if err != nil {
		f.SetValue(lastErrorKey{}, err)
	}
	return err
}

// Box ties the manager to the spaces it serves.
type Box struct {
	mgr     *transaction.Manager
	tracker *recovery.Tracker
	logger  *zap.Logger

	mu     sync.RWMutex // protects spaces and byName
	spaces map[uint32]*transaction.Space
	byName map[string]*transaction.Space
}

// New creates a box without spaces.
func New(mgr *transaction.Manager, tracker *recovery.Tracker, logger *zap.Logger) *Box {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Box{
		mgr:     mgr,
		tracker: tracker,
		logger:  logger.Named("box"),
		spaces:  make(map[uint32]*transaction.Space),
		byName:  make(map[string]*transaction.Space),
	}
}

// Manager returns the transaction manager.
func (b *Box) Manager() *transaction.Manager { return b.mgr }

// RegisterSpace makes space reachable by its id and name.
func (b *Box) RegisterSpace(space *transaction.Space) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.spaces[space.ID]; exists {
		return fmt.Errorf("%w: id %d", ErrSpaceExists, space.ID)
	}
	if _, exists := b.byName[space.Name]; exists {
		return fmt.Errorf("%w: name %q", ErrSpaceExists, space.Name)
	}
	b.spaces[space.ID] = space
	b.byName[space.Name] = space
	return nil
}

// Space finds a space by id.
func (b *Box) Space(id uint32) (*transaction.Space, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	space, ok := b.spaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSpace, id)
	}
	return space, nil
}

// SpaceByName finds a space by name.
func (b *Box) SpaceByName(name string) (*transaction.Space, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	space, ok := b.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchSpace, name)
	}
	return space, nil
}

// Spaces lists the registered spaces ordered by id.
func (b *Box) Spaces() []*transaction.Space {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*transaction.Space, 0, len(b.spaces))
	for _, space := range b.spaces {
		out = append(out, space)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Begin starts a multi-statement transaction in f.
func (b *Box) Begin(f transaction.Fiber) error {
	_, err := b.mgr.Begin(f, false)
	return diag(f, err)
}

// BeginTwoPhase starts a transaction coordinated externally under the given
// identity.
func (b *Box) BeginTwoPhase(f transaction.Fiber, txID uint64, coordinatorID uint32) error {
	_, err := b.mgr.BeginTwoPhase(f, txID, coordinatorID)
	return diag(f, err)
}

// PrepareTwoPhase votes to commit f's two-phase transaction.
func (b *Box) PrepareTwoPhase(f transaction.Fiber) error {
	txn := transaction.InTxn(f)
	if txn == nil {
		return diag(f, transaction.ErrNoActiveTransaction)
	}
	return diag(f, b.mgr.PrepareTwoPhase(txn, b.prepareHeader(txn.TxID, txn.CoordinatorID)))
}

func (b *Box) prepareHeader(txID uint64, coordinatorID uint32) *xrow.Header {
	return &xrow.Header{
		Type:          xrow.TypePrepare,
		ReplicaID:     b.tracker.ReplicaID(),
		TxID:          txID,
		CoordinatorID: coordinatorID,
	}
}

// lookup finds the two-phase transaction a coordinator addresses.
func (b *Box) lookup(txID uint64, coordinatorID uint32) (*transaction.Txn, error) {
	txn, ok := b.mgr.Lookup(txID, coordinatorID)
	if !ok {
		return nil, fmt.Errorf("%w: two-phase transaction %d of coordinator %d",
			transaction.ErrNoActiveTransaction, txID, coordinatorID)
	}
	return txn, nil
}

// PrepareCoordinated prepares the two-phase transaction with the given
// identity on behalf of its coordinator running in f.
func (b *Box) PrepareCoordinated(f transaction.Fiber, txID uint64, coordinatorID uint32) error {
	txn, err := b.lookup(txID, coordinatorID)
	if err != nil {
		return diag(f, err)
	}
	return diag(f, b.mgr.PrepareTwoPhase(txn, b.prepareHeader(txID, coordinatorID)))
}

// CommitCoordinated commits the two-phase transaction with the given
// identity. f waits for the log write, not the fiber that started it.
func (b *Box) CommitCoordinated(f transaction.Fiber, txID uint64, coordinatorID uint32) error {
	txn, err := b.lookup(txID, coordinatorID)
	if err != nil {
		return diag(f, err)
	}
	return diag(f, b.mgr.CommitFrom(f, txn))
}

// RollbackCoordinated aborts the two-phase transaction with the given
// identity.
func (b *Box) RollbackCoordinated(f transaction.Fiber, txID uint64, coordinatorID uint32) error {
	txn, err := b.lookup(txID, coordinatorID)
	if err != nil {
		return diag(f, err)
	}
	return diag(f, b.rollback(txn))
}

// Commit commits f's transaction. Without one it does nothing.
func (b *Box) Commit(f transaction.Fiber) error {
	return diag(f, b.mgr.Commit(transaction.InTxn(f)))
}

// Rollback rolls back f's transaction. Without one it does nothing.
func (b *Box) Rollback(f transaction.Fiber) error {
	txn := transaction.InTxn(f)
	if txn == nil {
		return nil
	}
	return diag(f, b.rollback(txn))
}

func (b *Box) rollback(txn *transaction.Txn) error {
	switch {
	case txn.SubStmtDepth() > 0:
		return transaction.ErrRollbackInSubStmt
	case txn.Writing():
		return transaction.ErrCommitInProgress
	}
	b.mgr.Rollback(txn)
	return nil
}

// Alloc returns size bytes that live until f's transaction ends, or nil
// when f has no transaction.
func (b *Box) Alloc(f transaction.Fiber, size int) []byte {
	txn := transaction.InTxn(f)
	if txn == nil {
		return nil
	}
	return txn.Alloc(size)
}

// InTxn reports whether f has a transaction.
func (b *Box) InTxn(f transaction.Fiber) bool {
	return transaction.InTxn(f) != nil
}

// Recover replays the log in dir with the writer detached, so replayed rows
// are not written again. Rows of unknown spaces only advance the vclock.
// It returns the number of rows applied.
func (b *Box) Recover(f transaction.Fiber, dir string) (int, error) {
	writer := b.mgr.LogWriter()
	b.mgr.SetLogWriter(nil)
	defer b.mgr.SetLogWriter(writer)

	applied := 0
	err := wal.Scan(dir, b.logger, func(row *xrow.Header) error {
		err := b.ApplyRow(f, row)
		switch {
		case err == nil:
			applied++
			return nil
		case errors.Is(err, ErrNoSuchSpace), errors.Is(err, ErrUnsupportedType):
			b.logger.Warn("Skipping row during recovery",
				zap.Uint32("replicaID", row.ReplicaID), zap.Int64("lsn", row.LSN), zap.Error(err))
			ClearLastError(f)
			return b.tracker.Follow(row)
		default:
			return err
		}
	})
	if err != nil {
		return applied, fmt.Errorf("recovery from %s failed: %w", dir, err)
	}
	b.logger.Info("Recovery finished",
		zap.Int("rows", applied), zap.String("vclock", b.tracker.Vclock().String()))
	return applied, nil
}
