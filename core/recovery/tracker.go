package recovery

import (
	"errors"
	"sync"

	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap"
)

var ErrLSNOrder = errors.New("LSN order violation")

// Tracker owns the node's recovery position.
type Tracker struct {
	mu        sync.Mutex
	replicaID uint32
	vclock    Vclock
	logger    *zap.Logger
}

// NewTracker creates a tracker for the local replica id.
func NewTracker(replicaID uint32, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		replicaID: replicaID,
		vclock:    NewVclock(),
		logger:    logger.Named("recovery"),
	}
}

// ReplicaID returns the local replica id.
func (t *Tracker) ReplicaID() uint32 { return t.replicaID }

// FillLSN assigns the next local LSN to a row created on this node. A row that
// already carries a replica id came from elsewhere; the tracker follows its
// LSN instead.
func (t *Tracker) FillLSN(row *xrow.Header) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row.ReplicaID == 0 {
		row.ReplicaID = t.replicaID
		row.LSN = t.vclock.Inc(t.replicaID)
		return nil
	}
	return t.vclock.Follow(row.ReplicaID, row.LSN)
}

// Follow applies a row read back during recovery.
func (t *Tracker) Follow(row *xrow.Header) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.vclock.Follow(row.ReplicaID, row.LSN); err != nil {
		t.logger.Warn("Skipping row during recovery", zap.Uint32("replicaID", row.ReplicaID), zap.Int64("lsn", row.LSN), zap.Error(err))
		return err
	}
	return nil
}

// Signature is the vclock sum, used as a commit signature when no log writer
// is attached.
func (t *Tracker) Signature() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vclock.Sum()
}

// Vclock returns a copy of the current clock.
func (t *Tracker) Vclock() Vclock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vclock.Copy()
}
