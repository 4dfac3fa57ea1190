// Package recovery tracks the log position of this node: the vector clock of
// LSNs seen per replica, from which new LSNs and transaction signatures are
// derived.
package recovery

import (
	"fmt"
	"sort"
	"strings"
)

// Vclock maps a replica id to the last LSN applied from that replica.
type Vclock struct {
	lsn map[uint32]int64
}

// NewVclock returns an empty vector clock.
func NewVclock() Vclock {
	return Vclock{lsn: make(map[uint32]int64)}
}

// Get returns the last LSN seen from replicaID, 0 if none.
func (v Vclock) Get(replicaID uint32) int64 {
	return v.lsn[replicaID]
}

// Inc advances the component of replicaID by one and returns the new LSN.
func (v Vclock) Inc(replicaID uint32) int64 {
	v.lsn[replicaID]++
	return v.lsn[replicaID]
}

// Follow moves the component of replicaID to lsn. LSNs of a replica must
// grow strictly.
func (v Vclock) Follow(replicaID uint32, lsn int64) error {
	if prev := v.lsn[replicaID]; lsn <= prev {
		return fmt.Errorf("%w: replica %d LSN %d after %d", ErrLSNOrder, replicaID, lsn, prev)
	}
	v.lsn[replicaID] = lsn
	return nil
}

// Sum is the signature of the clock: the total number of rows applied.
func (v Vclock) Sum() int64 {
	var sum int64
	for _, lsn := range v.lsn {
		sum += lsn
	}
	return sum
}

// Copy returns an independent clone.
func (v Vclock) Copy() Vclock {
	c := NewVclock()
	for id, lsn := range v.lsn {
		c.lsn[id] = lsn
	}
	return c
}

func (v Vclock) String() string {
	ids := make([]uint32, 0, len(v.lsn))
	for id := range v.lsn {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d: %d", id, v.lsn[id]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
