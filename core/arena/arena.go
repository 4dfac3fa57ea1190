// Package arena provides region-style scratch memory owned by a single
// transaction. Memory is handed out from slabs and released all at once when
// the owner is done with it.
package arena

import (
	"errors"
	"sync"
)

// DefaultSlabSize is the size of a pooled slab.
const DefaultSlabSize = 16 * 1024

const alignment = 8

var ErrDestroyed = errors.New("arena already destroyed")

var slabPool = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultSlabSize)
		return &b
	},
}

// Arena is a bump allocator over a list of slabs. It is not safe for
// concurrent use; it belongs to exactly one transaction.
type Arena struct {
	slabSize  int
	slabs     []*[]byte
	cur       []byte // free tail of the current slab
	used      int
	destroyed bool
}

// New creates an arena. A non-positive slabSize selects DefaultSlabSize.
func New(slabSize int) *Arena {
	if slabSize <= 0 {
		slabSize = DefaultSlabSize
	}
	return &Arena{slabSize: slabSize}
}

// Alloc returns n zeroed bytes aligned to 8 bytes. Requests larger than the
// slab size get a dedicated slab.
func (a *Arena) Alloc(n int) []byte {
	if a.destroyed {
		panic(ErrDestroyed)
	}
	if n <= 0 {
		return nil
	}
	padded := (n + alignment - 1) &^ (alignment - 1)
	if padded > len(a.cur) {
		a.grow(padded)
	}
	b := a.cur[:n:n]
	a.cur = a.cur[padded:]
	a.used += padded
	clear(b)
	return b
}

// Copy duplicates b into arena memory.
func (a *Arena) Copy(b []byte) []byte {
	dst := a.Alloc(len(b))
	copy(dst, b)
	return dst
}

func (a *Arena) grow(min int) {
	var slab *[]byte
	if a.slabSize == DefaultSlabSize && min <= DefaultSlabSize {
		slab = slabPool.Get().(*[]byte)
	} else {
		size := a.slabSize
		if min > size {
			size = min
		}
		b := make([]byte, size)
		slab = &b
	}
	a.slabs = append(a.slabs, slab)
	a.cur = *slab
}

// Used reports the number of bytes handed out, including alignment padding.
func (a *Arena) Used() int {
	return a.used
}

// Destroyed reports whether Destroy has been called.
func (a *Arena) Destroyed() bool {
	return a.destroyed
}

// Destroy releases every slab. Calling it twice is a bug in the owner and
// panics.
func (a *Arena) Destroy() {
	if a.destroyed {
		panic(ErrDestroyed)
	}
	a.destroyed = true
	for _, slab := range a.slabs {
		if len(*slab) == DefaultSlabSize {
			slabPool.Put(slab)
		}
	}
	a.slabs = nil
	a.cur = nil
	a.used = 0
}
