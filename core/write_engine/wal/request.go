package wal

import (
	"sync"

	"github.com/sushant-115/gojotxn/core/xrow"
)

// Request is one transaction's batch of rows submitted for a durable write.
// Done is closed exactly once, when the writer has resolved the request.
type Request struct {
	Rows []*xrow.Header

	once      sync.Once
	done      chan struct{}
	signature int64
	err       error
}

// NewRequest wraps rows, which must already carry their LSNs, in statement
// order.
func NewRequest(rows []*xrow.Header) *Request {
	return &Request{Rows: rows, done: make(chan struct{})}
}

// Done is closed when the request is resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Complete resolves the request. Only the first call has any effect.
func (r *Request) Complete(signature int64, err error) {
	r.once.Do(func() {
		r.signature = signature
		r.err = err
		close(r.done)
	})
}

// Result returns the signature of the write, or the error that failed it.
// It must only be called after Done is closed.
func (r *Request) Result() (int64, error) {
	return r.signature, r.err
}
