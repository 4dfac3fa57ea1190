package box

import (
	"fmt"

	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/sushant-115/gojotxn/core/xrow"
)

// statementFunc runs the body of a statement after it has been opened.
type statementFunc func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error

// execute runs one statement against spaceID. req is nil for reads. A
// failing statement is rolled back, which in autocommit mode ends the
// transaction.
func (b *Box) execute(f transaction.Fiber, spaceID uint32, req *xrow.Request, fn statementFunc) error {
	space, err := b.Space(spaceID)
	if err != nil {
		return diag(f, err)
	}
	txn, stmt, err := b.mgr.BeginStatement(f, space)
	if err != nil {
		return diag(f, err)
	}
	if err := fn(space, txn, stmt); err != nil {
		b.mgr.RollbackStatement(f)
		return diag(f, err)
	}
	if err := b.mgr.CommitStatement(txn, req); err != nil {
		// A failed commit has already ended the transaction; otherwise a
		// trigger failed and the statement is still open.
		if transaction.InTxn(f) == txn {
			b.mgr.RollbackStatement(f)
		}
		return diag(f, err)
	}
	return nil
}

// Insert adds a tuple, failing if the key exists.
func (b *Box) Insert(f transaction.Fiber, spaceID uint32, key string, data []byte) error {
	return b.write(f, spaceID, xrow.TypeInsert, key, data, transaction.DupInsert)
}

// Replace adds or overwrites a tuple.
func (b *Box) Replace(f transaction.Fiber, spaceID uint32, key string, data []byte) error {
	return b.write(f, spaceID, xrow.TypeReplace, key, data, transaction.DupReplace)
}

func (b *Box) write(f transaction.Fiber, spaceID uint32, typ xrow.RequestType, key string, data []byte, mode transaction.DupMode) error {
	req := &xrow.Request{Type: typ, SpaceID: spaceID, Key: []byte(key), Tuple: data}
	return b.execute(f, spaceID, req, func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error {
		return space.Handler.Replace(txn, stmt, transaction.Tuple{Key: key, Data: data}, mode)
	})
}

// Delete removes the tuple under key, if any.
func (b *Box) Delete(f transaction.Fiber, spaceID uint32, key string) error {
	req := &xrow.Request{Type: xrow.TypeDelete, SpaceID: spaceID, Key: []byte(key)}
	return b.execute(f, spaceID, req, func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error {
		return space.Handler.Delete(txn, stmt, key)
	})
}

// Get returns the tuple under key, or nil. The read joins f's transaction
// and binds it to the space's engine.
func (b *Box) Get(f transaction.Fiber, spaceID uint32, key string) (*transaction.Tuple, error) {
	var tuple *transaction.Tuple
	err := b.execute(f, spaceID, nil, func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error {
		var err error
		tuple, err = space.Handler.Get(txn, key)
		return err
	})
	return tuple, err
}

// Select returns up to limit tuples with keys >= from. A limit <= 0 means
// no limit.
func (b *Box) Select(f transaction.Fiber, spaceID uint32, from string, limit int) ([]transaction.Tuple, error) {
	var tuples []transaction.Tuple
	err := b.execute(f, spaceID, nil, func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error {
		var err error
		tuples, err = space.Handler.Select(txn, from, limit)
		return err
	})
	return tuples, err
}

// ApplyRow executes a row produced elsewhere, by a replica or an earlier
// run of this node. The row keeps its replica id and LSN. Inserts overwrite
// so that applying a row twice is harmless.
func (b *Box) ApplyRow(f transaction.Fiber, row *xrow.Header) error {
	req, err := xrow.DecodeRequest(row)
	if err != nil {
		return diag(f, err)
	}
	switch req.Type {
	case xrow.TypeInsert, xrow.TypeReplace:
		return b.execute(f, req.SpaceID, req, func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error {
			return space.Handler.Replace(txn, stmt, transaction.Tuple{Key: string(req.Key), Data: req.Tuple}, transaction.DupReplace)
		})
	case xrow.TypeDelete:
		return b.execute(f, req.SpaceID, req, func(space *transaction.Space, txn *transaction.Txn, stmt *transaction.Stmt) error {
			return space.Handler.Delete(txn, stmt, string(req.Key))
		})
	default:
		return diag(f, fmt.Errorf("%w: %s", ErrUnsupportedType, req.Type))
	}
}
