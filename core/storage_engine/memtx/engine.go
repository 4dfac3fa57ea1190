// Package memtx is an in-memory storage engine. Statements change the index
// in place and record the replaced and inserted tuples, which are restored on
// rollback.
package memtx

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// EngineName is the name memtx reports to the transaction manager.
const EngineName = "memtx"

// Engine owns the in-memory spaces.
type Engine struct {
	logger *zap.Logger

	mu            sync.Mutex // protects spaces, every index and lastSignature
	spaces        map[uint32]*space
	lastSignature int64
}

var _ transaction.Engine = (*Engine)(nil)

// New creates an engine without spaces.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:        logger.Named(EngineName),
		spaces:        make(map[uint32]*space),
		lastSignature: -1,
	}
}

// CreateSpace adds an empty space. Temporary spaces are not logged.
func (e *Engine) CreateSpace(id uint32, name string, temporary bool) (*transaction.Space, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.spaces[id]; exists {
		return nil, fmt.Errorf("memtx: space %d already exists", id)
	}
	s := &space{engine: e, name: name}
	e.spaces[id] = s
	e.logger.Info("Space created", zap.Uint32("id", id), zap.String("name", name), zap.Bool("temporary", temporary))
	return &transaction.Space{ID: id, Name: name, Temporary: temporary, Handler: s}, nil
}

// LastSignature returns the signature of the last commit that wrote rows,
// or -1.
func (e *Engine) LastSignature() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSignature
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Begin(txn *transaction.Txn) error { return nil }

// BeginStatement saves the position of stmt in the transaction so a
// statement rollback also undoes everything nested in it.
func (e *Engine) BeginStatement(txn *transaction.Txn, stmt *transaction.Stmt) error {
	stmt.EngineSavepoint = len(txn.Statements()) - 1
	return nil
}

func (e *Engine) Prepare(txn *transaction.Txn) error { return nil }

func (e *Engine) PrepareTwoPhase(txn *transaction.Txn) error { return nil }

// Commit has nothing to apply: changes are already in the index.
func (e *Engine) Commit(txn *transaction.Txn, signature int64) {
	if signature < 0 {
		return
	}
	e.mu.Lock()
	e.lastSignature = signature
	e.mu.Unlock()
}

func (e *Engine) Rollback(txn *transaction.Txn) {
	e.undo(txn.Statements())
}

func (e *Engine) RollbackStatement(txn *transaction.Txn, stmt *transaction.Stmt) {
	stmts := txn.Statements()
	savepoint, ok := stmt.EngineSavepoint.(int)
	if !ok || savepoint < 0 || savepoint >= len(stmts) {
		e.undo([]*transaction.Stmt{stmt})
		return
	}
	e.undo(stmts[savepoint:])
}

// undo restores the tuples of stmts, newest first. An undone statement
// forgets its tuples so it is never undone twice.
func (e *Engine) undo(stmts []*transaction.Stmt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(stmts) - 1; i >= 0; i-- {
		stmt := stmts[i]
		s, ok := stmt.Space.Handler.(*space)
		if !ok || (stmt.Old == nil && stmt.New == nil) {
			continue
		}
		if stmt.New != nil {
			s.index.Delete(stmt.New.Key)
		}
		if stmt.Old != nil {
			s.index.Set(stmt.Old.Key, stmt.Old.Data)
		}
		stmt.Old, stmt.New = nil, nil
	}
}

// space is the SpaceHandler of a memtx space.
type space struct {
	engine *Engine
	name   string
	index  btree.Map[string, []byte]
}

func (s *space) Engine() transaction.Engine { return s.engine }

func (s *space) Replace(txn *transaction.Txn, stmt *transaction.Stmt, tuple transaction.Tuple, mode transaction.DupMode) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	old, found := s.index.Get(tuple.Key)
	if found && mode == transaction.DupInsert {
		return fmt.Errorf("%w: key %q in space %q", transaction.ErrTupleFound, tuple.Key, s.name)
	}
	data := bytes.Clone(tuple.Data)
	s.index.Set(tuple.Key, data)
	if found {
		stmt.Old = &transaction.Tuple{Key: tuple.Key, Data: old}
	}
	stmt.New = &transaction.Tuple{Key: tuple.Key, Data: data}
	return nil
}

func (s *space) Delete(txn *transaction.Txn, stmt *transaction.Stmt, key string) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if old, found := s.index.Delete(key); found {
		stmt.Old = &transaction.Tuple{Key: key, Data: old}
	}
	return nil
}

func (s *space) Get(txn *transaction.Txn, key string) (*transaction.Tuple, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	data, found := s.index.Get(key)
	if !found {
		return nil, nil
	}
	return &transaction.Tuple{Key: key, Data: bytes.Clone(data)}, nil
}

func (s *space) Select(txn *transaction.Txn, from string, limit int) ([]transaction.Tuple, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	var out []transaction.Tuple
	s.index.Ascend(from, func(key string, data []byte) bool {
		out = append(out, transaction.Tuple{Key: key, Data: bytes.Clone(data)})
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

// Len returns the number of tuples in the space.
func (s *space) Len() int {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.index.Len()
}
