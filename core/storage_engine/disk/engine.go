// Package disk is a storage engine backed by a bolt database. Statements
// only build a per-transaction write set; the set is applied in one bolt
// transaction at commit. Committed tuples are cached with ristretto.
//
// The engine does not produce old and new tuple images, so on-replace
// triggers never fire for its spaces.
package disk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/tidwall/btree"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EngineName is the name the disk engine reports to the transaction manager.
const EngineName = "disk"

var (
	metaBucket   = []byte("_meta")
	signatureKey = []byte("signature")
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("disk: engine is closed")

// Config holds the disk engine settings.
type Config struct {
	// Path is the bolt database file.
	Path string `yaml:"path"`
	// CacheSize bounds the read cache in bytes. 0 disables the cache.
	CacheSize int64 `yaml:"cache_size"`
}

// DefaultConfig returns the disk engine defaults.
func DefaultConfig() Config {
	return Config{
		Path:      "data/disk.db",
		CacheSize: 64 << 20,
	}
}

// Engine owns the disk spaces.
type Engine struct {
	logger *zap.Logger
	db     *bolt.DB
	cache  *ristretto.Cache[string, []byte]

	mu     sync.Mutex // protects spaces and closed
	spaces map[uint32]*space
	closed bool
}

var _ transaction.Engine = (*Engine)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(EngineName)
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("disk: failed to create directory for %s: %w", cfg.Path, err)
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("disk: failed to open %s: %w", cfg.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		return nil, multierr.Append(fmt.Errorf("disk: failed to initialize %s: %w", cfg.Path, err), db.Close())
	}

	e := &Engine{
		logger: logger,
		db:     db,
		spaces: make(map[uint32]*space),
	}
	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			// Roughly ten counters per item of 1KiB.
			NumCounters: max(cfg.CacheSize/100, 1000),
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("disk: failed to create cache: %w", err), db.Close())
		}
		e.cache = cache
	}
	logger.Info("Disk engine opened", zap.String("path", cfg.Path), zap.Int64("cacheSize", cfg.CacheSize))
	return e, nil
}

// Close flushes and closes the database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.cache != nil {
		e.cache.Close()
	}
	return e.db.Close()
}

// CreateSpace opens the space stored under id, creating it if missing.
func (e *Engine) CreateSpace(id uint32, name string, temporary bool) (*transaction.Space, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, exists := e.spaces[id]; exists {
		return nil, fmt.Errorf("disk: space %d already exists", id)
	}
	s := &space{engine: e, id: id, name: name, bucket: []byte("space:" + strconv.FormatUint(uint64(id), 10))}
	if err := e.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("disk: failed to create space %d: %w", id, err)
	}
	e.spaces[id] = s
	e.logger.Info("Space created", zap.Uint32("id", id), zap.String("name", name), zap.Bool("temporary", temporary))
	return &transaction.Space{ID: id, Name: name, Temporary: temporary, Handler: s}, nil
}

// LastSignature returns the signature stored by the last commit that wrote
// rows, or -1.
func (e *Engine) LastSignature() (int64, error) {
	signature := int64(-1)
	err := e.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(signatureKey); len(v) == 8 {
			signature = int64(binary.LittleEndian.Uint64(v))
		}
		return nil
	})
	return signature, err
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Begin(txn *transaction.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	txn.EngineTx = &writeSet{}
	return nil
}

// BeginStatement saves the write set length. Rolling the statement back
// truncates the set, dropping nested statements as well.
func (e *Engine) BeginStatement(txn *transaction.Txn, stmt *transaction.Stmt) error {
	stmt.EngineSavepoint = len(writeSetOf(txn).ops)
	return nil
}

func (e *Engine) Prepare(txn *transaction.Txn) error {
	return e.checkOpen()
}

func (e *Engine) PrepareTwoPhase(txn *transaction.Txn) error {
	return e.checkOpen()
}

// Commit applies the write set. The outcome is already decided, so a bolt
// failure here is logged rather than returned.
func (e *Engine) Commit(txn *transaction.Txn, signature int64) {
	ws := writeSetOf(txn)
	txn.EngineTx = nil
	if len(ws.ops) == 0 && signature < 0 {
		return
	}
	err := e.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ws.ops {
			b := tx.Bucket(op.space.bucket)
			var err error
			if op.delete {
				err = b.Delete([]byte(op.key))
			} else {
				err = b.Put([]byte(op.key), op.data)
			}
			if err != nil {
				return fmt.Errorf("space %d key %q: %w", op.space.id, op.key, err)
			}
		}
		if signature < 0 {
			return nil
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(signature))
		return tx.Bucket(metaBucket).Put(signatureKey, buf[:])
	})
	if err != nil {
		e.logger.Error("Failed to apply committed write set",
			zap.Stringer("txn", txn.ID), zap.Int64("signature", signature), zap.Error(err))
	}
	if e.cache != nil {
		for _, op := range ws.ops {
			e.cache.Del(op.space.cacheKey(op.key))
		}
	}
}

func (e *Engine) Rollback(txn *transaction.Txn) {
	txn.EngineTx = nil
}

func (e *Engine) RollbackStatement(txn *transaction.Txn, stmt *transaction.Stmt) {
	ws := writeSetOf(txn)
	if savepoint, ok := stmt.EngineSavepoint.(int); ok && savepoint <= len(ws.ops) {
		ws.ops = ws.ops[:savepoint]
	}
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

type writeOp struct {
	space  *space
	key    string
	data   []byte
	delete bool
}

// writeSet is the engine state of a transaction.
type writeSet struct {
	ops []writeOp
}

func writeSetOf(txn *transaction.Txn) *writeSet {
	if txn == nil {
		return &writeSet{}
	}
	if ws, ok := txn.EngineTx.(*writeSet); ok {
		return ws
	}
	return &writeSet{}
}

// lookup returns the latest pending write of key in s.
func (ws *writeSet) lookup(s *space, key string) (writeOp, bool) {
	for i := len(ws.ops) - 1; i >= 0; i-- {
		if op := ws.ops[i]; op.space == s && op.key == key {
			return op, true
		}
	}
	return writeOp{}, false
}

// space is the SpaceHandler of a disk space.
type space struct {
	engine *Engine
	id     uint32
	name   string
	bucket []byte
}

func (s *space) cacheKey(key string) string {
	return string(s.bucket) + "/" + key
}

func (s *space) Engine() transaction.Engine { return s.engine }

func (s *space) Replace(txn *transaction.Txn, stmt *transaction.Stmt, tuple transaction.Tuple, mode transaction.DupMode) error {
	if mode == transaction.DupInsert {
		existing, err := s.Get(txn, tuple.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: key %q in space %q", transaction.ErrTupleFound, tuple.Key, s.name)
		}
	}
	ws := writeSetOf(txn)
	ws.ops = append(ws.ops, writeOp{space: s, key: tuple.Key, data: bytes.Clone(tuple.Data)})
	return nil
}

func (s *space) Delete(txn *transaction.Txn, stmt *transaction.Stmt, key string) error {
	ws := writeSetOf(txn)
	ws.ops = append(ws.ops, writeOp{space: s, key: key, delete: true})
	return nil
}

// Get reads through the transaction's pending writes, then the cache, then
// the database.
func (s *space) Get(txn *transaction.Txn, key string) (*transaction.Tuple, error) {
	if op, ok := writeSetOf(txn).lookup(s, key); ok {
		if op.delete {
			return nil, nil
		}
		return &transaction.Tuple{Key: key, Data: bytes.Clone(op.data)}, nil
	}
	cache := s.engine.cache
	if cache != nil {
		if data, ok := cache.Get(s.cacheKey(key)); ok {
			return &transaction.Tuple{Key: key, Data: bytes.Clone(data)}, nil
		}
	}
	var data []byte
	err := s.engine.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(s.bucket).Get([]byte(key)); v != nil {
			data = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("disk: failed to read key %q of space %q: %w", key, s.name, err)
	}
	if data == nil {
		return nil, nil
	}
	if cache != nil {
		cache.Set(s.cacheKey(key), data, int64(len(key)+len(data)))
	}
	return &transaction.Tuple{Key: key, Data: bytes.Clone(data)}, nil
}

func (s *space) Select(txn *transaction.Txn, from string, limit int) ([]transaction.Tuple, error) {
	var merged btree.Map[string, []byte]
	err := s.engine.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.Seek([]byte(from)); k != nil; k, v = c.Next() {
			merged.Set(string(k), bytes.Clone(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("disk: failed to scan space %q: %w", s.name, err)
	}
	for _, op := range writeSetOf(txn).ops {
		if op.space != s || op.key < from {
			continue
		}
		if op.delete {
			merged.Delete(op.key)
		} else {
			merged.Set(op.key, bytes.Clone(op.data))
		}
	}
	var out []transaction.Tuple
	merged.Scan(func(key string, data []byte) bool {
		out = append(out, transaction.Tuple{Key: key, Data: data})
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}
