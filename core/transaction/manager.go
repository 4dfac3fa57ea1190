// Package transaction turns statements against storage engines into atomic,
// durable transactions.
//
// A transaction is bound to the fiber that started it. Statements nest up to
// SubStmtMax levels deep, all statements of a transaction go to one engine,
// and a commit is final only once its rows are in the write-ahead log.
// Everything except the log write runs without yielding the fiber.
package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/gojotxn/core/arena"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/xrow"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Config holds the transaction manager settings.
type Config struct {
	// TooLongThreshold is the log write duration above which a warning is
	// logged.
	TooLongThreshold time.Duration `yaml:"too_long_threshold"`
	// ArenaSlabSize is the slab size of transaction arenas.
	ArenaSlabSize int `yaml:"arena_slab_size"`
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		TooLongThreshold: 500 * time.Millisecond,
		ArenaSlabSize:    arena.DefaultSlabSize,
	}
}

// FatalFunc handles a failure the process can not recover from.
type FatalFunc func(msg string, err error)

// Option customizes a Manager.
type Option func(*Manager)

// WithFatalHandler replaces the default handler, which logs at fatal level
// and exits.
func WithFatalHandler(fn FatalFunc) Option {
	return func(m *Manager) { m.fatal = fn }
}

// WithMetrics records transaction metrics into m.
func WithMetrics(metrics *internaltelemetry.TxnMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer traces commits with t.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type twoPhaseKey struct {
	txID          uint64
	coordinatorID uint32
}

// Manager runs the transaction lifecycle. Per-transaction state is only
// touched by the fiber holding the scheduler's worker and needs no locking.
type Manager struct {
	cfg       Config
	logger    *zap.Logger
	tracker   *recovery.Tracker
	metrics   *internaltelemetry.TxnMetrics
	tracer    trace.Tracer
	fatal     FatalFunc
	now       func() time.Time

	mu       sync.Mutex // protects writer and twoPhase
	writer   LogWriter
	twoPhase map[twoPhaseKey]*Txn
}

// NewManager creates a manager without a log writer attached.
func NewManager(cfg Config, tracker *recovery.Tracker, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		logger:    logger.Named("txn"),
		tracker:   tracker,
		now:       time.Now,
		twoPhase:  make(map[twoPhaseKey]*Txn),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = internaltelemetry.NewNoopTxnMetrics()
	}
	if m.tracer == nil {
		m.tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if m.fatal == nil {
		m.fatal = func(msg string, err error) { m.logger.Fatal(msg, zap.Error(err)) }
	}
	return m
}

// SetLogWriter attaches the log writer. nil detaches it: commits then take
// their signature from the recovery position without writing, as while
// replaying the log at startup or when running without a log.
func (m *Manager) SetLogWriter(w LogWriter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writer = w
}

// LogWriter returns the attached writer, or nil.
func (m *Manager) LogWriter() LogWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writer
}

func (m *Manager) newTxn(f Fiber, autocommit bool) *Txn {
	txn := &Txn{
		ID:            uuid.New(),
		TxID:          xrow.NoTxID,
		CoordinatorID: xrow.NoCoordinatorID,
		autocommit:    autocommit,
		state:         StateActive,
		arena:         arena.New(m.cfg.ArenaSlabSize),
		fiber:         f,
		started:       m.now(),
	}
	f.SetValue(txnKey{}, txn)
	ctx := context.Background()
	m.metrics.BegunCounter.Add(ctx, 1)
	m.metrics.ActiveTxnsUpDownCount.Add(ctx, 1)
	return txn
}

// Begin starts a transaction in f.
func (m *Manager) Begin(f Fiber, autocommit bool) (*Txn, error) {
	if InTxn(f) != nil {
		return nil, ErrActiveTransaction
	}
	txn := m.newTxn(f, autocommit)
	m.logger.Debug("Transaction started", zap.Stringer("txn", txn.ID), zap.Bool("autocommit", autocommit))
	return txn, nil
}

// BeginTwoPhase starts a transaction driven by an external coordinator. The
// coordinator can find it again with Lookup.
func (m *Manager) BeginTwoPhase(f Fiber, txID uint64, coordinatorID uint32) (*Txn, error) {
	if InTxn(f) != nil {
		return nil, ErrActiveTransaction
	}
	key := twoPhaseKey{txID: txID, coordinatorID: coordinatorID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.twoPhase[key]; exists {
		return nil, fmt.Errorf("%w: two-phase transaction %d of coordinator %d is in progress", ErrActiveTransaction, txID, coordinatorID)
	}
	txn := m.newTxn(f, false)
	txn.twoPhase = true
	txn.TxID = txID
	txn.CoordinatorID = coordinatorID
	m.twoPhase[key] = txn
	m.logger.Debug("Two-phase transaction started", zap.Stringer("txn", txn.ID), zap.Uint64("txID", txID), zap.Uint32("coordinatorID", coordinatorID))
	return txn, nil
}

// Lookup finds an in-progress two-phase transaction by its identity.
func (m *Manager) Lookup(txID uint64, coordinatorID uint32) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.twoPhase[twoPhaseKey{txID: txID, coordinatorID: coordinatorID}]
	return txn, ok
}

// PrepareTwoPhase records the local vote of a two-phase transaction. hdr
// carries the identity the coordinator addressed; nil skips the check.
// After it succeeds the transaction accepts no statements until it ends.
func (m *Manager) PrepareTwoPhase(txn *Txn, hdr *xrow.Header) error {
	if txn == nil || txn.state.Finished() {
		return ErrNoActiveTransaction
	}
	if txn.inPrepare {
		return ErrAlreadyPrepared
	}
	if !txn.twoPhase {
		return ErrNotTwoPhase
	}
	if hdr != nil && (hdr.TxID != txn.TxID || hdr.CoordinatorID != txn.CoordinatorID) {
		return fmt.Errorf("%w: got %d/%d, transaction is %d/%d", ErrIdentityMismatch,
			hdr.TxID, hdr.CoordinatorID, txn.TxID, txn.CoordinatorID)
	}
	if len(txn.open) > 0 {
		return ErrPrepareInSubStmt
	}
	txn.state = StatePreparing
	if txn.engine != nil {
		if err := txn.engine.PrepareTwoPhase(txn); err != nil {
			txn.state = StateActive
			return fmt.Errorf("engine %s failed to prepare: %w", txn.engine.Name(), err)
		}
	}
	txn.inPrepare = true
	txn.state = StatePrepared
	m.logger.Debug("Two-phase transaction prepared", zap.Stringer("txn", txn.ID), zap.Uint64("txID", txn.TxID))
	return nil
}

// CheckAutocommit fails for operations that can not run inside a
// multi-statement transaction.
func (m *Manager) CheckAutocommit(txn *Txn, where string) error {
	if txn != nil && !txn.autocommit {
		return fmt.Errorf("%w: %s does not support multi-statement transactions", ErrUnsupported, where)
	}
	return nil
}

// BeginStatement opens a statement against space in f's transaction,
// starting an autocommit transaction if f has none.
func (m *Manager) BeginStatement(f Fiber, space *Space) (*Txn, *Stmt, error) {
	txn := InTxn(f)
	created := false
	switch {
	case txn == nil:
		txn = m.newTxn(f, true)
		created = true
	case len(txn.open) >= SubStmtMax:
		return nil, nil, fmt.Errorf("%w: %d statements are open", ErrSubStmtMax, len(txn.open))
	case txn.inPrepare:
		return nil, nil, ErrChangePrepared
	}

	if err := m.bindEngine(txn, space); err != nil {
		if created {
			m.Rollback(txn)
		}
		return nil, nil, err
	}

	stmt := &Stmt{Space: space, txn: txn}
	txn.stmts = append(txn.stmts, stmt)
	txn.open = append(txn.open, stmt)
	if err := txn.engine.BeginStatement(txn, stmt); err != nil {
		txn.stmts = txn.stmts[:len(txn.stmts)-1]
		txn.open = txn.open[:len(txn.open)-1]
		if txn.autocommit && len(txn.open) == 0 {
			m.Rollback(txn)
		}
		return nil, nil, fmt.Errorf("engine %s failed to begin statement: %w", txn.engine.Name(), err)
	}
	return txn, stmt, nil
}

func (m *Manager) bindEngine(txn *Txn, space *Space) error {
	engine := space.Engine()
	if txn.engine == nil {
		txn.engine = engine
		if err := engine.Begin(txn); err != nil {
			txn.engine = nil
			return fmt.Errorf("engine %s failed to begin: %w", engine.Name(), err)
		}
		return nil
	}
	if txn.engine != engine {
		return fmt.Errorf("%w: transaction uses %s, space %q belongs to %s",
			ErrCrossEngine, txn.engine.Name(), space.Name, engine.Name())
	}
	return nil
}

// CommitStatement closes the innermost open statement. Rows of durable
// spaces are queued for the log; req is nil for reads. On-replace triggers
// of the space fire if the statement changed a tuple. If a trigger fails the
// statement stays open and the caller must roll it back. An autocommit
// transaction commits when its outermost statement closes.
func (m *Manager) CommitStatement(txn *Txn, req *xrow.Request) error {
	if txn == nil || txn.state.Finished() {
		return ErrNoActiveTransaction
	}
	if len(txn.open) == 0 {
		return ErrNoOpenStatement
	}
	stmt := txn.open[len(txn.open)-1]

	if !stmt.Space.Temporary && req != nil {
		row, err := m.newRedo(txn, req)
		if err != nil {
			return err
		}
		stmt.Row = row
		txn.nRows++
	}

	// Engines that leave Old and New unset never fire these triggers.
	if !stmt.Space.OnReplace.Empty() && stmt.Space.RunTriggers() && (stmt.Old != nil || stmt.New != nil) {
		if err := stmt.Space.OnReplace.Run(stmt); err != nil {
			// The statement stays open without its row, so a retry
			// queues it once.
			if stmt.Row != nil {
				stmt.Row = nil
				txn.nRows--
			}
			return fmt.Errorf("on_replace trigger of space %q: %w", stmt.Space.Name, err)
		}
		if txn.state.Finished() {
			return ErrTxnFinished
		}
	}

	txn.open = txn.open[:len(txn.open)-1]
	if txn.autocommit && len(txn.open) == 0 {
		return m.Commit(txn)
	}
	return nil
}

// newRedo builds the log row of a statement. A request that arrived with a
// row keeps it.
func (m *Manager) newRedo(txn *Txn, req *xrow.Request) (*xrow.Header, error) {
	if req.Header != nil {
		return req.Header, nil
	}
	body, err := req.EncodeBody()
	if err != nil {
		return nil, err
	}
	row := &xrow.Header{Type: req.Type, Body: txn.arena.Copy(body)}
	if txn.twoPhase {
		row.TxID = txn.TxID
		row.CoordinatorID = txn.CoordinatorID
	}
	return row, nil
}

// Commit ends the transaction from its own fiber. Once the rows are in the
// log, nothing can undo it: a failing on-commit trigger is fatal. Any
// earlier failure rolls the transaction back before the error is returned.
func (m *Manager) Commit(txn *Txn) error {
	if txn == nil {
		return nil
	}
	return m.CommitFrom(txn.fiber, txn)
}

// CommitFrom is Commit run by fiber f, which waits for the log write. A
// coordinator uses it to commit a two-phase transaction found with Lookup.
func (m *Manager) CommitFrom(f Fiber, txn *Txn) error {
	if txn == nil {
		return nil
	}
	if txn.state.Finished() {
		return ErrTxnFinished
	}
	if txn.writing {
		return ErrCommitInProgress
	}
	if len(txn.open) > 0 {
		return ErrCommitInSubStmt
	}
	if txn.twoPhase && !txn.inPrepare {
		return ErrCommitBeforePrepare
	}

	ctx, span := m.tracer.Start(context.Background(), "txn.commit", trace.WithAttributes(
		attribute.String("txn.id", txn.ID.String()),
		attribute.Int("txn.rows", txn.nRows),
		attribute.Bool("txn.two_phase", txn.twoPhase),
	))
	defer span.End()

	if txn.engine != nil {
		signature := int64(-1)
		if !txn.twoPhase {
			txn.state = StatePreparing
			if err := txn.engine.Prepare(txn); err != nil {
				m.Rollback(txn)
				span.RecordError(err)
				return fmt.Errorf("engine %s failed to prepare: %w", txn.engine.Name(), err)
			}
		}
		if txn.nRows > 0 {
			sig, err := m.writeToWAL(ctx, f, txn)
			if err != nil {
				span.RecordError(err)
				return err
			}
			signature = sig
		}

		txn.state = StateCommitting
		if txn.hasTriggers {
			if err := txn.onCommit.Run(txn); err != nil {
				m.fatal("on_commit trigger failed after the transaction became durable", err)
			}
		}
		txn.engine.Commit(txn, signature)
		span.SetAttributes(attribute.Int64("txn.signature", signature))
	}

	m.finish(txn, StateCommitted)
	return nil
}

// RollbackStatement undoes the innermost open statement of f's transaction,
// together with the statements nested in it. They stay in the transaction's
// list but no longer contribute rows. In an autocommit transaction the whole transaction rolls back.
func (m *Manager) RollbackStatement(f Fiber) {
	txn := InTxn(f)
	if txn == nil {
		return
	}
	if txn.autocommit {
		m.Rollback(txn)
		return
	}
	if len(txn.open) == 0 {
		return
	}
	stmt := txn.open[len(txn.open)-1]
	txn.open = txn.open[:len(txn.open)-1]
	txn.engine.RollbackStatement(txn, stmt)
	// Statements begun after stmt ran nested inside it and go with it.
	for i := len(txn.stmts) - 1; i >= 0; i-- {
		s := txn.stmts[i]
		if s.Row != nil {
			s.Row = nil
			txn.nRows--
		}
		if s == stmt {
			break
		}
	}
}

// Rollback ends the transaction discarding its effects. It is a no-op for a
// nil or finished transaction and for one whose rows are being written; the
// write decides its outcome. A failing on-rollback trigger is fatal.
func (m *Manager) Rollback(txn *Txn) {
	if txn == nil || txn.state.Finished() || txn.writing {
		return
	}
	if txn.hasTriggers {
		if err := txn.onRollback.Run(txn); err != nil {
			m.fatal("on_rollback trigger failed", err)
		}
	}
	if txn.engine != nil {
		txn.engine.Rollback(txn)
	}
	m.finish(txn, StateRolledBack)
}

// finish releases the transaction. It runs exactly once per transaction.
func (m *Manager) finish(txn *Txn, state State) {
	txn.arena.Destroy()
	txn.arena = nil
	txn.open = nil
	if InTxn(txn.fiber) == txn {
		txn.fiber.SetValue(txnKey{}, nil)
	}
	if txn.twoPhase {
		m.mu.Lock()
		key := twoPhaseKey{txID: txn.TxID, coordinatorID: txn.CoordinatorID}
		if m.twoPhase[key] == txn {
			delete(m.twoPhase, key)
		}
		m.mu.Unlock()
	}
	txn.state = state

	ctx := context.Background()
	m.metrics.ActiveTxnsUpDownCount.Add(ctx, -1)
	if state == StateCommitted {
		m.metrics.CommittedCounter.Add(ctx, 1)
	} else {
		m.metrics.RolledBackCounter.Add(ctx, 1)
	}
	m.logger.Debug("Transaction finished",
		zap.Stringer("txn", txn.ID),
		zap.Stringer("state", state),
		zap.Int("statements", len(txn.stmts)),
		zap.Int("rows", txn.nRows),
		zap.Duration("elapsed", m.now().Sub(txn.started)))
}
