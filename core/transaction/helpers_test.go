package transaction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/write_engine/wal"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

// testFiber runs everything inline: Await blocks the test goroutine and
// Reschedule only counts.
type testFiber struct {
	values      map[any]any
	awaits      int
	reschedules int
}

func newTestFiber() *testFiber {
	return &testFiber{values: make(map[any]any)}
}

func (f *testFiber) Value(key any) any { return f.values[key] }

func (f *testFiber) SetValue(key, val any) {
	if val == nil {
		delete(f.values, key)
		return
	}
	f.values[key] = val
}

func (f *testFiber) Await(done <-chan struct{}) {
	f.awaits++
	<-done
}

func (f *testFiber) Reschedule() { f.reschedules++ }

// fakeEngine records every hook call into a shared trace.
type fakeEngine struct {
	name               string
	trace              *[]string
	beginErr           error
	beginStmtErr       error
	prepareErr         error
	prepareTwoPhaseErr error
	signatures         []int64
	rolledBackStmts    []*Stmt
}

func newFakeEngine(name string, trace *[]string) *fakeEngine {
	return &fakeEngine{name: name, trace: trace}
}

func (e *fakeEngine) record(call string) { *e.trace = append(*e.trace, e.name+"."+call) }

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) Begin(txn *Txn) error {
	e.record("begin")
	return e.beginErr
}

func (e *fakeEngine) BeginStatement(txn *Txn, stmt *Stmt) error {
	e.record("begin_statement")
	stmt.EngineSavepoint = len(txn.stmts)
	return e.beginStmtErr
}

func (e *fakeEngine) Prepare(txn *Txn) error {
	e.record("prepare")
	return e.prepareErr
}

func (e *fakeEngine) PrepareTwoPhase(txn *Txn) error {
	e.record("prepare_two_phase")
	return e.prepareTwoPhaseErr
}

func (e *fakeEngine) Commit(txn *Txn, signature int64) {
	e.record("commit")
	e.signatures = append(e.signatures, signature)
}

func (e *fakeEngine) Rollback(txn *Txn) { e.record("rollback") }

func (e *fakeEngine) RollbackStatement(txn *Txn, stmt *Stmt) {
	e.record("rollback_statement")
	e.rolledBackStmts = append(e.rolledBackStmts, stmt)
}

// fakeHandler sets Old/New like an engine that tracks tuple images.
type fakeHandler struct {
	engine Engine
}

func (h *fakeHandler) Engine() Engine { return h.engine }

func (h *fakeHandler) Replace(txn *Txn, stmt *Stmt, tuple Tuple, mode DupMode) error {
	stmt.New = &tuple
	return nil
}

func (h *fakeHandler) Delete(txn *Txn, stmt *Stmt, key string) error {
	stmt.Old = &Tuple{Key: key}
	return nil
}

func (h *fakeHandler) Get(txn *Txn, key string) (*Tuple, error) { return nil, nil }

func (h *fakeHandler) Select(txn *Txn, from string, limit int) ([]Tuple, error) { return nil, nil }

func newSpace(id uint32, name string, engine Engine, temporary bool) *Space {
	return &Space{ID: id, Name: name, Temporary: temporary, Handler: &fakeHandler{engine: engine}}
}

// fakeWriter resolves every request from another goroutine.
type fakeWriter struct {
	err      error
	vclock   recovery.Vclock
	requests []*wal.Request
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{vclock: recovery.NewVclock()}
}

func (w *fakeWriter) Submit(req *wal.Request) {
	w.requests = append(w.requests, req)
	if w.err != nil {
		go req.Complete(-1, w.err)
		return
	}
	for _, row := range req.Rows {
		_ = w.vclock.Follow(row.ReplicaID, row.LSN)
	}
	sig := w.vclock.Sum()
	go req.Complete(sig, nil)
}

// writerFunc adapts a function to LogWriter.
type writerFunc func(req *wal.Request)

func (fn writerFunc) Submit(req *wal.Request) { fn(req) }

type fatalRecorder struct {
	messages []string
}

func (r *fatalRecorder) handle(msg string, err error) {
	r.messages = append(r.messages, fmt.Sprintf("%s: %v", msg, err))
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *recovery.Tracker, *fatalRecorder) {
	t.Helper()
	tracker := recovery.NewTracker(1, zaptest.NewLogger(t))
	fatal := &fatalRecorder{}
	opts = append([]Option{WithFatalHandler(fatal.handle)}, opts...)
	return NewManager(DefaultConfig(), tracker, zaptest.NewLogger(t), opts...), tracker, fatal
}

// exec runs one write statement the way the DML layer does.
func exec(t *testing.T, m *Manager, f Fiber, space *Space, key string) error {
	t.Helper()
	txn, stmt, err := m.BeginStatement(f, space)
	if err != nil {
		return err
	}
	require.NoError(t, space.Handler.Replace(txn, stmt, Tuple{Key: key, Data: []byte("v")}, DupReplace))
	req := &xrow.Request{Type: xrow.TypeReplace, SpaceID: space.ID, Key: []byte(key), Tuple: []byte("v")}
	if err := m.CommitStatement(txn, req); err != nil {
		m.RollbackStatement(f)
		return err
	}
	return nil
}
