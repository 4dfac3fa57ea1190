package transaction

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCommitWaitsForLogWriter(t *testing.T) {
	m, tracker, _ := newTestManager(t)
	writer := newFakeWriter()
	m.SetLogWriter(writer)
	var trace []string
	engine := newFakeEngine("memtx", &trace)
	space := newSpace(1, "s", engine, false)
	f := newTestFiber()

	txn, err := m.Begin(f, false)
	require.NoError(t, err)
	require.NoError(t, exec(t, m, f, space, "a"))
	require.NoError(t, exec(t, m, f, space, "b"))
	require.NoError(t, m.Commit(txn))

	require.Equal(t, 1, f.awaits)
	require.Zero(t, f.reschedules)
	require.Len(t, writer.requests, 1)
	require.Len(t, writer.requests[0].Rows, 2)
	require.Equal(t, []int64{2}, engine.signatures)
	require.Equal(t, int64(2), tracker.Signature())
	require.Equal(t, StateCommitted, txn.State())
}

func TestLogWriteFailureRollsBack(t *testing.T) {
	m, _, fatal := newTestManager(t)
	writer := newFakeWriter()
	writer.err = errors.New("disk full")
	m.SetLogWriter(writer)
	var trace []string
	engine := newFakeEngine("memtx", &trace)
	space := newSpace(1, "s", engine, false)
	f := newTestFiber()

	txn, err := m.Begin(f, false)
	require.NoError(t, err)
	rolledBack := false
	txn.OnRollback("flag", func(*Txn) error {
		rolledBack = true
		return nil
	})
	txn.OnCommit("never", func(*Txn) error {
		t.Fatal("on_commit must not run")
		return nil
	})
	require.NoError(t, exec(t, m, f, space, "a"))

	err = m.Commit(txn)
	require.ErrorIs(t, err, ErrWALIO)
	require.ErrorContains(t, err, "disk full")

	require.True(t, rolledBack)
	require.Equal(t, StateRolledBack, txn.State())
	require.Equal(t, "memtx.rollback", trace[len(trace)-1])
	require.NotContains(t, trace, "memtx.commit")
	require.Empty(t, engine.signatures)
	require.Nil(t, txn.arena)
	require.Nil(t, InTxn(f))
	require.Equal(t, 1, f.reschedules, "fiber must yield after a failed write")
	require.Empty(t, fatal.messages)

	// The transaction is gone; rolling back again changes nothing.
	m.Rollback(txn)
	require.Equal(t, "memtx.rollback", trace[len(trace)-1])
	require.Equal(t, 1, countOf(trace, "memtx.rollback"))
}

func TestLogRowsFollowStatementOrder(t *testing.T) {
	m, _, _ := newTestManager(t)
	writer := newFakeWriter()
	m.SetLogWriter(writer)
	var trace []string
	durable := newSpace(7, "durable", newFakeEngine("memtx", &trace), false)
	temp := newSpace(8, "temp", durable.Handler.Engine(), true)
	f := newTestFiber()

	txn, err := m.Begin(f, false)
	require.NoError(t, err)
	var want []string
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("key-%d", i)
		if i%3 == 1 {
			require.NoError(t, exec(t, m, f, temp, key))
			continue
		}
		require.NoError(t, exec(t, m, f, durable, key))
		want = append(want, key)
	}
	require.NoError(t, m.Commit(txn))

	require.Len(t, writer.requests, 1)
	rows := writer.requests[0].Rows
	require.Len(t, rows, len(want))
	var prevLSN int64
	for i, row := range rows {
		require.Equal(t, uint32(1), row.ReplicaID)
		require.Greater(t, row.LSN, prevLSN)
		prevLSN = row.LSN
		require.Equal(t, rows[0].Tm, row.Tm)

		req, err := xrow.DecodeRequest(row)
		require.NoError(t, err)
		require.Equal(t, uint32(7), req.SpaceID)
		require.Equal(t, want[i], string(req.Key))
	}
}

func TestTransactionWithoutRowsSkipsLog(t *testing.T) {
	m, _, _ := newTestManager(t)
	writer := newFakeWriter()
	m.SetLogWriter(writer)
	var trace []string
	engine := newFakeEngine("memtx", &trace)
	temp := newSpace(1, "temp", engine, true)
	f := newTestFiber()

	txn, err := m.Begin(f, false)
	require.NoError(t, err)
	require.NoError(t, exec(t, m, f, temp, "a"))
	require.NoError(t, m.Commit(txn))

	require.Empty(t, writer.requests)
	require.Zero(t, f.awaits)
	require.Equal(t, []int64{-1}, engine.signatures)
}

func TestDetachedWriterUsesRecoveryPosition(t *testing.T) {
	m, tracker, _ := newTestManager(t)
	writer := newFakeWriter()
	m.SetLogWriter(writer)
	m.SetLogWriter(nil)
	require.Nil(t, m.LogWriter())

	var trace []string
	engine := newFakeEngine("memtx", &trace)
	space := newSpace(1, "s", engine, false)
	f := newTestFiber()

	for i := 0; i < 3; i++ {
		require.NoError(t, exec(t, m, f, space, fmt.Sprint(i)))
	}
	require.Empty(t, writer.requests)
	require.Equal(t, []int64{1, 2, 3}, engine.signatures)
	require.Equal(t, int64(3), tracker.Vclock().Get(1))
}

func TestLSNOrderViolationRollsBack(t *testing.T) {
	m, tracker, _ := newTestManager(t)
	var trace []string
	space := newSpace(1, "s", newFakeEngine("memtx", &trace), false)
	f := newTestFiber()

	require.NoError(t, tracker.Follow(&xrow.Header{ReplicaID: 2, LSN: 10}))
	txn, _, err := m.BeginStatement(f, space)
	require.NoError(t, err)
	err = m.CommitStatement(txn, &xrow.Request{Type: xrow.TypeInsert, Header: &xrow.Header{ReplicaID: 2, LSN: 10}})
	require.ErrorIs(t, err, ErrWALIO)
	require.ErrorIs(t, err, recovery.ErrLSNOrder)
	require.Equal(t, StateRolledBack, txn.State())
}

func TestSlowLogWriteWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tracker := recovery.NewTracker(1, zap.NewNop())
	base := time.Unix(1700000000, 0)
	ticks := 0
	clock := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
	m := NewManager(DefaultConfig(), tracker, zap.New(core), WithClock(clock))
	m.SetLogWriter(newFakeWriter())
	var trace []string
	space := newSpace(1, "s", newFakeEngine("memtx", &trace), false)
	f := newTestFiber()

	require.NoError(t, exec(t, m, f, space, "a"))
	require.NoError(t, exec(t, m, f, space, "b"))

	warnings := logs.FilterMessage("Too long WAL write")
	require.Equal(t, 2, warnings.Len(), "every slow write warns")
	fields := warnings.All()[0].ContextMap()
	require.Equal(t, time.Second, fields["elapsed"])
	require.Equal(t, int64(1), fields["rows"])
}

func countOf(trace []string, call string) int {
	n := 0
	for _, c := range trace {
		if c == call {
			n++
		}
	}
	return n
}
