package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

func setupWriter(t *testing.T, limit int64) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Fsync = false
	if limit > 0 {
		cfg.SegmentSizeLimit = limit
	}
	w, err := NewWriter(cfg, recovery.NewVclock(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return w, dir
}

func newRows(replicaID uint32, firstLSN int64, n int) []*xrow.Header {
	rows := make([]*xrow.Header, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, &xrow.Header{
			Type:      xrow.TypeReplace,
			ReplicaID: replicaID,
			LSN:       firstLSN + int64(i),
			Tm:        float64(time.Now().UnixNano()) / 1e9,
			Body:      []byte(fmt.Sprintf("row %d", firstLSN+int64(i))),
		})
	}
	return rows
}

func submitAndWait(t *testing.T, w *Writer, rows []*xrow.Header) (int64, error) {
	t.Helper()
	req := NewRequest(rows)
	w.Submit(req)
	select {
	case <-req.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("wal request was never resolved")
	}
	return req.Result()
}

func scanAll(t *testing.T, dir string) []*xrow.Header {
	t.Helper()
	var rows []*xrow.Header
	require.NoError(t, Scan(dir, zaptest.NewLogger(t), func(h *xrow.Header) error {
		rows = append(rows, h)
		return nil
	}))
	return rows
}

// --- Test Cases ---

func TestWriter_SignatureIsVclockSum(t *testing.T) {
	w, dir := setupWriter(t, 0)

	sig, err := submitAndWait(t, w, newRows(1, 1, 3))
	require.NoError(t, err)
	require.Equal(t, int64(3), sig)

	sig, err = submitAndWait(t, w, newRows(1, 4, 2))
	require.NoError(t, err)
	require.Equal(t, int64(5), sig)

	require.NoError(t, w.Close())

	rows := scanAll(t, dir)
	require.Len(t, rows, 5)
	for i, row := range rows {
		require.Equal(t, int64(i+1), row.LSN, "rows must come back in write order")
		require.Equal(t, []byte(fmt.Sprintf("row %d", i+1)), row.Body)
	}
}

func TestWriter_RollsSegments(t *testing.T) {
	w, dir := setupWriter(t, 64)

	for lsn := int64(1); lsn <= 4; lsn++ {
		_, err := submitAndWait(t, w, newRows(1, lsn, 1))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	segments, err := listSegments(dir)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)
	require.Len(t, scanAll(t, dir), 4)
}

func TestWriter_FailureFailsRequestAndLeavesNoRows(t *testing.T) {
	w, dir := setupWriter(t, 0)

	_, err := submitAndWait(t, w, newRows(1, 1, 1))
	require.NoError(t, err)

	injected := errors.New("disk on fire")
	w.errinj = func() error { return injected }
	_, err = submitAndWait(t, w, newRows(1, 2, 2))
	require.ErrorIs(t, err, ErrIO)
	require.Contains(t, err.Error(), "disk on fire")

	// The failed rows never advanced the clock, so the same LSNs are valid.
	w.errinj = nil
	sig, err := submitAndWait(t, w, newRows(1, 2, 1))
	require.NoError(t, err)
	require.Equal(t, int64(2), sig)
	require.NoError(t, w.Close())

	rows := scanAll(t, dir)
	require.Len(t, rows, 2)
	require.Equal(t, int64(2), rows[1].LSN)
	require.Equal(t, []byte("row 2"), rows[1].Body)
}

func TestWriter_SubmitAfterClose(t *testing.T) {
	w, _ := setupWriter(t, 0)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := submitAndWait(t, w, newRows(1, 1, 1))
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestWriter_ReopenContinuesInNewSegment(t *testing.T) {
	w, dir := setupWriter(t, 0)
	_, err := submitAndWait(t, w, newRows(1, 1, 2))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	tracker := recovery.NewTracker(1, zaptest.NewLogger(t))
	require.NoError(t, Scan(dir, zaptest.NewLogger(t), tracker.Follow))
	require.Equal(t, int64(2), tracker.Signature())

	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Fsync = false
	w2, err := NewWriter(cfg, tracker.Vclock(), zaptest.NewLogger(t))
	require.NoError(t, err)
	sig, err := submitAndWait(t, w2, newRows(1, 3, 1))
	require.NoError(t, err)
	require.Equal(t, int64(3), sig)
	require.NoError(t, w2.Close())

	_, err = os.Stat(filepath.Join(dir, "log_00002.log"))
	require.NoError(t, err)
	require.Len(t, scanAll(t, dir), 3)
}

func TestScan_MissingDirIsEmpty(t *testing.T) {
	require.Empty(t, scanAll(t, filepath.Join(t.TempDir(), "absent")))
}
