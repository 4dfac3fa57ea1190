package transaction

import (
	"context"
	"fmt"

	"github.com/sushant-115/gojotxn/core/write_engine/wal"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap"
)

// writeToWAL makes the transaction's rows durable and returns the commit
// signature. This is the only place a commit yields, and it yields f, the
// committing fiber, which is not the owner when a coordinator commits.
//
// On failure the transaction is rolled back, and f goes to the back
// of the ready queue before the error is returned, so rollbacks of other
// transactions failed by the same write are processed before any new
// statement runs.
func (m *Manager) writeToWAL(ctx context.Context, f Fiber, txn *Txn) (int64, error) {
	rows := make([]*xrow.Header, 0, txn.nRows)
	tm := float64(m.now().UnixNano()) / 1e9
	for _, stmt := range txn.stmts {
		if stmt.Row == nil {
			continue
		}
		// LSNs advance even without a writer so snapshots keep working.
		if err := m.tracker.FillLSN(stmt.Row); err != nil {
			return -1, m.cascadingRollback(ctx, f, txn, err)
		}
		stmt.Row.Tm = tm
		rows = append(rows, stmt.Row)
	}
	if len(rows) != txn.nRows {
		return -1, m.cascadingRollback(ctx, f, txn,
			fmt.Errorf("transaction holds %d rows, counted %d", len(rows), txn.nRows))
	}

	start := m.now()
	var (
		signature int64
		err       error
	)
	if writer := m.LogWriter(); writer == nil {
		signature = m.tracker.Signature()
	} else {
		req := wal.NewRequest(rows)
		txn.writing = true
		writer.Submit(req)
		f.Await(req.Done())
		txn.writing = false
		signature, err = req.Result()
	}

	elapsed := m.now().Sub(start)
	m.metrics.WalWriteHistogram.Record(ctx, elapsed.Seconds())
	if elapsed > m.cfg.TooLongThreshold {
		m.logger.Warn("Too long WAL write",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", m.cfg.TooLongThreshold),
			zap.Int("rows", len(rows)))
	}
	if err != nil {
		return -1, m.cascadingRollback(ctx, f, txn, err)
	}
	return signature, nil
}

func (m *Manager) cascadingRollback(ctx context.Context, f Fiber, txn *Txn, cause error) error {
	m.metrics.WalFailuresCounter.Add(ctx, 1)
	m.logger.Error("WAL write failed, rolling back transaction",
		zap.Stringer("txn", txn.ID), zap.Int("rows", txn.nRows), zap.Error(cause))
	m.Rollback(txn)
	f.Reschedule()
	return fmt.Errorf("%w: %w", ErrWALIO, cause)
}
