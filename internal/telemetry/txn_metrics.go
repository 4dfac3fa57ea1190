package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// TxnMetrics holds the metric instruments of the transaction manager.
type TxnMetrics struct {
	BegunCounter          metric.Int64Counter
	CommittedCounter      metric.Int64Counter
	RolledBackCounter     metric.Int64Counter
	WalFailuresCounter    metric.Int64Counter
	WalWriteHistogram     metric.Float64Histogram
	ActiveTxnsUpDownCount metric.Int64UpDownCounter
}

// NewTxnMetrics creates and registers the transaction manager metrics.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	begunCounter, err := meter.Int64Counter(
		"gojotxn.txn.begun_total",
		metric.WithDescription("Total number of transactions started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	committedCounter, err := meter.Int64Counter(
		"gojotxn.txn.committed_total",
		metric.WithDescription("Total number of transactions committed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rolledBackCounter, err := meter.Int64Counter(
		"gojotxn.txn.rolled_back_total",
		metric.WithDescription("Total number of transactions rolled back."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	walFailuresCounter, err := meter.Int64Counter(
		"gojotxn.wal.write_failures_total",
		metric.WithDescription("Total number of failed WAL writes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	walWriteHistogram, err := meter.Float64Histogram(
		"gojotxn.wal.write_duration",
		metric.WithDescription("Time a transaction waited for its WAL write."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeTxns, err := meter.Int64UpDownCounter(
		"gojotxn.txn.active",
		metric.WithDescription("Number of transactions in progress."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		BegunCounter:          begunCounter,
		CommittedCounter:      committedCounter,
		RolledBackCounter:     rolledBackCounter,
		WalFailuresCounter:    walFailuresCounter,
		WalWriteHistogram:     walWriteHistogram,
		ActiveTxnsUpDownCount: activeTxns,
	}, nil
}

// NewNoopTxnMetrics returns instruments that record nothing.
func NewNoopTxnMetrics() *TxnMetrics {
	m, _ := NewTxnMetrics(noop.NewMeterProvider().Meter(""))
	return m
}
