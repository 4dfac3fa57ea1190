package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestTxnMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewTxnMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.BegunCounter.Add(ctx, 2)
	m.CommittedCounter.Add(ctx, 1)
	m.WalWriteHistogram.Record(ctx, 0.25)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names[metric.Name] = true
	}
	require.True(t, names["gojotxn.txn.begun_total"])
	require.True(t, names["gojotxn.txn.committed_total"])
	require.True(t, names["gojotxn.wal.write_duration"])
}

func TestNewNoopTxnMetrics(t *testing.T) {
	m := NewNoopTxnMetrics()
	require.NotNil(t, m)
	m.RolledBackCounter.Add(context.Background(), 1)
}
