package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap/zaptest"
)

func TestTracker_FillLSNIsMonotonic(t *testing.T) {
	tr := NewTracker(1, zaptest.NewLogger(t))

	for want := int64(1); want <= 3; want++ {
		row := &xrow.Header{Type: xrow.TypeInsert}
		require.NoError(t, tr.FillLSN(row))
		require.Equal(t, uint32(1), row.ReplicaID)
		require.Equal(t, want, row.LSN)
	}
	require.Equal(t, int64(3), tr.Signature())
}

func TestTracker_FollowsForeignRows(t *testing.T) {
	tr := NewTracker(1, zaptest.NewLogger(t))

	row := &xrow.Header{ReplicaID: 2, LSN: 10}
	require.NoError(t, tr.FillLSN(row))
	require.Equal(t, int64(10), row.LSN)
	require.Equal(t, int64(10), tr.Signature())

	stale := &xrow.Header{ReplicaID: 2, LSN: 10}
	require.ErrorIs(t, tr.FillLSN(stale), ErrLSNOrder)
	require.ErrorIs(t, tr.Follow(stale), ErrLSNOrder)

	local := &xrow.Header{}
	require.NoError(t, tr.FillLSN(local))
	require.Equal(t, int64(1), local.LSN)
	require.Equal(t, int64(11), tr.Signature())
	require.Equal(t, "{1: 1, 2: 10}", tr.Vclock().String())
}

func TestVclock_CopyIsIndependent(t *testing.T) {
	v := NewVclock()
	v.Inc(1)
	c := v.Copy()
	c.Inc(1)
	require.Equal(t, int64(1), v.Get(1))
	require.Equal(t, int64(2), c.Get(1))
}
