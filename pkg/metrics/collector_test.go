package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func readGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	return testutil.ToFloat64(g)
}

func newTestAdapter(t *testing.T) *storage.SQLiteAdapter {
	t.Helper()
	a, err := storage.OpenSQLiteAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCollectorSetsConnectedGauge(t *testing.T) {
	a := newTestAdapter(t)
	connected := false
	c := NewCollector(a, func() bool { return connected })

	c.collect()
	require.Equal(t, float64(0), readGauge(t, SyncConnected))

	connected = true
	c.collect()
	require.Equal(t, float64(1), readGauge(t, SyncConnected))
}

func TestCollectorSetsBucketAndQueueGauges(t *testing.T) {
	a := newTestAdapter(t)
	c := NewCollector(a, func() bool { return false })

	c.collect()
	require.Equal(t, float64(0), readGauge(t, BucketsTotal))
	require.Equal(t, float64(0), readGauge(t, CRUDQueueDepth))
}

func TestCollectorStartStopDoesNotPanic(t *testing.T) {
	a := newTestAdapter(t)
	c := NewCollector(a, func() bool { return true })
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
