package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSyncLocalTotalTracksOutcomeLabels(t *testing.T) {
	before := testutil.ToFloat64(SyncLocalTotal.WithLabelValues("applied"))
	SyncLocalTotal.WithLabelValues("applied").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(SyncLocalTotal.WithLabelValues("applied")))
}

func TestControlOpsTotalTracksOpAndOutcome(t *testing.T) {
	before := testutil.ToFloat64(ControlOpsTotal.WithLabelValues("start", "ok"))
	ControlOpsTotal.WithLabelValues("start", "ok").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(ControlOpsTotal.WithLabelValues("start", "ok")))
}

func TestOplogEntriesAppliedTotalIsMonotonic(t *testing.T) {
	before := testutil.ToFloat64(OplogEntriesAppliedTotal)
	OplogEntriesAppliedTotal.Add(3)
	require.Equal(t, before+3, testutil.ToFloat64(OplogEntriesAppliedTotal))
}
