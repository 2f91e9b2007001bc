package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpEntityExists, 10*time.Millisecond)
	c.RecordTiming(OpEntityExists, 30*time.Millisecond)
	c.RecordFailure(OpEntityExists, 20*time.Millisecond)

	snap := c.Snapshot()
	op := snap.Operations[OpEntityExists]
	require.NotNil(t, op)
	assert.Equal(t, int64(3), op.Count)
	assert.Equal(t, int64(1), op.Failures)
	assert.Equal(t, int64(60), op.TotalTimeMs)
	assert.Equal(t, int64(10), op.MinTimeMs)
	assert.Equal(t, int64(30), op.MaxTimeMs)
	assert.InDelta(t, 20.0, op.AvgTimeMs, 0.001)

	assert.Nil(t, snap.Operations[OpDispatch], "unused operations are omitted")
	assert.Equal(t, []string{OpEntityExists}, snap.OperationNames())
}

func TestRecordVerdictAndDispatch(t *testing.T) {
	c := NewCollector()
	c.RecordVerdict(true, 3)
	c.RecordVerdict(false, 0)
	c.RecordDispatch(5, 1)

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.BatchesAccepted)
	assert.Equal(t, int64(1), snap.BatchesRejected)
	assert.Equal(t, int64(3), snap.OwnershipGrants)
	assert.Equal(t, int64(5), snap.RecordsDispatched)
	assert.Equal(t, int64(1), snap.RecordsFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.batches.WithLabelValues("accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.grants))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(OpUpload, time.Second)
		c.RecordFailure(OpUpload, time.Second)
		c.RecordVerdict(true, 1)
		c.RecordDispatch(1, 0)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpDispatch, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `datahub_gate_operation_duration_seconds_count{op="dispatch"} 1`)
}
