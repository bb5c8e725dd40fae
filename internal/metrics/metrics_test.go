package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector("diary")

	c.RecordSweep(false, 20*time.Millisecond)
	c.RecordSweep(true, 0)
	c.RecordEntry("diary", "create", "synced")
	c.RecordEntry("diary", "create", "synced")
	c.SetQueue(4, 1)
	c.RecordConflicts(2)
	c.SetOnline(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sweeps.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sweeps.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Entries.WithLabelValues("diary", "create", "synced")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.QueuePending))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.QueueFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Online))
}

func TestCollector_nilSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordSweep(false, time.Second)
		c.RecordEntry("date", "update", "retry")
		c.SetQueue(1, 1)
		c.RecordRemote("create", 0, time.Millisecond)
		c.SetOnline(false)
		c.RecordHTTP("GET", "/api/health", 200, time.Millisecond)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("diary")
	c.RecordRemote("create", 201, 5*time.Millisecond)
	c.RecordRemote("create", 0, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `diary_remote_requests_total{operation="create",status="201"} 1`))
	assert.True(t, strings.Contains(body, `diary_remote_requests_total{operation="create",status="error"} 1`))
}

func TestNewCollector_independentRegistries(t *testing.T) {
	a := NewCollector("diary")
	b := NewCollector("diary")

	a.SetQueue(3, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.QueuePending))
}
