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

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.CallScheduled("order_reminder")
	m.CallScheduled("order_reminder")
	m.Webhook("unmatched")
	m.Job("completed", 200*time.Millisecond)
	m.SweptCalls(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsScheduled.WithLabelValues("order_reminder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhooks.WithLabelValues("unmatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Jobs.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Swept))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.CallScheduled("manual")
	m.Compensation(false)
	m.SetQueueDepth(1, 2, 3, 4)
	require.NotNil(t, m.Handler())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetQueueDepth(1, 0, 0, 2)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `ivr_queue_jobs{state="failed"} 2`))
}
