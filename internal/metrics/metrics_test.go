// ABOUTME: Tests for the Prometheus collectors
// ABOUTME: Checks counters through the registry and that a nil Metrics is inert

package metrics

import (
	"errors"
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

	m.Request("slash_command", http.StatusOK)
	m.Request("slash_command", http.StatusOK)
	m.Job("analyze_channel_sentiment", time.Second, nil)
	m.Job("analyze_channel_sentiment", time.Second, errors.New("boom"))
	m.Vendor("llm", "complete", 10*time.Millisecond, nil)
	m.BreakerOpen("llm", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("slash_command", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("analyze_channel_sentiment", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("analyze_channel_sentiment", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.vendorCalls.WithLabelValues("llm", "complete", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerOpen.WithLabelValues("llm")))

	m.BreakerOpen("llm", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerOpen.WithLabelValues("llm")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Vendor("slack", "chat.postMessage", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "slack_pulse_vendor_calls_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestMetrics_NilIsInert(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Request("x", http.StatusOK)
		m.Job("x", time.Second, nil)
		m.Vendor("x", "y", time.Second, nil)
		m.BreakerOpen("x", true)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
