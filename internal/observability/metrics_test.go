package observability

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.TradesClassified.WithLabelValues("suspicious", "SELF_TRADE").Inc()
	m.TradesClassified.WithLabelValues("suspicious", "SELF_TRADE").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "test_detection_trades_classified_total" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
	}
	assert.True(t, found, "classified counter not gathered")
}

func TestHandler(t *testing.T) {
	RecordEventReceived("test")
	RecordSinkCall("webhook", 0.01, errors.New("boom"))
	SetStreamConnected(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "xrpl_wash_monitor_ingestion_events_received_total")
	assert.Contains(t, body, `xrpl_wash_monitor_dispatch_sink_calls_total{sink="webhook",status="error"}`)
	assert.Contains(t, body, "xrpl_wash_monitor_stream_connected 1")
}
