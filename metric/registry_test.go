package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "test",
		Name:      "events_total",
		Help:      "Test counter",
	})

	require.NoError(t, registry.RegisterCounter("relay", "events_total", counter))

	// Same component/metric pair is rejected
	err := registry.RegisterCounter("relay", "events_total", counter)
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "test",
		Name:      "connections",
		Help:      "Test gauge",
	})

	require.NoError(t, registry.RegisterGauge("relay", "connections", gauge))
	assert.True(t, registry.Unregister("relay", "connections"))
	assert.False(t, registry.Unregister("relay", "connections"))

	// Re-registration succeeds after unregister
	require.NoError(t, registry.RegisterGauge("relay", "connections", gauge))
}

func TestHandlerServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "broadcasts_total",
		Help:      "Test counter",
	})
	require.NoError(t, registry.RegisterCounter("relay", "broadcasts_total", counter))
	counter.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "nexus_broadcasts_total")
}
