package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nairamint/nexus-core/metric"
)

// Metrics holds Prometheus metrics for the relay server
type Metrics struct {
	connectionsTotal   prometheus.Counter
	clientsConnected   prometheus.Gauge
	disconnectionTotal *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	deliveriesTotal    prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers relay metrics. Returns nil when no
// registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),

		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),

		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),

		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to WebSocket clients",
		}, []string{"type"}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Total control messages received from clients",
		}, []string{"type"}),

		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast a message to all clients",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total individual message deliveries to clients",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Relay server errors",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.connectionsTotal,
		metrics.clientsConnected,
		metrics.disconnectionTotal,
		metrics.messagesSent,
		metrics.messagesReceived,
		metrics.broadcastDuration,
		metrics.deliveriesTotal,
		metrics.errorsTotal,
	)

	return metrics
}
