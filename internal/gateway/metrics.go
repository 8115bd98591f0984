// ABOUTME: Prometheus metrics for conversations, posted activities, and relay sockets
// ABOUTME: Registered on a private registry so tests never collide

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ConversationsActive prometheus.Gauge
	ActivitiesPosted    prometheus.Counter
	WSConnectionsActive prometheus.Gauge
	PushesDropped       prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConversationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_conversations_active",
			Help: "Number of active conversations in the registry.",
		}),
		ActivitiesPosted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_activities_posted_total",
			Help: "Total activities posted into conversations.",
		}),
		WSConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_ws_connections_active",
			Help: "Number of live relay WebSocket connections.",
		}),
		PushesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_pushes_dropped_total",
			Help: "Total pushes dropped because no viewer socket was connected.",
		}),
	}
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
