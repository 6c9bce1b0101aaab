// Package metrics provides Prometheus instrumentation for the TravelBuddy
// chat daemon. It exposes gauges for connection counts, counters for message
// throughput, and histograms for relay latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "travelbuddy_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// EventsTotal counts chat events processed by the daemon, labeled by
	// type ("chat", "typing", "delete", "delete_all") and outcome
	// ("relayed", "blocked", "dropped").
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "travelbuddy_events_total",
		Help: "Total number of chat events processed",
	}, []string{"type", "outcome"})

	// RelayLatency records the time from receiving a user publish to
	// completing the fan-out broadcast.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "travelbuddy_relay_latency_seconds",
		Help:    "Chat event relay latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// OnlineUsers tracks the presence count per group.
	OnlineUsers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "travelbuddy_online_users",
		Help: "Current number of online users per group",
	}, []string{"group"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsTotal,
		RelayLatency,
		OnlineUsers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
