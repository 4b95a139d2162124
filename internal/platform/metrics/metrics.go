package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labstack/echo/v4"
)

var (
	// Gateway metrics
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carelink_ws_connections_active",
			Help: "Number of websocket connections currently open",
		},
	)

	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_ws_events_received_total",
			Help: "Total number of inbound websocket events by type",
		},
		[]string{"event"},
	)

	eventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_ws_events_rejected_total",
			Help: "Total number of inbound events rejected before dispatch",
		},
		[]string{"reason"},
	)

	relayMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_relay_offline_total",
			Help: "Total number of relays that found the target offline",
		},
		[]string{"event"},
	)

	callsByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_call_transitions_total",
			Help: "Total number of call status transitions persisted",
		},
		[]string{"status"},
	)
)

// ConnectionOpened increments the live connection gauge.
func ConnectionOpened() { connectionsActive.Inc() }

// ConnectionClosed decrements the live connection gauge.
func ConnectionClosed() { connectionsActive.Dec() }

// EventReceived counts an inbound event by name.
func EventReceived(event string) { eventsReceived.WithLabelValues(event).Inc() }

// EventRejected counts an event that failed validation or authorization.
func EventRejected(reason string) { eventsRejected.WithLabelValues(reason).Inc() }

// RelayMiss counts a relay whose target had no presence entry.
func RelayMiss(event string) { relayMisses.WithLabelValues(event).Inc() }

// CallTransition counts a persisted call status transition.
func CallTransition(status string) { callsByStatus.WithLabelValues(status).Inc() }

// RegisterRoutes exposes the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
