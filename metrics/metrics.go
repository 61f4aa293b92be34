// Package metrics exposes Prometheus instrumentation for the quiz-race
// server. Collectors are registered with the default registry and served
// by the HTTP listener at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quizrace_connections_active",
			Help: "Currently open client connections",
		},
		[]string{"transport"}, // "tcp" or "websocket"
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizrace_connections_rejected_total",
			Help: "Connections refused before a session was established",
		},
		[]string{"reason"}, // "ip_limit"
	)

	RateLimitDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizrace_rate_limit_disconnects_total",
			Help: "Connections force-closed for exceeding the message rate cap",
		},
	)

	// Traffic metrics
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizrace_envelopes_received_total",
			Help: "Envelopes received from clients",
		},
		[]string{"type"},
	)

	EnvelopesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizrace_envelopes_dropped_total",
			Help: "Inbound frames dropped as malformed",
		},
	)

	// Room metrics
	RoomsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizrace_rooms_open",
			Help: "Rooms currently registered",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizrace_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	GamesFinished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizrace_games_finished_total",
			Help: "Games in which every racer reached the finish line",
		},
	)
)
