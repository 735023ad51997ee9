package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scenyx_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room core
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scenyx_active_connections",
			Help: "Connections currently joined to a room",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scenyx_active_rooms",
			Help: "Rooms currently held in memory",
		},
	)

	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_handshakes_total",
			Help: "Connection handshakes by outcome",
		},
		[]string{"outcome"}, // joined, token_missing, token_invalid, forbidden, not_found, error
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_events_broadcast_total",
			Help: "Events fanned out to rooms",
		},
		[]string{"type"},
	)

	SlowConsumerDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scenyx_slow_consumer_drops_total",
			Help: "Connections closed because their outbound queue was full",
		},
	)

	CommandsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_commands_rejected_total",
			Help: "Inbound frames answered with an error event",
		},
		[]string{"kind"},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scenyx_messages_posted_total",
			Help: "Total chat messages persisted",
		},
	)

	PlaybackChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_playback_changes_total",
			Help: "Applied playback commands",
		},
		[]string{"action"},
	)
)
