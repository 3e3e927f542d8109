package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "giftline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giftline_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftline_messages_sent_total",
			Help: "Total message submissions by outcome",
		},
		[]string{"outcome"}, // "ok", "rejected" or "failed"
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "giftline_ws_connections_active",
			Help: "Currently registered WebSocket connections",
		},
	)

	RoomJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftline_room_joins_total",
			Help: "Room join requests by outcome",
		},
		[]string{"outcome"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftline_broadcast_deliveries_total",
			Help: "Broadcast pushes to individual connections by outcome",
		},
		[]string{"outcome"}, // "delivered" or "skipped"
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giftline_publish_failures_total",
			Help: "Room updates that could not be handed to the broadcaster",
		},
	)
)
