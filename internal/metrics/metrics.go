package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thesis_messaging_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Messaging
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thesis_messaging_messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_messages_rejected_total",
			Help: "Messages rejected before persistence",
		},
		[]string{"reason"}, // "validation", "rate_limit", "not_found"
	)

	ConversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thesis_messaging_conversations_started_total",
			Help: "Conversations created",
		},
	)

	// Fan-out
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_events_delivered_total",
			Help: "Channel events written to endpoint buffers",
		},
		[]string{"type"},
	)

	EventsUndelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_events_undelivered_total",
			Help: "Channel events addressed to users with no local endpoint",
		},
		[]string{"type"},
	)

	ActiveEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thesis_messaging_active_endpoints",
			Help: "Endpoints currently joined in the room registry",
		},
	)

	WebSocketConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_websocket_connections_total",
			Help: "WebSocket connection lifecycle events",
		},
		[]string{"event"}, // "opened", "closed", "slow_consumer"
	)

	// Notifications
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_notifications_published_total",
			Help: "Notifications accepted for delivery",
		},
		[]string{"source"}, // "http", "kafka"
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thesis_messaging_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"},
	)

	// Infrastructure
	BroadcastPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thesis_messaging_broadcast_publish_errors_total",
			Help: "Failed cross-node publications",
		},
	)
)
