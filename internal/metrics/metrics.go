// Package metrics holds the Prometheus collectors for the hangouts relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Delivery label values
const (
	DeliveryOnline  = "online"
	DeliveryOffline = "offline"
	DeliveryError   = "error"
)

// PubSub label values
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	DirectionPublished = "published"
	DirectionReceived  = "received"
	DirectionDropped   = "dropped"
)

var (
	// HangoutActions counts relay commands.
	// Labels:
	//   - action: INVITE, ACCEPT, DECLINE, BLOCK, UNBLOCK, MESSAGE
	//   - outcome: "ok", "rejected" (state or validation), "error" (storage)
	HangoutActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangouts_actions_total",
			Help: "Total number of hangout actions processed",
		},
		[]string{"action", "outcome"},
	)

	// PeerDeliveries counts peer messages by whether a live connection took them.
	PeerDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangouts_peer_deliveries_total",
			Help: "Total number of peer messages by delivery result",
		},
		[]string{"result"},
	)

	// WSConnections is the number of open WebSocket connections on this instance.
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hangouts_ws_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	// PubSubMessages counts fan-out traffic. "received" and "dropped" only
	// apply to Redis, where messages arrive from other instances.
	PubSubMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangouts_pubsub_messages_total",
			Help: "Total number of pub/sub messages by backend and direction",
		},
		[]string{"backend", "direction"},
	)

	// HTTPRequests counts REST requests by mux pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangouts_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration measures request latency by mux pattern.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hangouts_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// DBQueryDuration measures Postgres round trips by statement verb.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hangouts_db_query_duration_seconds",
			Help:    "Duration of Postgres queries in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"operation", "outcome"},
	)

	// ActionDuration measures Dispatch latency including both store writes.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hangouts_action_duration_seconds",
			Help:    "Duration of hangout actions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"action"},
	)
)
