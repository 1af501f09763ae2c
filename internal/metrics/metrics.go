package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "a2a_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Ledger metrics
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_ledger_operations_total",
			Help: "Ledger operations by outcome",
		},
		[]string{"op", "result"}, // result is "ok" or an error kind
	)

	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_messages_sent_total",
			Help: "Total messages routed",
		},
		[]string{"type"},
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_messages_read_total",
			Help: "Total messages marked as read",
		},
	)

	MessagesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_messages_expired_total",
			Help: "Total messages swept to expired",
		},
	)

	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_threads_created_total",
			Help: "Total two-party threads created",
		},
	)

	ReputationAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_reputation_adjustments_total",
			Help: "Total reputation adjustments",
		},
		[]string{"direction"}, // "up" or "down"
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_search_queries_total",
			Help: "Total capability search queries",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a2a_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "a2a_store_latency_seconds",
			Help:    "Ledger store write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"backend"}, // "postgres" or "sqlite"
	)
)
