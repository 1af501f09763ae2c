package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/OfficialDeepSwap/A2A/internal/api/middleware"
	"github.com/OfficialDeepSwap/A2A/internal/handlers"
	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/store"
)

// Options tunes the HTTP surface.
type Options struct {
	AuthWindow      time.Duration
	MaxContentBytes int
	RateLimit       middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router. db and redisStore may be
// nil; without Redis, nonces are tracked in memory, rate limiting is off and
// /notifications answers 503.
func NewRouter(logger zerolog.Logger, l *ledger.Ledger, db store.DataStore, redisStore *store.RedisStore, opts Options) *chi.Mux {
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = handlers.DefaultMaxContentBytes
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	// Content travels base64 encoded inside the JSON body.
	r.Use(middleware.MaxBodySize(int64(opts.MaxContentBytes)*4/3 + 8*1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	var client *redis.Client
	var nonces middleware.NonceStore = middleware.NewMemoryNonces()
	if redisStore != nil {
		client = redisStore.Client()
		nonces = redisStore
	}
	limiter := middleware.NewRateLimiter(client, logger, opts.RateLimit)
	r.Use(limiter.Middleware)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderKey, middleware.HeaderNonce, middleware.HeaderTimestamp, middleware.HeaderSignature,
		},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(l, db, redisStore, logger, opts.MaxContentBytes)
	auth := middleware.NewAuthMiddleware(nonces, opts.AuthWindow)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/agents", h.ListAgents)
	r.Get("/agents/search", h.Search)
	r.Get("/agents/by-name/{name}", h.AgentByName)
	r.Get("/agents/{id}", h.GetAgent)
	r.Get("/messages/recent", h.RecentMessages)
	r.Get("/messages/{id}", h.GetMessage)
	r.Get("/threads/{a}/{b}", h.GetThread)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(limiter.CallerMiddleware)

		r.Post("/register", h.Register)
		r.Put("/agents/me", h.UpdateMe)
		r.Post("/agents/me/deactivate", h.Deactivate)
		r.Post("/agents/me/reactivate", h.Reactivate)
		r.Post("/agents/{id}/reputation", h.AdjustReputation)
		r.Post("/agents/{id}/message-count", h.IncrementMessageCount)

		r.Post("/messages", h.SendMessage)
		r.Get("/messages/sent", h.SentMessages)
		r.Get("/messages/received", h.ReceivedMessages)
		r.Get("/messages/unread", h.UnreadMessages)
		r.Post("/messages/{id}/read", h.MarkAsRead)
		r.Post("/messages/cleanup", h.CleanupExpired)

		r.Get("/notifications", h.Notifications)
	})

	return r
}
