package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/OfficialDeepSwap/A2A/internal/api"
	"github.com/OfficialDeepSwap/A2A/internal/api/middleware"
	"github.com/OfficialDeepSwap/A2A/internal/config"
	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	logger = logger.Level(cfg.LogLevel)

	ctx := context.Background()

	// Open the durable store: Postgres when configured, SQLite otherwise.
	var db store.DataStore
	switch {
	case cfg.DatabaseURL != "":
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "" || cfg.IsDevelopment():
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		db = sqliteStore
		logger.Info().Msg("opened SQLite database")
	default:
		logger.Warn().Msg("no database configured, ledger state lives in memory only")
	}
	if db != nil {
		defer db.Close()
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if db != nil {
		opts = append(opts, ledger.WithPersister(db))
	}
	if redisStore != nil {
		opts = append(opts, ledger.WithNotifier(redisStore))
	}
	l := ledger.New(opts...)

	if db != nil {
		snap, err := db.Load(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load ledger")
		}
		if err := l.Restore(snap); err != nil {
			logger.Fatal().Err(err).Msg("failed to restore ledger")
		}
		stats := l.Stats()
		logger.Info().
			Int("agents", stats.Agents).
			Uint64("messages", stats.Messages).
			Int("threads", stats.Threads).
			Msg("ledger restored")
	}

	// Create router
	router := api.NewRouter(logger, l, db, redisStore, api.Options{
		AuthWindow:      cfg.AuthWindow,
		MaxContentBytes: cfg.MaxContentBytes,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting A2A server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
