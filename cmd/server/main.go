package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/medquizpro/session-engine/internal/cache"
	"github.com/medquizpro/session-engine/internal/config"
	"github.com/medquizpro/session-engine/internal/database"
	"github.com/medquizpro/session-engine/internal/engine"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/handler"
	"github.com/medquizpro/session-engine/internal/logger"
	"github.com/medquizpro/session-engine/internal/remote"
	"github.com/medquizpro/session-engine/internal/repository"
	"github.com/medquizpro/session-engine/internal/router"
	"github.com/medquizpro/session-engine/internal/service"
	"github.com/medquizpro/session-engine/internal/supervisor"
	"github.com/medquizpro/session-engine/internal/syncqueue"
	"github.com/medquizpro/session-engine/internal/validator"
	"github.com/medquizpro/session-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting MedQuiz Session Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Fault Taxonomy ────────────────────────────────────────────────
	sanitizer := faults.NewSanitizer(cfg.SanitizerKey)
	storageTracker := faults.NewTracker(cfg.ErrorRingCapacity, sanitizer, log)
	processTracker := faults.NewTracker(cfg.ErrorRingCapacity, sanitizer, log)

	// ─── Snapshot Cache ────────────────────────────────────────────────
	// Redis is the durable layer; the fallback store keeps sessions alive
	// in memory when Redis misbehaves.
	redisStore := cache.NewRedisStore(rdb, cfg.SnapshotRetention)
	store := cache.NewFallbackStore(redisStore, storageTracker, log)

	// ─── Remote Clients ────────────────────────────────────────────────
	tokens := remote.StaticToken(cfg.RemoteAPIToken)
	apiClient := remote.NewClient(cfg.RemoteAPIBaseURL, tokens, cfg.RemoteAttemptTimeout, log)
	questionClient := remote.NewQuestionClient(cfg.QuestionProviderURL, tokens, cfg.RemoteAttemptTimeout, log)

	// ─── Archive Pipeline ──────────────────────────────────────────────
	archiveRepo := repository.NewArchiveRepository(pool)
	archiveQueue := worker.NewArchiveQueue(rdb, log)
	archiveWorker := worker.NewArchiveWorker(archiveRepo, rdb, log)

	// ─── Session Engine ────────────────────────────────────────────────
	manager := engine.NewManager(store, apiClient, questionClient, archiveQueue, sanitizer, engine.Options{
		TickInterval:      cfg.TickInterval,
		FinalizationGrace: cfg.FinalizationGrace,
		ErrorRingCapacity: cfg.ErrorRingCapacity,
		Queue: syncqueue.Config{
			BackoffBase:  cfg.SyncBackoffBase,
			BackoffCap:   cfg.SyncBackoffCap,
			RetryCeiling: cfg.SyncRetryCeiling,
		},
	}, log)

	sup := supervisor.New(processTracker, cfg.SupervisorRestarts, 200*time.Millisecond, log)

	// ─── Services ──────────────────────────────────────────────────────
	authService := service.NewAuthService(cfg)

	// ─── Handlers ──────────────────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(manager, sup),
		WS:      handler.NewWSHandler(manager, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(rdb, manager, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go archiveWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Flush live sessions: each controller takes a final snapshot and
	//    flushes its sync queue best-effort.
	manager.CloseAll(shutdownCtx)

	// 3. Stop the archive worker and wait for the queue to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow the worker to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
