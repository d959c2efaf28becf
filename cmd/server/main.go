package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/backend"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/database"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/handler"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/logger"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/metrics"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/middleware"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/router"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/service"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/store"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/validator"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const purgeInterval = 10 * time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting assessment session host")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workersDone []<-chan struct{}

	// ─── Connect to Redis ──────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.StoreDriver == config.StoreDriverRedis || cfg.ReceiptsEnabled {
		var err error
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	// ─── Open SQLite Store ─────────────────────────────────────────────
	var sqliteDB *sql.DB
	if cfg.StoreDriver == config.StoreDriverSQLite {
		var err error
		sqliteDB, err = database.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite store")
		}
		defer sqliteDB.Close()
		workersDone = append(workersDone, runPurge(workerCtx, sqliteDB, log))
	}

	stores, err := service.NewStoreFactory(cfg, rdb, sqliteDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid store configuration")
	}

	// ─── Submission Receipts ───────────────────────────────────────────
	var receipts session.ReceiptSink
	if cfg.ReceiptsEnabled {
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		receipts = worker.NewReceiptQueue(rdb)
		receiptWorker := worker.NewReceiptWorker(worker.NewPostgresReceipts(pool), rdb, log)
		workersDone = append(workersDone, runWorker(func() { receiptWorker.Start(workerCtx) }))
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	client := backend.New(backend.Config{BaseURL: cfg.BackendBaseURL, Timeout: cfg.BackendTimeout})
	sessionService := service.NewSessionService(cfg, client, stores, receipts, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	limiter := middleware.NewRateLimiter(120, time.Minute)
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService),
		WS:      handler.NewWSHandler(sessionService, limiter, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg)

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

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Save open sessions and let running forced submissions finish.
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer sessionCancel()
	sessionService.Shutdown(sessionCtx)

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	for _, done := range workersDone {
		<-done
	}

	log.Info().Msg("Shutdown complete")
}

func runWorker(start func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		start()
	}()
	return done
}

// runPurge drops expired SQLite store rows. Redis expires keys itself.
func runPurge(ctx context.Context, db *sql.DB, log zerolog.Logger) <-chan struct{} {
	return runWorker(func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := store.Purge(ctx, db, now)
				if err != nil {
					log.Warn().Err(err).Msg("SQLite store purge failed")
					continue
				}
				if n > 0 {
					log.Debug().Int64("rows", n).Msg("Purged expired store rows")
				}
			}
		}
	})
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
