package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Aleqsd/ferretptimize/internal/config"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/eta"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/httpapi"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/resultrouter"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/worker"
	"github.com/Aleqsd/ferretptimize/internal/domain/expert"
	"github.com/Aleqsd/ferretptimize/internal/middleware"
	"github.com/Aleqsd/ferretptimize/internal/pkg/authstore"
	"github.com/Aleqsd/ferretptimize/internal/pkg/database"
	fpjwt "github.com/Aleqsd/ferretptimize/internal/pkg/jwt"
	"github.com/Aleqsd/ferretptimize/internal/pkg/logger"
	"github.com/Aleqsd/ferretptimize/internal/pkg/progress"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
	"github.com/Aleqsd/ferretptimize/internal/router"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	log.Info().Str("env", cfg.Env).Str("host", cfg.Host).Str("port", cfg.Port).
		Int("workers", cfg.Workers).Int("queueSize", cfg.QueueSize).
		Msg("Starting ferretptimize")

	// The AuthStore collaborator degrades gracefully without Postgres/
	// Redis: lookups miss rather than panic (see authstore.Store), so a
	// missing backing store only disables subscription-based Expert
	// access rather than the whole process.
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to PostgreSQL - Expert auth gate will run without subscription lookups")
		db = nil
	} else {
		defer database.ClosePostgres(db)
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis - running without subscription cache")
		redisClient = nil
	} else {
		defer database.CloseRedis(redisClient)
	}

	jwtService := fpjwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	authStore := authstore.New(db, redisClient, jwtService)

	encoder.StartupVips()
	defer encoder.ShutdownVips()

	if err := os.MkdirAll(filepath.Dir(cfg.ETALogPath), 0755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.ETALogPath).Msg("Failed to create ETA log directory")
	}
	etaModel, err := eta.Load(cfg.ETALogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ETALogPath).Msg("Failed to load ETA sample log")
	}
	defer etaModel.Close()

	jobQueue := queue.New[*compress.Job](cfg.QueueSize)
	resultQueue := queue.New[*compress.Result](cfg.QueueSize)
	progressRegistry := progress.NewRegistry(cfg.ProgressCapacity)

	resultRouter := resultrouter.New(2 * time.Minute)
	go resultRouter.Pump(resultQueue)
	go resultRouter.Reap(30 * time.Second)
	defer resultRouter.Stop()

	pool := worker.NewPool(jobQueue, resultQueue, etaModel, log.Logger)
	pool.Start(cfg.Workers)
	defer pool.Stop()

	compressHandler := httpapi.NewHandler(jobQueue, progressRegistry, resultRouter, log.Logger)
	quotaTable := expert.NewQuotaTable()
	expertHandler := expert.NewHandler(jobQueue, resultRouter, authStore, quotaTable, cfg.ExpertAPIKeys, log.Logger)

	handler := router.New(cfg, compressHandler, expertHandler, log.Logger)

	server := &http.Server{
		Addr: cfg.Host + ":" + cfg.Port,
		// Handler: no WriteTimeout. The SSE endpoint streams until its
		// progress channel closes, which can outlast any fixed
		// per-request deadline on a large image; the compress/expert
		// handlers bound their own waits (resultWait) instead.
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       120 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Slightly above the 64 KiB block the HeaderLimit middleware
		// enforces with a 400; the stdlib's own check answers 431 and
		// counts bytes differently, so it only backstops pathological
		// inputs the middleware never sees.
		MaxHeaderBytes: middleware.MaxHeaderBlockBytes + 4*1024,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
