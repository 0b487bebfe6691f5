package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/audit"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
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
		Msg("Starting ExStem Proctor")

	proctorCfg, err := cfg.Proctor()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid proctoring configuration")
	}
	log.Info().
		Dur("short_grace", proctorCfg.ShortGrace).
		Dur("long_grace", proctorCfg.LongGrace).
		Dur("auto_submit_delay", proctorCfg.AutoSubmitDelay).
		Str("escalation_mode", string(proctorCfg.Mode)).
		Msg("Proctoring policy loaded")

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

	// ─── Audit Pipeline ────────────────────────────────────────────────
	sinks := audit.Fanout{audit.NewRedisSink(rdb)}
	var kafkaSink *audit.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafkaSink)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Streaming violations to Kafka")
	}
	recorder := audit.NewRecorder(sinks, cfg.AuditBufferSize, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewExamSessionRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	sessionService := service.NewExamSessionService(sessionRepo, rdb)
	monitorService := service.NewMonitorService(violationRepo, sessionRepo, rdb)
	proctorService := service.NewProctorService(proctorCfg, recorder, rdb, clockwork.NewRealClock(), cfg.BeaconLinger, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		WS:        handler.NewWSHandler(sessionService, proctorService, log, cfg.AllowedOrigins),
		Signal:    handler.NewSignalHandler(proctorService, log),
		Monitor:   handler.NewMonitorHandler(rdb, monitorService, proctorService, log),
		Violation: handler.NewViolationHandler(monitorService, log),
		System:    handler.NewSystemHandler(pool, rdb, proctorService, recorder, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	run := func(start func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	run(recorder.Start)
	run(worker.NewViolationWorker(violationRepo, rdb, log).Start)
	run(worker.NewAutosaveWorker(pool, rdb, log).Start)
	run(worker.NewScoringWorker(pool, sessionRepo, rdb, log).Start)

	beaconLimiter := middleware.NewRateLimiter(cfg.BeaconRate, time.Minute, nil)
	limiterStop := make(chan struct{})
	go beaconLimiter.Run(limiterStop)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, beaconLimiter, cfg)

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

	log.Info().Str("signal", sig.String()).Int("live_proctors", proctorService.LiveCount()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(limiterStop)

	// 2. Stop the recorder and workers; each drains its own buffer.
	workerCancel()
	workers.Wait()

	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Error().Err(err).Msg("Kafka writer close error")
		}
	}

	log.Info().
		Int64("audit_dropped", recorder.Dropped()).
		Int64("audit_failed", recorder.Failed()).
		Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
