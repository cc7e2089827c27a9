package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/database"
	"github.com/stemsi/exstem-quiz/internal/handler"
	"github.com/stemsi/exstem-quiz/internal/logger"
	"github.com/stemsi/exstem-quiz/internal/metrics"
	"github.com/stemsi/exstem-quiz/internal/middleware"
	"github.com/stemsi/exstem-quiz/internal/repository"
	"github.com/stemsi/exstem-quiz/internal/router"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
	"github.com/stemsi/exstem-quiz/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Quiz")

	if !cfg.AnonymousAuthEnabled {
		log.Warn().Msg("Anonymous sign-in disabled, exams cannot be started")
	}

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

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

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewExamSessionRepository(pool)
	pointerRepo := repository.NewSessionPointerRepository(rdb)
	questionRepo := repository.NewQuestionRepository(pool)
	subjectRepo := repository.NewSubjectRepository(pool)

	answerQueue := worker.NewAnswerQueue(rdb)
	scoreQueue := worker.NewScoreQueue(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	identityService := service.NewIdentityService(cfg)
	syncer := service.NewAnswerSyncer(sessionRepo, answerQueue, cfg.AnswerSyncRetries, cfg.AnswerSyncBackoff, log)
	sessionService := service.NewExamSessionService(
		identityService, sessionRepo, pointerRepo, syncer, scoreQueue, cfg.PointerSlack, log,
	)
	questionService := service.NewQuestionService(questionRepo, rdb, log)
	subjectService := service.NewSubjectService(subjectRepo, log)
	examService := service.NewExamService(sessionService, questionService, cfg.ExamDurationMinutes, cfg.ExamQuestionCap, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	identityLimiter := middleware.NewRateLimiter(cfg.IdentityRateLimit)
	handlers := &router.Handlers{
		Identity: handler.NewIdentityHandler(identityService),
		Subject:  handler.NewSubjectHandler(subjectService, questionService),
		Session:  handler.NewSessionHandler(sessionService),
		WS:       handler.NewWSHandler(identityService, examService, sessionService, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": handler.PingFunc(pool.Ping),
			"redis":    handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}, log),
		IdentityLimiter: identityLimiter,
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	autosaveWorker := worker.NewAutosaveWorker(sessionRepo, rdb, log)
	scoringWorker := worker.NewScoringWorker(sessionRepo, rdb, log)
	abandonWorker := worker.NewAbandonWorker(sessionRepo, cfg.AbandonSweepInterval, cfg.AbandonGrace, log)

	for _, start := range []func(context.Context){autosaveWorker.Start, scoringWorker.Start, abandonWorker.Start} {
		workers.Add(1)
		go func(start func(context.Context)) {
			defer workers.Done()
			start(workerCtx)
		}(start)
	}
	go identityLimiter.RunCleanup(workerCtx.Done())

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(identityService, handlers, cfg)

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

	// 2. Flush in-flight answer writes; leftovers land on the Redis queue.
	syncCtx, syncCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer syncCancel()
	if err := syncer.Close(syncCtx); err != nil {
		log.Warn().Err(err).Msg("Answer syncer did not drain in time")
	}

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
