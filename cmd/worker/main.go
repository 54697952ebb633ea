package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/wc-attach-images/wc-attach-images/internal/app"
	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/observability"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/cache"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/db"
	"github.com/wc-attach-images/wc-attach-images/jobs"
	"github.com/wc-attach-images/wc-attach-images/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.Files)
	if err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", slog.Any("files", applied))
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	host, err := app.OpenHost(ctx, cfg, logger)
	if err != nil {
		logger.Error("open host", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Warn("host close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	runLog := hostlog.NewLogger(hostlog.NewPostgresStore(pool), cfg.AttachLogChannel, logger)

	processor, err := app.NewProcessor(cfg, host, runLog, metrics.Jobs(), logger)
	if err != nil {
		logger.Error("init processor", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	attachJob := jobs.NewAttachImagesJob(processor, jobClient.Enqueuer(), cfg.AttachBatchPause, logger, metrics.Jobs())
	attachJob.Lock = cache.NewLock(redisClient, cache.AttachRunLockKey, cfg.AttachLockTTL)

	var cron []jobs.CronRegistration
	if cfg.AttachCron != "" {
		cronTask, err := jobs.NewAttachImagesTask(jobs.AttachImagesPayload{
			Page:         1,
			Continuation: cfg.AttachContinuation,
			RequestedBy:  "cron",
		})
		if err != nil {
			logger.Error("build attach task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.AttachCron, Task: cronTask, Options: jobs.AttachTaskOptions()})
		logger.Info("attach cron registered", slog.String("spec", cfg.AttachCron))
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAttachProductImages, Handler: attachJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Route("/jobs", jobs.NewHandler(jobClient, logger).MountHealth)
		server := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker started", slog.String("backend", host.Backend), slog.Bool("continuation", cfg.AttachContinuation))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
