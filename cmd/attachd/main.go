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

	"github.com/hibiken/asynq"

	"github.com/wc-attach-images/wc-attach-images/internal/app"
	attachhttp "github.com/wc-attach-images/wc-attach-images/internal/attach/http"
	"github.com/wc-attach-images/wc-attach-images/internal/auth"
	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/observability"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/cache"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/db"
	"github.com/wc-attach-images/wc-attach-images/internal/shared"
	"github.com/wc-attach-images/wc-attach-images/internal/view"
	"github.com/wc-attach-images/wc-attach-images/jobs"
	"github.com/wc-attach-images/wc-attach-images/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.ValidateWeb(); err != nil {
		slog.Default().Error("validate config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if applied, err := db.Migrate(ctx, dbpool, migrations.Files); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	} else if len(applied) > 0 {
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

	metrics := observability.NewMetrics()

	sessionManager := shared.NewSessionManager(redisClient, "wcattach_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	authService := auth.NewService(auth.NewStaticRepository(cfg.AdminEmail, cfg.AdminPasswordHash))
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	runLog := hostlog.NewLogger(hostlog.NewPostgresStore(dbpool), cfg.AttachLogChannel, logger)

	attachHandler := attachhttp.NewHandler(logger, jobClient, jobClient, runLog, templates, csrfManager, attachhttp.Settings{
		Backend:      cfg.HostBackend,
		Continuation: cfg.AttachContinuation,
		Pause:        cfg.AttachBatchPause,
	})
	jobHandler := jobs.NewHandler(jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		AttachHandler:  attachHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
