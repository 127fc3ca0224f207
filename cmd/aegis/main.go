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

	"github.com/aegis-authz/aegis/internal/app"
	"github.com/aegis-authz/aegis/internal/audit"
	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/delegation"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/notify"
	"github.com/aegis-authz/aegis/internal/observability"
	"github.com/aegis-authz/aegis/internal/platform/cache"
	"github.com/aegis-authz/aegis/internal/platform/db"
	"github.com/aegis-authz/aegis/internal/policy"
	"github.com/aegis-authz/aegis/internal/shared"
	"github.com/aegis-authz/aegis/internal/sod"
	"github.com/aegis-authz/aegis/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAccessAuditLogger(pool)
	dirRepo := directory.NewRepository(pool)
	catService := catalog.NewService(catalog.NewRepository(pool))
	checker := sod.NewChecker(dirRepo, catService, auditLogger, logger)
	locker := shared.NewDelegateLocker(redisClient, cfg.DelegateLockTTL)
	notifier := notify.NewQueueNotifier(queueClient, logger)
	delService := delegation.NewService(
		delegation.NewRepository(pool), dirRepo, catService, checker, auditLogger, notifier, locker, logger)
	engine := policy.NewEngine(dirRepo, catService, delService, auditLogger, logger, policy.EngineConfig{
		MFAThreshold: policy.RiskLevel(cfg.MFARiskThreshold),
	})
	auditService := audit.NewService(audit.NewRepository(pool))

	metrics := observability.NewMetrics()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PolicyHandler:     policy.NewHandler(logger, engine, metrics),
		DelegationHandler: delegation.NewHandler(logger, delService),
		SoDHandler:        sod.NewHandler(logger, checker),
		CatalogHandler:    catalog.NewHandler(logger, catService),
		AuditHandler:      audit.NewHandler(logger, auditService),
		JobsHandler:       jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
