package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/aegis-authz/aegis/internal/app"
	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/delegation"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/notify"
	"github.com/aegis-authz/aegis/internal/platform/cache"
	"github.com/aegis-authz/aegis/internal/platform/db"
	"github.com/aegis-authz/aegis/internal/shared"
	"github.com/aegis-authz/aegis/internal/sod"
	"github.com/aegis-authz/aegis/jobs"
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

	sweeps := &jobs.Sweeps{
		Delegations:    delService,
		SoD:            checker,
		ReminderWindow: cfg.ReminderWindow,
		Logger:         logger,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Sweeps:    sweeps,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpireCron, Task: jobs.NewDelegationExpireTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ReminderCron, Task: jobs.NewDelegationRemindersTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.SoDScanCron, Task: jobs.NewSoDScanTask(), Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
