package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/petshop-erp/petshop-erp/internal/app"
	"github.com/petshop-erp/petshop-erp/internal/commission"
	jobmetrics "github.com/petshop-erp/petshop-erp/internal/jobs"
	"github.com/petshop-erp/petshop-erp/internal/platform/cache"
	"github.com/petshop-erp/petshop-erp/internal/platform/db"
	"github.com/petshop-erp/petshop-erp/internal/shared"
	"github.com/petshop-erp/petshop-erp/jobs"
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

	// Asynq cannot run without redis, so a failed ping is fatal here.
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

	deductionCfg, err := commission.LoadDeductionConfig(cfg.DeductionConfigPath)
	if err != nil {
		logger.Error("load deduction config", slog.String("path", cfg.DeductionConfigPath), slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)

	commissionRepo := commission.NewRepository(pool)
	commissionCache := commission.NewCache(redisClient, cfg.CacheTTL)
	auditLogger := shared.NewAuditLogger(pool)
	commissionService := commission.NewService(commissionRepo, deductionCfg, auditLogger, nil, commissionCache, nil, logger)

	notifyJob := jobs.NewClosingNotifyJob(logger, metrics)
	warmupJob := jobs.NewSummaryWarmupJob(commissionService, redisClient, logger, metrics)

	warmupTask, err := jobs.NewSummaryWarmupTask(jobs.SummaryWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeClosingNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskTypeSummaryWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
