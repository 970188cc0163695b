package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/aegis-platform/aegis/internal/aclcache"
	"github.com/aegis-platform/aegis/internal/app"
	"github.com/aegis-platform/aegis/internal/audit"
	"github.com/aegis-platform/aegis/internal/engine"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/ownership"
	"github.com/aegis-platform/aegis/internal/platform/cache"
	"github.com/aegis-platform/aegis/internal/platform/db"
	"github.com/aegis-platform/aegis/internal/principals"
	"github.com/aegis-platform/aegis/internal/roles"
	"github.com/aegis-platform/aegis/jobs"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, warmup writes disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	hierarchyCfg := hierarchy.DefaultConfig()
	if override, err := cfg.RoleHierarchy(); err != nil {
		logger.Error("decode role hierarchy", slog.Any("error", err))
		os.Exit(1)
	} else if override != nil {
		hierarchyCfg = hierarchy.Config(override)
	}

	aclCache := aclcache.New(redisClient, logger, aclcache.Options{
		UserTTL:       cfg.ACLUserTTL,
		RoleTTL:       cfg.ACLRoleTTL,
		PermissionTTL: cfg.ACLPermissionTTL,
	})

	rolesRepo := roles.NewRepository(pool)
	resolver := hierarchy.NewResolver(hierarchyCfg, rolesRepo)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	recorder := audit.NewRecorder(auditRepo, logger, cfg.AuditStrict)

	principalRepo := principals.NewRepository(pool)
	evaluator := ownership.NewEvaluator(ownership.DefaultRules(), ownership.NewPgProvider(pool), logger)
	decisionEngine := engine.NewService(principalRepo, resolver, evaluator, aclCache, recorder, nil, logger)

	alertCfg := audit.AlertConfig{
		Window:        cfg.AlertWindow,
		MaxDenials:    int64(cfg.AlertMaxDenials),
		SuspiciousIPs: cfg.AlertSuspiciousIPs,
	}

	retentionJob := jobs.NewAuditRetentionJob(auditService, logger, nil, cfg.AuditRetentionDays)
	anomalyJob := jobs.NewAnomalyScanJob(auditService, alertCfg, logger, nil)
	warmupJob := jobs.NewCacheWarmupJob(decisionEngine, pool, logger, nil)

	retentionTask, err := jobs.NewAuditRetentionTask(jobs.AuditRetentionPayload{})
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}
	anomalyTask, err := jobs.NewAnomalyScanTask(jobs.AnomalyScanPayload{})
	if err != nil {
		logger.Error("build anomaly task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRetention, Handler: retentionJob.Handle},
			{Type: jobs.TaskAuditAnomalyScan, Handler: anomalyJob.Handle},
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: anomalyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
