package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis/internal/engine"
	jobmetrics "github.com/aegis-platform/aegis/internal/jobs"
)

// CacheWarmupJob precomputes effective permission sets into redis so that
// first checks after a deploy or invalidation hit warm entries.
type CacheWarmupJob struct {
	Engine  *engine.Service
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmupJob initialises the warmup handler.
func NewCacheWarmupJob(eng *engine.Service, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{Engine: eng, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle executes the warmup. An explicit principal list wins; otherwise the
// principals most recently seen in the audit trail are warmed.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger()

	ids := payload.PrincipalIDs
	if len(ids) == 0 {
		limit := payload.RecentLimit
		if limit <= 0 {
			limit = 100
		}
		var err error
		ids, err = j.recentPrincipals(ctx, limit)
		if err != nil {
			resultErr = err
			logger.Error("load recent principals", slog.Any("error", err))
			return resultErr
		}
	}
	logger.Info("starting cache warmup", slog.Int("principals", len(ids)))

	if err := j.Engine.WarmMany(ctx, ids); err != nil {
		resultErr = err
		logger.Error("warmup failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed cache warmup",
		slog.Int("principals", len(ids)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *CacheWarmupJob) recentPrincipals(ctx context.Context, limit int) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("cache warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT DISTINCT actor_id
		FROM audit_logs
		WHERE actor_id IS NOT NULL AND created_at >= NOW() - INTERVAL '1 day'
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
