package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aegis-platform/aegis/internal/audit"
	jobmetrics "github.com/aegis-platform/aegis/internal/jobs"
)

// AuditRetentionJob prunes audit records older than the retention horizon.
type AuditRetentionJob struct {
	Service       *audit.Service
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	RetentionDays int
}

// NewAuditRetentionJob initialises the retention handler.
func NewAuditRetentionJob(service *audit.Service, logger *slog.Logger, metrics *jobmetrics.Metrics, retentionDays int) *AuditRetentionJob {
	return &AuditRetentionJob{Service: service, Logger: logger, Metrics: metrics, RetentionDays: retentionDays}
}

// Handle executes the retention cleanup.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("audit retention: handler not configured")
	}
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = j.RetentionDays
	}

	tracker := j.metrics().Track(TaskAuditRetention)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(slog.Int("retention_days", days))
	logger.Info("starting audit retention cleanup")

	removed, err := j.Service.Cleanup(ctx, days)
	if err != nil {
		resultErr = err
		logger.Error("cleanup failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed audit retention cleanup",
		slog.Int64("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AuditRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetention))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetention))
}

func (j *AuditRetentionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
