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

// AnomalyScanJob inspects the audit trail for denial bursts and traffic from
// flagged source addresses.
type AnomalyScanJob struct {
	Service *audit.Service
	Config  audit.AlertConfig
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAnomalyScanJob initialises the anomaly scan handler.
func NewAnomalyScanJob(service *audit.Service, cfg audit.AlertConfig, logger *slog.Logger, metrics *jobmetrics.Metrics) *AnomalyScanJob {
	return &AnomalyScanJob{Service: service, Config: cfg, Logger: logger, Metrics: metrics}
}

// Handle executes the anomaly scan logic.
func (j *AnomalyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("anomaly scan: handler not configured")
	}
	var payload AnomalyScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	cfg := j.Config
	if payload.WindowHours > 0 {
		cfg.Window = time.Duration(payload.WindowHours) * time.Hour
	}
	if payload.MaxDenials > 0 {
		cfg.MaxDenials = payload.MaxDenials
	}

	tracker := j.metrics().Track(TaskAuditAnomalyScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(
		slog.Duration("window", cfg.Window),
		slog.Int64("max_denials", cfg.MaxDenials),
	)
	logger.Info("starting audit anomaly scan")

	alerts, err := j.Service.Alerts(ctx, cfg)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, a := range alerts {
		attrs := []any{
			slog.String("type", a.Type),
			slog.String("severity", a.Severity),
			slog.Int64("count", a.Count),
			slog.String("ip", a.IP),
		}
		if a.ActorID != nil {
			attrs = append(attrs, slog.Int64("actor_id", *a.ActorID))
		}
		logger.Warn("security alert: "+a.Message, attrs...)
		j.metrics().AddAlerts(a.Type, a.Severity, 1)
	}

	logger.Info("completed audit anomaly scan",
		slog.Int("alerts", len(alerts)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AnomalyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditAnomalyScan))
	}
	return slog.Default().With(slog.String("job", TaskAuditAnomalyScan))
}

func (j *AnomalyScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
