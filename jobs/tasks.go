package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRetention prunes audit records past the retention horizon.
	TaskAuditRetention = "acl:audit:retention"
	// TaskAuditAnomalyScan scans the audit trail for suspicious activity.
	TaskAuditAnomalyScan = "acl:audit:anomaly_scan"
	// TaskCacheWarmup precomputes effective permission sets into redis.
	TaskCacheWarmup = "acl:cache:warmup"
)

// AuditRetentionPayload tunes a retention run. Zero days falls back to the
// configured default.
type AuditRetentionPayload struct {
	RetentionDays int `json:"retentionDays"`
}

// NewAuditRetentionTask constructs an Asynq task.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, body, asynq.Queue(QueueDefault)), nil
}

// AnomalyScanPayload tunes an anomaly scan run.
type AnomalyScanPayload struct {
	WindowHours int   `json:"windowHours"`
	MaxDenials  int64 `json:"maxDenials"`
}

// NewAnomalyScanTask constructs an Asynq task.
func NewAnomalyScanTask(payload AnomalyScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditAnomalyScan, body, asynq.Queue(QueueDefault)), nil
}

// CacheWarmupPayload lists principals to warm. An empty list warms the
// principals most recently seen in the audit trail.
type CacheWarmupPayload struct {
	PrincipalIDs []int64 `json:"principalIds"`
	RecentLimit  int     `json:"recentLimit"`
}

// NewCacheWarmupTask constructs an Asynq task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, body, asynq.Queue(QueueDefault)), nil
}
