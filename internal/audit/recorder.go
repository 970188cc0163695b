package audit

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aegis-platform/aegis/internal/shared"
)

// Sink persists audit records.
type Sink interface {
	Insert(ctx context.Context, rec Record) error
}

// Recorder writes decision records to the audit trail. In the default
// lenient mode a failed write is logged and swallowed so that audit outages
// never block authorization; strict mode propagates the error instead.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	strict bool
}

// NewRecorder membuat recorder audit baru.
func NewRecorder(sink Sink, logger *slog.Logger, strict bool) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, strict: strict}
}

// Record enriches the entry with request metadata from the context, redacts
// sensitive metadata values and persists it.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if r == nil || r.sink == nil {
		return nil
	}
	meta := shared.RequestMetaFromContext(ctx)
	if rec.IP == "" {
		rec.IP = meta.IP
	}
	if rec.UserAgent == "" {
		rec.UserAgent = meta.UserAgent
	}
	if rec.Method == "" {
		rec.Method = meta.Method
	}
	if rec.URL == "" {
		rec.URL = meta.URL
	}
	if rec.RequestID == "" {
		rec.RequestID = meta.RequestID
	}
	if rec.SessionID == "" {
		rec.SessionID = meta.SessionID
	}
	rec.Metadata = RedactMetadata(rec.Metadata)

	if err := r.sink.Insert(ctx, rec); err != nil {
		if r.strict {
			return err
		}
		r.logger.Error("write audit record",
			slog.String("resource", rec.Resource),
			slog.String("action", rec.Action),
			slog.Any("error", err))
	}
	return nil
}

var redactedKeys = []string{"password", "token", "secret", "key", "authorization", "cookie"}

// RedactMetadata replaces values under credential-looking keys before the
// metadata reaches storage.
func RedactMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return metadata
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if sensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactMetadata(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range redactedKeys {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
