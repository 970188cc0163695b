package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/aegis-platform/aegis/internal/shared"
)

type memorySink struct {
	records []Record
	err     error
}

func (s *memorySink) Insert(ctx context.Context, rec Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func TestRecordFillsRequestMeta(t *testing.T) {
	sink := &memorySink{}
	recorder := NewRecorder(sink, nil, false)

	ctx := shared.ContextWithRequestMeta(context.Background(), shared.RequestMeta{
		RequestID: "req-1",
		IP:        "192.0.2.1",
		UserAgent: "curl/8",
		Method:    "POST",
		URL:       "/acl/check",
	})
	if err := recorder.Record(ctx, Record{Resource: "files", Action: "read", Result: ResultGranted}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	rec := sink.records[0]
	if rec.IP != "192.0.2.1" || rec.RequestID != "req-1" || rec.Method != "POST" {
		t.Fatalf("meta not applied: %+v", rec)
	}
}

func TestRecordRedactsMetadata(t *testing.T) {
	sink := &memorySink{}
	recorder := NewRecorder(sink, nil, false)

	err := recorder.Record(context.Background(), Record{
		Resource: "users",
		Action:   "update",
		Result:   ResultDenied,
		Metadata: map[string]any{
			"password":      "hunter2",
			"apiToken":      "tok_123",
			"Authorization": "Bearer abc",
			"nested":        map[string]any{"secretValue": "x", "note": "keep"},
			"note":          "plain",
		},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	meta := sink.records[0].Metadata
	for _, key := range []string{"password", "apiToken", "Authorization"} {
		if meta[key] != "[REDACTED]" {
			t.Fatalf("expected %s redacted, got %v", key, meta[key])
		}
	}
	nested := meta["nested"].(map[string]any)
	if nested["secretValue"] != "[REDACTED]" {
		t.Fatalf("expected nested secret redacted, got %v", nested["secretValue"])
	}
	if nested["note"] != "keep" || meta["note"] != "plain" {
		t.Fatalf("plain values must survive: %v", meta)
	}
}

func TestRecordLenientSwallowsSinkFailure(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	recorder := NewRecorder(sink, nil, false)

	if err := recorder.Record(context.Background(), Record{Result: ResultDenied}); err != nil {
		t.Fatalf("lenient recorder must swallow, got %v", err)
	}
}

func TestRecordStrictPropagatesSinkFailure(t *testing.T) {
	wantErr := errors.New("db down")
	recorder := NewRecorder(&memorySink{err: wantErr}, nil, true)

	if err := recorder.Record(context.Background(), Record{Result: ResultDenied}); !errors.Is(err, wantErr) {
		t.Fatalf("expected sink failure, got %v", err)
	}
}
