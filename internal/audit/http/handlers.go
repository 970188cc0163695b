package audithttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aegis-platform/aegis/internal/audit"
)

const maxDateRange = 90 * 24 * time.Hour

// TrailService defines the business contract for audit data.
type TrailService interface {
	List(ctx context.Context, filters audit.Filters) (audit.ListResult, error)
	Report(ctx context.Context, filters audit.Filters, groupBy string) ([]audit.ReportRow, error)
	Alerts(ctx context.Context, cfg audit.AlertConfig) ([]audit.Alert, error)
}

// Handler menangani permintaan baca jejak audit.
type Handler struct {
	logger   *slog.Logger
	service  TrailService
	alertCfg audit.AlertConfig
	now      func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TrailService, alertCfg audit.AlertConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, alertCfg: alertCfg, now: time.Now}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit trail", err)
		return
	}
	rows := make([]recordPayload, 0, len(result.Rows))
	for _, rec := range result.Rows {
		rows = append(rows, toRecordPayload(rec))
	}
	h.writeJSON(w, listPayload{
		Rows: rows,
		Paging: pagingPayload{
			Page:     result.Paging.Page,
			PageSize: result.Paging.PageSize,
			HasNext:  result.Paging.HasNext,
		},
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	groupBy := strings.TrimSpace(r.URL.Query().Get("group_by"))
	report, err := h.service.Report(r.Context(), filters, groupBy)
	if err != nil {
		h.handleServerError(w, "build audit report", err)
		return
	}
	rows := make([]reportPayload, 0, len(report))
	for _, row := range report {
		rows = append(rows, reportPayload{Key: row.Key, Total: row.Total, Granted: row.Granted, Denied: row.Denied})
	}
	h.writeJSON(w, map[string]any{"rows": rows})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.Alerts(r.Context(), h.alertCfg)
	if err != nil {
		h.handleServerError(w, "scan audit alerts", err)
		return
	}
	if alerts == nil {
		alerts = []audit.Alert{}
	}
	h.writeJSON(w, map[string]any{"alerts": alerts})
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	filters := audit.Filters{
		Resource: strings.TrimSpace(q.Get("resource")),
		Action:   strings.TrimSpace(q.Get("action")),
		Result:   strings.TrimSpace(q.Get("result")),
		IP:       strings.TrimSpace(q.Get("ip")),
	}
	if v := strings.TrimSpace(q.Get("actor_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return audit.Filters{}, errBadFilter("actor_id")
		}
		filters.ActorID = &id
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.Filters{}, errBadFilter("from")
		}
		filters.From = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.Filters{}, errBadFilter("to")
		}
		filters.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) || filters.To.Sub(filters.From) > maxDateRange {
			return audit.Filters{}, errBadFilter("range")
		}
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return audit.Filters{}, errBadFilter("page")
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return audit.Filters{}, errBadFilter("page_size")
		}
		filters.PageSize = size
	}
	return filters, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", slog.Any("error", err))
	}
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

type errBadFilter string

func (e errBadFilter) Error() string {
	return "invalid filter: " + string(e)
}

type listPayload struct {
	Rows   []recordPayload `json:"rows"`
	Paging pagingPayload   `json:"paging"`
}

type pagingPayload struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
}

type recordPayload struct {
	ID         int64          `json:"id"`
	ActorID    *int64         `json:"actorId,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resourceId,omitempty"`
	Context    string         `json:"context"`
	Result     string         `json:"result"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IP         string         `json:"ip,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type reportPayload struct {
	Key     string `json:"key"`
	Total   int64  `json:"total"`
	Granted int64  `json:"granted"`
	Denied  int64  `json:"denied"`
}

func toRecordPayload(rec audit.Record) recordPayload {
	return recordPayload{
		ID:         rec.ID,
		ActorID:    rec.ActorID,
		Action:     rec.Action,
		Resource:   rec.Resource,
		ResourceID: rec.ResourceID,
		Context:    rec.Context,
		Result:     rec.Result,
		Reason:     rec.Reason,
		Metadata:   rec.Metadata,
		IP:         rec.IP,
		RequestID:  rec.RequestID,
		CreatedAt:  rec.CreatedAt,
	}
}
