package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, actor_id, action, resource, resource_id, context, result, reason,
	metadata, ip, user_agent, method, url, request_id, session_id, created_at`

// Repository provides PostgreSQL backed persistence for audit records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one audit record. Records are immutable once written.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, action, resource, resource_id, context, result, reason,
			metadata, ip, user_agent, method, url, request_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ActorID, rec.Action, rec.Resource, rec.ResourceID, rec.Context, rec.Result, rec.Reason,
		rec.Metadata, rec.IP, rec.UserAgent, rec.Method, rec.URL, rec.RequestID, rec.SessionID)
	return err
}

// List returns records matching the filters, newest first, one page at a
// time. Fetches pageSize+1 rows to detect whether a next page exists.
func (r *Repository) List(ctx context.Context, filters Filters, page, pageSize int) ([]Record, bool, error) {
	where, args := buildFilterClause(filters)
	args = append(args, pageSize+1, (page-1)*pageSize)
	query := fmt.Sprintf(`
		SELECT %s FROM audit_logs
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, recordColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.ActorID, &rec.Action, &rec.Resource, &rec.ResourceID, &rec.Context,
			&rec.Result, &rec.Reason, &rec.Metadata, &rec.IP, &rec.UserAgent, &rec.Method,
			&rec.URL, &rec.RequestID, &rec.SessionID, &rec.CreatedAt,
		); err != nil {
			return nil, false, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasNext := len(records) > pageSize
	if hasNext {
		records = records[:pageSize]
	}
	return records, hasNext, nil
}

// Aggregate groups matching records by the given key and counts outcomes.
func (r *Repository) Aggregate(ctx context.Context, filters Filters, groupBy string) ([]ReportRow, error) {
	var keyExpr string
	switch groupBy {
	case GroupByActor:
		keyExpr = `COALESCE(actor_id::text, 'anonymous')`
	case GroupByResource:
		keyExpr = `resource`
	case GroupByAction:
		keyExpr = `action`
	case GroupByDay:
		keyExpr = `to_char(created_at, 'YYYY-MM-DD')`
	default:
		return nil, fmt.Errorf("audit: unsupported group key %q", groupBy)
	}
	where, args := buildFilterClause(filters)
	query := fmt.Sprintf(`
		SELECT %s AS key,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE result = 'granted') AS granted,
		       COUNT(*) FILTER (WHERE result = 'denied') AS denied
		FROM audit_logs
		%s
		GROUP BY key
		ORDER BY total DESC, key`, keyExpr, where)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var report []ReportRow
	for rows.Next() {
		var row ReportRow
		if err := rows.Scan(&row.Key, &row.Total, &row.Granted, &row.Denied); err != nil {
			return nil, err
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

// DenialCounts groups denials inside the window by actor and source IP.
func (r *Repository) DenialCounts(ctx context.Context, since time.Time) ([]DenialGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT actor_id, ip, COUNT(*), MIN(created_at)
		FROM audit_logs
		WHERE result = 'denied' AND created_at >= $1
		GROUP BY actor_id, ip
		ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []DenialGroup
	for rows.Next() {
		var g DenialGroup
		if err := rows.Scan(&g.ActorID, &g.IP, &g.Count, &g.FirstSeen); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// ActivityByIPs counts any activity from the given source addresses inside
// the window.
func (r *Repository) ActivityByIPs(ctx context.Context, since time.Time, ips []string) ([]IPActivity, error) {
	if len(ips) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT ip, COUNT(*), MAX(created_at)
		FROM audit_logs
		WHERE created_at >= $1 AND ip = ANY($2)
		GROUP BY ip
		ORDER BY COUNT(*) DESC`, since, ips)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activity []IPActivity
	for rows.Next() {
		var a IPActivity
		if err := rows.Scan(&a.IP, &a.Count, &a.LastSeen); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activity, nil
}

// DeleteOlderThan removes records created before the cutoff and reports how
// many were dropped.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func buildFilterClause(filters Filters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add(`created_at >= $%d`, filters.From)
	}
	if !filters.To.IsZero() {
		add(`created_at <= $%d`, filters.To)
	}
	if filters.ActorID != nil {
		add(`actor_id = $%d`, *filters.ActorID)
	}
	if filters.Resource != "" {
		add(`resource = $%d`, filters.Resource)
	}
	if filters.Action != "" {
		add(`action = $%d`, filters.Action)
	}
	if filters.Result != "" {
		add(`result = $%d`, filters.Result)
	}
	if filters.IP != "" {
		add(`ip = $%d`, filters.IP)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
