package audit

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RepositoryPort menyediakan akses ke query audit yang dibutuhkan.
type RepositoryPort interface {
	List(ctx context.Context, filters Filters, page, pageSize int) ([]Record, bool, error)
	Aggregate(ctx context.Context, filters Filters, groupBy string) ([]ReportRow, error)
	DenialCounts(ctx context.Context, since time.Time) ([]DenialGroup, error)
	ActivityByIPs(ctx context.Context, since time.Time, ips []string) ([]IPActivity, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService membuat service audit baru.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List mengambil data audit dengan paging.
func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	if s.repo == nil {
		return ListResult{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, hasNext, err := s.repo.List(ctx, filters, page, pageSize)
	if err != nil {
		return ListResult{}, err
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return ListResult{Rows: rows, Paging: paging}, nil
}

// Report aggregates matching records by the requested key.
func (s *Service) Report(ctx context.Context, filters Filters, groupBy string) ([]ReportRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if groupBy == "" {
		groupBy = GroupByResource
	}
	return s.repo.Aggregate(ctx, filters, groupBy)
}

// Alerts scans the trail for denial bursts and traffic from flagged source
// addresses.
func (s *Service) Alerts(ctx context.Context, cfg AlertConfig) ([]Alert, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := s.now().Add(-window)

	var alerts []Alert
	groups, err := s.repo.DenialCounts(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if cfg.MaxDenials > 0 && g.Count >= cfg.MaxDenials {
			alerts = append(alerts, denialAlert(g))
		}
	}

	activity, err := s.repo.ActivityByIPs(ctx, since, cfg.SuspiciousIPs)
	if err != nil {
		return nil, err
	}
	for _, a := range activity {
		alerts = append(alerts, suspiciousIPAlert(a))
	}
	return alerts, nil
}

// Cleanup drops records older than the retention horizon and reports how
// many were removed.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}
