package audit

import "time"

// Outcome of an authorization decision.
const (
	ResultGranted = "granted"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// Record mewakili satu baris jejak audit keputusan otorisasi.
type Record struct {
	ID         int64
	ActorID    *int64
	Action     string
	Resource   string
	ResourceID string
	Context    string
	Result     string
	Reason     string
	Metadata   map[string]any
	IP         string
	UserAgent  string
	Method     string
	URL        string
	RequestID  string
	SessionID  string
	CreatedAt  time.Time
}

// Denied reports whether the record captured a denial.
func (r Record) Denied() bool {
	return r.Result == ResultDenied
}

// Filters menampung filter dasar untuk daftar audit.
type Filters struct {
	From     time.Time
	To       time.Time
	ActorID  *int64
	Resource string
	Action   string
	Result   string
	IP       string
	Page     int
	PageSize int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// ListResult membungkus hasil daftar audit dengan informasi paging.
type ListResult struct {
	Rows   []Record
	Paging PagingInfo
}

// ReportRow is one aggregation bucket of the audit report.
type ReportRow struct {
	Key     string
	Total   int64
	Granted int64
	Denied  int64
}

// Report group keys.
const (
	GroupByActor    = "actor"
	GroupByResource = "resource"
	GroupByAction   = "action"
	GroupByDay      = "day"
)
