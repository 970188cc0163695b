package roles

import "time"

// Role represents a high-level permission grouping. The slug is the stable
// identifier used by the hierarchy and by role-permission links.
type Role struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
