package principals

import (
	"time"

	"github.com/aegis-platform/aegis/internal/catalog"
)

// Principal represents an authenticated actor being authorized.
type Principal struct {
	ID        int64
	Email     string
	Name      string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Grant is a direct permission link on a principal. A grant with
// Granted=false is an explicit revocation; either kind stops applying once
// ExpiresAt passes.
type Grant struct {
	Permission catalog.Permission
	Granted    bool
	ExpiresAt  *time.Time
}

// Expired reports whether the grant's expiry lies in the past.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Active reports whether the grant currently confers its permission.
func (g Grant) Active(now time.Time) bool {
	return g.Granted && !g.Expired(now)
}

// ActiveRevoke reports whether the grant is an unexpired explicit
// revocation. An active revoke vetoes a role-derived grant of the same
// (resource, action) identity.
func (g Grant) ActiveRevoke(now time.Time) bool {
	return !g.Granted && !g.Expired(now)
}

// GrantInput describes a direct grant to store on a principal.
type GrantInput struct {
	PermissionID int64
	Granted      bool
	ExpiresAt    *time.Time
}
