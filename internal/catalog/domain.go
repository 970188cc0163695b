package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/aegis-platform/aegis/internal/shared"
)

// Permission contexts. A context narrows where a permission applies; "any"
// means the permission is unconditional.
const (
	ContextAny        = "any"
	ContextOwn        = "own"
	ContextTeam       = "team"
	ContextDepartment = "department"
)

// Permission represents one grantable capability identified by
// (resource, action). Context is informational and defaults to "any".
type Permission struct {
	ID          int64
	Name        string
	Description string
	Resource    string
	Action      string
	Context     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Entry describes a permission to seed via SyncDefaults.
type Entry struct {
	Resource    string
	Action      string
	Description string
}

// ValidContext reports whether the supplied context is one of the known set.
func ValidContext(context string) bool {
	switch context {
	case ContextAny, ContextOwn, ContextTeam, ContextDepartment:
		return true
	}
	return false
}

// DisplayName derives the wire name for a permission. The context segment is
// appended only when it narrows the permission.
func DisplayName(resource, action, context string) string {
	if context == "" || context == ContextAny {
		return resource + "." + action
	}
	return resource + "." + action + "." + context
}

// ParseName splits a dot-delimited permission name into its parts. The
// context segment is optional; when absent an empty string is returned so the
// caller can apply its own default.
func ParseName(name string) (resource, action, context string, err error) {
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 2:
		resource, action = parts[0], parts[1]
	case 3:
		resource, action, context = parts[0], parts[1], parts[2]
		if !ValidContext(context) {
			return "", "", "", fmt.Errorf("catalog: permission %q: unknown context %q: %w", name, context, shared.ErrValidation)
		}
	default:
		return "", "", "", fmt.Errorf("catalog: malformed permission %q: %w", name, shared.ErrValidation)
	}
	if resource == "" || action == "" {
		return "", "", "", fmt.Errorf("catalog: malformed permission %q: %w", name, shared.ErrValidation)
	}
	return resource, action, context, nil
}
