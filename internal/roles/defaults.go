package roles

import (
	"context"
	"errors"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/shared"
)

// DefaultRole describes a role created by the seed routine.
type DefaultRole struct {
	Slug        string
	Name        string
	Description string
}

// DefaultRoles returns the roles created on every deployment.
func DefaultRoles() []DefaultRole {
	return []DefaultRole{
		{Slug: hierarchy.SlugRoot, Name: "Root", Description: "Unrestricted platform owner"},
		{Slug: hierarchy.SlugAdmin, Name: "Administrator", Description: "Administers users, roles and content"},
		{Slug: hierarchy.SlugEditor, Name: "Editor", Description: "Edits content on behalf of users"},
		{Slug: hierarchy.SlugUser, Name: "User", Description: "Standard authenticated user"},
		{Slug: hierarchy.SlugGuest, Name: "Guest", Description: "Read-only visitor"},
	}
}

// PermissionLister exposes the catalog listing the seed selects from.
type PermissionLister interface {
	List(ctx context.Context) ([]catalog.Permission, error)
}

// AssignDefaults seeds the default roles, assigns each its default slice of
// the permission catalog and then reconciles inherited permissions across
// the hierarchy. Idempotent: rerunning converges to the same state.
func (s *Service) AssignDefaults(ctx context.Context, perms PermissionLister) error {
	for _, def := range DefaultRoles() {
		if _, err := s.repo.Ensure(ctx, def.Slug, def.Name, def.Description); err != nil {
			return err
		}
	}

	all, err := perms.List(ctx)
	if err != nil {
		return err
	}

	assignments := map[string][]int64{
		hierarchy.SlugRoot:  selectIDs(all, func(p catalog.Permission) bool { return true }),
		hierarchy.SlugAdmin: selectIDs(all, adminPermission),
		hierarchy.SlugUser:  selectIDs(all, userPermission),
		hierarchy.SlugGuest: selectIDs(all, guestPermission),
	}

	for slug, ids := range assignments {
		role, err := s.repo.FindBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		if err := s.SetPermissions(ctx, role.ID, ids); err != nil {
			return err
		}
	}

	return s.SyncAllInherited(ctx)
}

// adminPermission keeps everything except permission management, which stays
// read-only for administrators.
func adminPermission(p catalog.Permission) bool {
	if p.Resource != catalog.ResourcePermissions {
		return true
	}
	return p.Action == catalog.ActionRead || p.Action == catalog.ActionList
}

func userPermission(p catalog.Permission) bool {
	switch p.Resource {
	case catalog.ResourceUsers:
		return p.Action == catalog.ActionRead || p.Action == catalog.ActionUpdate
	case catalog.ResourceFiles:
		return p.Action == catalog.ActionCreate || p.Action == catalog.ActionRead || p.Action == catalog.ActionList
	}
	return false
}

func guestPermission(p catalog.Permission) bool {
	if p.Resource == catalog.ResourcePermissions || p.Resource == catalog.ResourceAudit {
		return false
	}
	return p.Action == catalog.ActionRead || p.Action == catalog.ActionList
}

func selectIDs(perms []catalog.Permission, keep func(catalog.Permission) bool) []int64 {
	var ids []int64
	for _, p := range perms {
		if keep(p) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
