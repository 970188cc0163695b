package hierarchy

import (
	"context"
	"fmt"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/shared"
)

// PermissionSource loads the direct permissions attached to roles.
type PermissionSource interface {
	ListByRoleSlugs(ctx context.Context, slugs []string) ([]catalog.Permission, error)
}

// LinkStore reconciles the stored role-permission links of a role.
type LinkStore interface {
	ReplacePermissions(ctx context.Context, slug string, permissionIDs []int64) error
}

// Resolver computes effective permission sets over the configured hierarchy.
type Resolver struct {
	cfg    Config
	source PermissionSource
}

// NewResolver builds a resolver over the given configuration.
func NewResolver(cfg Config, source PermissionSource) *Resolver {
	return &Resolver{cfg: cfg, source: source}
}

// Config exposes the hierarchy the resolver operates on.
func (r *Resolver) Config() Config {
	return r.cfg
}

// EffectivePermissions returns the direct permissions of the role unioned
// with the direct permissions of every descendant, deduplicated by
// (resource, action). Direct entries win the dedupe so their context is kept.
func (r *Resolver) EffectivePermissions(ctx context.Context, slug string) ([]catalog.Permission, error) {
	direct, err := r.source.ListByRoleSlugs(ctx, []string{slug})
	if err != nil {
		return nil, fmt.Errorf("hierarchy: direct permissions of %s: %w", slug, err)
	}
	var inherited []catalog.Permission
	if descendants := r.cfg.Descendants(slug); len(descendants) > 0 {
		inherited, err = r.source.ListByRoleSlugs(ctx, descendants)
		if err != nil {
			return nil, fmt.Errorf("hierarchy: inherited permissions of %s: %w", slug, err)
		}
	}

	seen := make(map[string]struct{}, len(direct)+len(inherited))
	merged := make([]catalog.Permission, 0, len(direct)+len(inherited))
	for _, perm := range direct {
		key := perm.Resource + "." + perm.Action
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, perm)
	}
	for _, perm := range inherited {
		key := perm.Resource + "." + perm.Action
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, perm)
	}
	return merged, nil
}

// SyncInherited recomputes the effective permission set of a role and
// replaces its stored links with exactly that set. It refuses to touch the
// store while the hierarchy fails validation.
func (r *Resolver) SyncInherited(ctx context.Context, slug string, store LinkStore) error {
	if !r.cfg.Validate() {
		return fmt.Errorf("hierarchy: cycle detected, refusing to sync %s: %w", slug, shared.ErrValidation)
	}
	effective, err := r.EffectivePermissions(ctx, slug)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(effective))
	for _, perm := range effective {
		ids = append(ids, perm.ID)
	}
	return store.ReplacePermissions(ctx, slug, ids)
}
