package roles

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	List(ctx context.Context) ([]Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	FindBySlug(ctx context.Context, slug string) (Role, error)
	Create(ctx context.Context, slug, name, description string) (Role, error)
	Ensure(ctx context.Context, slug, name, description string) (Role, error)
	Update(ctx context.Context, id int64, name, description string) (Role, error)
	ListPermissions(ctx context.Context, roleID int64) ([]catalog.Permission, error)
	AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	ReplacePermissions(ctx context.Context, slug string, permissionIDs []int64) error
	ListByRoleSlugs(ctx context.Context, slugs []string) ([]catalog.Permission, error)
}

// InvalidationCache is the slice of the decision cache the role service
// needs: every permission-set mutation must drop the role's cache and, since
// cache entries do not track membership, every principal cache.
type InvalidationCache interface {
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAllUsers(ctx context.Context) error
}

// Service handles role business logic and keeps the decision cache coherent.
// Invalidation always completes before a mutation returns, so a caller that
// edits a role and immediately re-checks a permission observes the edit.
type Service struct {
	repo     RepositoryPort
	cache    InvalidationCache
	resolver *hierarchy.Resolver
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache InvalidationCache, resolver *hierarchy.Resolver, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, resolver: resolver, logger: logger}
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// FindBySlug fetches a role by slug.
func (s *Service) FindBySlug(ctx context.Context, slug string) (Role, error) {
	return s.repo.FindBySlug(ctx, slug)
}

// Create inserts a new role.
func (s *Service) Create(ctx context.Context, slug, name, description string) (Role, error) {
	slug = strings.TrimSpace(slug)
	name = strings.TrimSpace(name)
	if slug == "" || name == "" {
		return Role{}, errors.New("roles: slug and name required")
	}
	return s.repo.Create(ctx, slug, name, strings.TrimSpace(description))
}

// Update updates an existing role.
func (s *Service) Update(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("roles: role name required")
	}
	return s.repo.Update(ctx, id, name, strings.TrimSpace(description))
}

// ListPermissions returns the direct permissions of a role.
func (s *Service) ListPermissions(ctx context.Context, roleID int64) ([]catalog.Permission, error) {
	return s.repo.ListPermissions(ctx, roleID)
}

// EffectivePermissions resolves the role's direct plus inherited permissions.
func (s *Service) EffectivePermissions(ctx context.Context, slug string) ([]catalog.Permission, error) {
	return s.resolver.EffectivePermissions(ctx, slug)
}

// SetPermissions replaces the role's permission links with exactly the given set.
func (s *Service) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.repo.SetPermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.invalidate(ctx, roleID)
	return nil
}

// AttachPermissions adds permission links without removing existing ones.
func (s *Service) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.repo.AttachPermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.invalidate(ctx, roleID)
	return nil
}

// DetachPermissions removes the given permission links.
func (s *Service) DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.repo.DetachPermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.invalidate(ctx, roleID)
	return nil
}

// SyncInherited recomputes a role's effective permission set from the
// hierarchy and stores it as the role's links. Aborts with a validation
// error when the hierarchy contains a cycle.
func (s *Service) SyncInherited(ctx context.Context, slug string) error {
	if err := s.resolver.SyncInherited(ctx, slug, s.repo); err != nil {
		return err
	}
	role, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return err
	}
	s.invalidate(ctx, role.ID)
	return nil
}

// SyncAllInherited runs SyncInherited for every role in the hierarchy.
// Roles present in the configuration but absent from the store are skipped.
func (s *Service) SyncAllInherited(ctx context.Context) error {
	for _, slug := range s.resolver.Config().Roles() {
		if err := s.SyncInherited(ctx, slug); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

// invalidate drops the role cache and all principal caches. Failures are
// logged and swallowed; staleness stays bounded by the cache TTL.
func (s *Service) invalidate(ctx context.Context, roleID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRole(ctx, roleID); err != nil {
		s.warn("invalidate role cache", err)
	}
	if err := s.cache.InvalidateAllUsers(ctx); err != nil {
		s.warn("invalidate principal caches", err)
	}
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
