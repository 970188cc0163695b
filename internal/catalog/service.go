package catalog

import (
	"context"
	"log/slog"
)

// RepositoryPort defines the persistence surface the service relies on.
type RepositoryPort interface {
	Create(ctx context.Context, resource, action, permCtx, description string) (Permission, error)
	SyncDefaults(ctx context.Context, entries []Entry) error
	FindByResourceAction(ctx context.Context, resource, action string) (Permission, error)
	FindByName(ctx context.Context, name string) (Permission, error)
	List(ctx context.Context) ([]Permission, error)
	Exists(ctx context.Context, resource, action, permCtx string) (bool, error)
}

// ExistenceCache caches boolean permission-existence lookups.
type ExistenceCache interface {
	CachedPermissionExists(ctx context.Context, resource, action, permCtx string) (bool, bool)
	CachePermissionExists(ctx context.Context, resource, action, permCtx string, exists bool) error
	InvalidatePermission(ctx context.Context, resource, action, permCtx string) error
}

// Service orchestrates catalog operations and keeps the existence cache
// coherent with mutations.
type Service struct {
	repo   RepositoryPort
	cache  ExistenceCache
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cache ExistenceCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Create upserts a permission and refreshes the existence cache before
// returning, so a caller that creates and immediately checks observes it.
func (s *Service) Create(ctx context.Context, resource, action, permCtx, description string) (Permission, error) {
	perm, err := s.repo.Create(ctx, resource, action, permCtx, description)
	if err != nil {
		return Permission{}, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidatePermission(ctx, perm.Resource, perm.Action, perm.Context); err != nil {
			s.warn("invalidate permission cache", err)
		}
	}
	return perm, nil
}

// SyncDefaults idempotently seeds the default permission matrix.
func (s *Service) SyncDefaults(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		entries = DefaultEntries()
	}
	if err := s.repo.SyncDefaults(ctx, entries); err != nil {
		return err
	}
	if s.cache != nil {
		for _, entry := range entries {
			if err := s.cache.InvalidatePermission(ctx, entry.Resource, entry.Action, ContextAny); err != nil {
				s.warn("invalidate permission cache", err)
				break
			}
		}
	}
	return nil
}

// FindByResourceAction fetches the permission identified by (resource, action).
func (s *Service) FindByResourceAction(ctx context.Context, resource, action string) (Permission, error) {
	return s.repo.FindByResourceAction(ctx, resource, action)
}

// List returns all registered permissions.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// Exists reports whether a permission matching the triple is registered,
// consulting the boolean cache first.
func (s *Service) Exists(ctx context.Context, resource, action, permCtx string) (bool, error) {
	if permCtx == "" {
		permCtx = ContextAny
	}
	if s.cache != nil {
		if exists, ok := s.cache.CachedPermissionExists(ctx, resource, action, permCtx); ok {
			return exists, nil
		}
	}
	exists, err := s.repo.Exists(ctx, resource, action, permCtx)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		if err := s.cache.CachePermissionExists(ctx, resource, action, permCtx, exists); err != nil {
			s.warn("cache permission existence", err)
		}
	}
	return exists, nil
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
