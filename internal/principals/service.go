package principals

import (
	"context"
	"log/slog"

	"github.com/aegis-platform/aegis/internal/roles"
)

// RepositoryPort defines data access methods for principals.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Principal, error)
	Roles(ctx context.Context, principalID int64) ([]roles.Role, error)
	DirectGrants(ctx context.Context, principalID int64) ([]Grant, error)
	SyncGrants(ctx context.Context, principalID int64, grants []GrantInput) error
	AttachGrant(ctx context.Context, principalID int64, grant GrantInput) error
	RevokeGrant(ctx context.Context, principalID, permissionID int64) error
	AssignRole(ctx context.Context, principalID, roleID int64) error
	RemoveRole(ctx context.Context, principalID, roleID int64) error
}

// InvalidationCache is the slice of the decision cache the principal service
// needs: every grant or membership mutation drops the principal's entries.
type InvalidationCache interface {
	InvalidateUser(ctx context.Context, principalID int64) error
}

// Service handles principal business logic. Mutations invalidate the
// principal's cache entries before returning, so a subsequent check sees the
// new state.
type Service struct {
	repo   RepositoryPort
	cache  InvalidationCache
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache InvalidationCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Get fetches a principal. Soft-deleted principals surface as not found.
func (s *Service) Get(ctx context.Context, id int64) (Principal, error) {
	return s.repo.Get(ctx, id)
}

// Roles returns the roles attached to a principal.
func (s *Service) Roles(ctx context.Context, principalID int64) ([]roles.Role, error) {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return nil, err
	}
	return s.repo.Roles(ctx, principalID)
}

// DirectGrants returns the principal's direct grants, expired and revoked
// entries included.
func (s *Service) DirectGrants(ctx context.Context, principalID int64) ([]Grant, error) {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return nil, err
	}
	return s.repo.DirectGrants(ctx, principalID)
}

// SyncGrants replaces the principal's direct grants with exactly the given set.
func (s *Service) SyncGrants(ctx context.Context, principalID int64, grants []GrantInput) error {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return err
	}
	if err := s.repo.SyncGrants(ctx, principalID, grants); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// AttachGrant creates or updates a direct grant. Passing Granted=false
// records an explicit revocation that overrides role-derived permissions
// until it expires.
func (s *Service) AttachGrant(ctx context.Context, principalID int64, grant GrantInput) error {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return err
	}
	if err := s.repo.AttachGrant(ctx, principalID, grant); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// RevokeGrant deletes the direct grant record for a permission. The
// principal may still hold the permission through a role.
func (s *Service) RevokeGrant(ctx context.Context, principalID, permissionID int64) error {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return err
	}
	if err := s.repo.RevokeGrant(ctx, principalID, permissionID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// AssignRole attaches a role to a principal.
func (s *Service) AssignRole(ctx context.Context, principalID, roleID int64) error {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, principalID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// RemoveRole detaches a role from a principal.
func (s *Service) RemoveRole(ctx context.Context, principalID, roleID int64) error {
	if _, err := s.repo.Get(ctx, principalID); err != nil {
		return err
	}
	if err := s.repo.RemoveRole(ctx, principalID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, principalID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, principalID); err != nil && s.logger != nil {
		s.logger.Warn("invalidate principal cache", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}
