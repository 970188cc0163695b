package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegis-platform/aegis/internal/aclcache"
	"github.com/aegis-platform/aegis/internal/audit"
	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/observability"
	"github.com/aegis-platform/aegis/internal/principals"
	"github.com/aegis-platform/aegis/internal/roles"
)

// PrincipalStore is the slice of principal persistence the engine reads.
type PrincipalStore interface {
	Get(ctx context.Context, id int64) (principals.Principal, error)
	Roles(ctx context.Context, principalID int64) ([]roles.Role, error)
	DirectGrants(ctx context.Context, principalID int64) ([]principals.Grant, error)
}

// OwnershipEvaluator answers contextual ownership questions.
type OwnershipEvaluator interface {
	Resolve(ctx context.Context, principalID int64, resource string, resourceID int64, scope string) (bool, error)
}

// CheckOptions narrows a single permission check.
type CheckOptions struct {
	// Context overrides the default scope when the permission name does not
	// carry one. Empty means "any".
	Context string
	// ResourceID identifies the record a scoped check applies to.
	ResourceID *int64
}

// Decision is the outcome of one permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Reasons surfaced in decisions and audit records.
const (
	reasonGrant           = "unconditional grant"
	reasonOwnership       = "ownership established"
	reasonNoGrant         = "no matching grant"
	reasonNotOwner        = "ownership not established"
	reasonMissingResource = "scoped check without resource id"
	reasonMalformedName   = "malformed permission name"
)

// Service is the authorization decision engine. It aggregates direct grants
// and role-derived permissions into an effective set, resolves contextual
// ownership, caches decisions in redis and writes every check to the audit
// trail.
type Service struct {
	store     PrincipalStore
	resolver  *hierarchy.Resolver
	ownership OwnershipEvaluator
	cache     *aclcache.Cache
	recorder  *audit.Recorder
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(
	store PrincipalStore,
	resolver *hierarchy.Resolver,
	ownership OwnershipEvaluator,
	cache *aclcache.Cache,
	recorder *audit.Recorder,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		ownership: ownership,
		cache:     cache,
		recorder:  recorder,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// EffectivePermissions computes the principal's aggregated permission set:
// active direct grants unioned with the effective permissions of every role,
// deduplicated by (resource, action) with the direct entry winning. An
// unexpired direct revocation removes the identity from the result even when
// a role still carries it.
func (s *Service) EffectivePermissions(ctx context.Context, principalID int64) ([]catalog.Permission, error) {
	if cached, ok := s.cache.CachedUserPermissions(ctx, principalID); ok {
		s.observeCacheLookup(true)
		return fromCachedPermissions(cached), nil
	}
	s.observeCacheLookup(false)

	if _, err := s.store.Get(ctx, principalID); err != nil {
		return nil, err
	}
	effective, err := s.computeEffective(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheUserPermissions(ctx, principalID, toCachedPermissions(effective)); err != nil {
		s.logger.Warn("cache effective permissions", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
	return effective, nil
}

func (s *Service) computeEffective(ctx context.Context, principalID int64) ([]catalog.Permission, error) {
	now := s.now()
	grants, err := s.store.DirectGrants(ctx, principalID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var effective []catalog.Permission
	for _, g := range grants {
		if !g.Active(now) {
			continue
		}
		key := g.Permission.Resource + "." + g.Permission.Action
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		effective = append(effective, g.Permission)
	}

	memberships, err := s.roleMemberships(ctx, principalID)
	if err != nil {
		return nil, err
	}
	for _, role := range memberships {
		rolePerms, err := s.rolePermissions(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, perm := range rolePerms {
			key := perm.Resource + "." + perm.Action
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			effective = append(effective, perm)
		}
	}

	// An unexpired explicit revocation beats any role-derived grant.
	for _, g := range grants {
		if !g.ActiveRevoke(now) {
			continue
		}
		key := g.Permission.Resource + "." + g.Permission.Action
		for i, perm := range effective {
			if perm.Resource+"."+perm.Action == key {
				effective = append(effective[:i], effective[i+1:]...)
				break
			}
		}
	}
	return effective, nil
}

// Roles returns the principal's role memberships, cache first.
func (s *Service) Roles(ctx context.Context, principalID int64) ([]roles.Role, error) {
	if cached, ok := s.cache.CachedUserRoles(ctx, principalID); ok {
		s.observeCacheLookup(true)
		return fromCachedRoles(cached), nil
	}
	s.observeCacheLookup(false)
	return s.roleMemberships(ctx, principalID)
}

func (s *Service) roleMemberships(ctx context.Context, principalID int64) ([]roles.Role, error) {
	memberships, err := s.store.Roles(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheUserRoles(ctx, principalID, toCachedRoles(memberships)); err != nil {
		s.logger.Warn("cache role memberships", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
	return memberships, nil
}

func (s *Service) rolePermissions(ctx context.Context, role roles.Role) ([]catalog.Permission, error) {
	if cached, ok := s.cache.CachedRolePermissions(ctx, role.ID); ok {
		s.observeCacheLookup(true)
		return fromCachedPermissions(cached), nil
	}
	s.observeCacheLookup(false)
	perms, err := s.resolver.EffectivePermissions(ctx, role.Slug)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheRolePermissions(ctx, role.ID, toCachedPermissions(perms)); err != nil {
		s.logger.Warn("cache role permissions", slog.String("role", role.Slug), slog.Any("error", err))
	}
	return perms, nil
}

// Check decides whether the principal holds the named permission. The name
// is "resource.action" with an optional context segment; a context parsed
// from the name beats the one in opts. Unknown permissions deny rather than
// error; an unknown principal is an error. Every call leaves an audit record.
func (s *Service) Check(ctx context.Context, principalID int64, name string, opts CheckOptions) (Decision, error) {
	started := s.now()
	resource, action, parsedCtx, err := catalog.ParseName(name)
	if err != nil {
		decision := Decision{Allowed: false, Reason: reasonMalformedName}
		s.finishCheck(ctx, principalID, resource, action, "", opts.ResourceID, decision, started)
		return decision, nil
	}
	scope := parsedCtx
	if scope == "" {
		scope = opts.Context
	}
	if scope == "" {
		scope = catalog.ContextAny
	}

	if _, err := s.store.Get(ctx, principalID); err != nil {
		return Decision{}, err
	}

	effective, err := s.EffectivePermissions(ctx, principalID)
	if err != nil {
		return Decision{}, err
	}

	decision, err := s.decide(ctx, principalID, resource, action, scope, opts.ResourceID, effective)
	if err != nil {
		return Decision{}, err
	}
	s.finishCheck(ctx, principalID, resource, action, scope, opts.ResourceID, decision, started)
	return decision, nil
}

// decide walks the effective set looking for a grant that covers the
// requested scope. A stored "any" context grants unconditionally; a stored
// scoped context matches only the same requested scope and then requires the
// ownership relation to hold for the concrete record.
func (s *Service) decide(ctx context.Context, principalID int64, resource, action, scope string, resourceID *int64, effective []catalog.Permission) (Decision, error) {
	var scoped *catalog.Permission
	for i, perm := range effective {
		if perm.Resource != resource || perm.Action != action {
			continue
		}
		if perm.Context == catalog.ContextAny || perm.Context == "" {
			return Decision{Allowed: true, Reason: reasonGrant}, nil
		}
		if perm.Context == scope {
			scoped = &effective[i]
		}
	}
	if scoped == nil {
		return Decision{Allowed: false, Reason: reasonNoGrant}, nil
	}
	if resourceID == nil {
		return Decision{Allowed: false, Reason: reasonMissingResource}, nil
	}
	owns, err := s.ownership.Resolve(ctx, principalID, resource, *resourceID, scoped.Context)
	if err != nil {
		return Decision{}, err
	}
	if owns {
		return Decision{Allowed: true, Reason: reasonOwnership}, nil
	}
	return Decision{Allowed: false, Reason: reasonNotOwner}, nil
}

// CheckAll evaluates every named permission and reports whether all hold.
// Each sub-check is evaluated and audited even after the aggregate is
// already decided.
func (s *Service) CheckAll(ctx context.Context, principalID int64, names []string, opts CheckOptions) (bool, error) {
	allowed := true
	for _, name := range names {
		decision, err := s.Check(ctx, principalID, name, opts)
		if err != nil {
			return false, err
		}
		if !decision.Allowed {
			allowed = false
		}
	}
	return allowed, nil
}

// CheckAny evaluates every named permission and reports whether at least one
// holds.
func (s *Service) CheckAny(ctx context.Context, principalID int64, names []string, opts CheckOptions) (bool, error) {
	allowed := false
	for _, name := range names {
		decision, err := s.Check(ctx, principalID, name, opts)
		if err != nil {
			return false, err
		}
		if decision.Allowed {
			allowed = true
		}
	}
	return allowed, nil
}

// BatchCheck evaluates a set of permission names concurrently and returns
// the decision per name.
func (s *Service) BatchCheck(ctx context.Context, principalID int64, names []string, opts CheckOptions) (map[string]bool, error) {
	results := make([]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			decision, err := s.Check(gctx, principalID, name, opts)
			if err != nil {
				return err
			}
			results[i] = decision.Allowed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

// Warm precomputes and caches the principal's effective permissions and
// role memberships.
func (s *Service) Warm(ctx context.Context, principalID int64) error {
	if _, err := s.store.Get(ctx, principalID); err != nil {
		return err
	}
	effective, err := s.computeEffective(ctx, principalID)
	if err != nil {
		return err
	}
	return s.cache.CacheUserPermissions(ctx, principalID, toCachedPermissions(effective))
}

// WarmMany warms a batch of principals with bounded concurrency. Principals
// that no longer exist are skipped.
func (s *Service) WarmMany(ctx context.Context, principalIDs []int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range principalIDs {
		g.Go(func() error {
			if err := s.Warm(gctx, id); err != nil {
				s.logger.Warn("warm principal cache", slog.Int64("principal_id", id), slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Summary bundles a principal's authorization state for introspection.
// Direct lists the names of active direct grants; Permissions is the full
// effective set after role aggregation and revocations.
type Summary struct {
	Principal   principals.Principal
	Roles       []roles.Role
	Direct      []string
	Permissions []string
}

// Summarize returns the principal's roles, direct grants and effective
// permission names.
func (s *Service) Summarize(ctx context.Context, principalID int64) (Summary, error) {
	principal, err := s.store.Get(ctx, principalID)
	if err != nil {
		return Summary{}, err
	}
	memberships, err := s.Roles(ctx, principalID)
	if err != nil {
		return Summary{}, err
	}
	grants, err := s.store.DirectGrants(ctx, principalID)
	if err != nil {
		return Summary{}, err
	}
	now := s.now()
	direct := make([]string, 0, len(grants))
	for _, g := range grants {
		if !g.Active(now) {
			continue
		}
		direct = append(direct, catalog.DisplayName(g.Permission.Resource, g.Permission.Action, g.Permission.Context))
	}
	effective, err := s.EffectivePermissions(ctx, principalID)
	if err != nil {
		return Summary{}, err
	}
	names := make([]string, 0, len(effective))
	for _, perm := range effective {
		names = append(names, catalog.DisplayName(perm.Resource, perm.Action, perm.Context))
	}
	return Summary{Principal: principal, Roles: memberships, Direct: direct, Permissions: names}, nil
}

func (s *Service) finishCheck(ctx context.Context, principalID int64, resource, action, scope string, resourceID *int64, decision Decision, started time.Time) {
	result := audit.ResultDenied
	if decision.Allowed {
		result = audit.ResultGranted
	}
	if s.metrics != nil {
		s.metrics.ObserveCheck(result, s.now().Sub(started))
	}
	var recID string
	if resourceID != nil {
		recID = strconv.FormatInt(*resourceID, 10)
	}
	actor := principalID
	if err := s.recorder.Record(ctx, audit.Record{
		ActorID:    &actor,
		Action:     action,
		Resource:   resource,
		ResourceID: recID,
		Context:    scope,
		Result:     result,
		Reason:     decision.Reason,
	}); err != nil {
		s.logger.Error("record decision", slog.Any("error", err))
	}
}

func (s *Service) observeCacheLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveCacheLookup(hit)
	}
}

func toCachedPermissions(perms []catalog.Permission) []aclcache.Permission {
	out := make([]aclcache.Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, aclcache.Permission{
			ID:       p.ID,
			Name:     p.Name,
			Resource: p.Resource,
			Action:   p.Action,
			Context:  p.Context,
		})
	}
	return out
}

func fromCachedPermissions(perms []aclcache.Permission) []catalog.Permission {
	out := make([]catalog.Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, catalog.Permission{
			ID:       p.ID,
			Name:     p.Name,
			Resource: p.Resource,
			Action:   p.Action,
			Context:  p.Context,
		})
	}
	return out
}

func toCachedRoles(memberships []roles.Role) []aclcache.Role {
	out := make([]aclcache.Role, 0, len(memberships))
	for _, r := range memberships {
		out = append(out, aclcache.Role{ID: r.ID, Slug: r.Slug, Name: r.Name})
	}
	return out
}

func fromCachedRoles(cached []aclcache.Role) []roles.Role {
	out := make([]roles.Role, 0, len(cached))
	for _, r := range cached {
		out = append(out, roles.Role{ID: r.ID, Slug: r.Slug, Name: r.Name})
	}
	return out
}
