package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aegis-platform/aegis/internal/aclcache"
	"github.com/aegis-platform/aegis/internal/audit"
	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/principals"
	"github.com/aegis-platform/aegis/internal/roles"
	"github.com/aegis-platform/aegis/internal/shared"
	_ "github.com/aegis-platform/aegis/testing"
)

type memStore struct {
	mu         sync.Mutex
	principals map[int64]principals.Principal
	roles      map[int64][]roles.Role
	grants     map[int64][]principals.Grant
}

func (m *memStore) Get(ctx context.Context, id int64) (principals.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok || p.IsDeleted {
		return principals.Principal{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memStore) Roles(ctx context.Context, principalID int64) ([]roles.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]roles.Role(nil), m.roles[principalID]...), nil
}

func (m *memStore) DirectGrants(ctx context.Context, principalID int64) ([]principals.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]principals.Grant(nil), m.grants[principalID]...), nil
}

type memSource struct {
	bySlug map[string][]catalog.Permission
}

func (s *memSource) ListByRoleSlugs(ctx context.Context, slugs []string) ([]catalog.Permission, error) {
	var out []catalog.Permission
	for _, slug := range slugs {
		out = append(out, s.bySlug[slug]...)
	}
	return out, nil
}

type memOwnership struct {
	owns map[int64]int64 // resourceID -> owner principal
}

func (o *memOwnership) Resolve(ctx context.Context, principalID int64, resource string, resourceID int64, scope string) (bool, error) {
	if scope == catalog.ContextAny {
		return true, nil
	}
	return o.owns[resourceID] == principalID, nil
}

type memSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *memSink) Insert(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

type fixture struct {
	svc       *Service
	store     *memStore
	source    *memSource
	cache     *aclcache.Cache
	sink      *memSink
	ownership *memOwnership
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &memStore{
		principals: map[int64]principals.Principal{},
		roles:      map[int64][]roles.Role{},
		grants:     map[int64][]principals.Grant{},
	}
	source := &memSource{bySlug: map[string][]catalog.Permission{}}
	sink := &memSink{}
	owns := &memOwnership{owns: map[int64]int64{}}
	cache := aclcache.New(client, nil, aclcache.Options{})
	recorder := audit.NewRecorder(sink, nil, false)
	resolver := hierarchy.NewResolver(hierarchy.DefaultConfig(), source)

	svc := NewService(store, resolver, owns, cache, recorder, nil, nil)
	return &fixture{svc: svc, store: store, source: source, cache: cache, sink: sink, ownership: owns}
}

func perm(id int64, resource, action, permCtx string) catalog.Permission {
	return catalog.Permission{
		ID:       id,
		Name:     catalog.DisplayName(resource, action, permCtx),
		Resource: resource,
		Action:   action,
		Context:  permCtx,
	}
}

func (f *fixture) addPrincipal(id int64, roleSlugs ...string) {
	f.store.principals[id] = principals.Principal{ID: id, Email: "p@example.com"}
	for i, slug := range roleSlugs {
		f.store.roles[id] = append(f.store.roles[id], roles.Role{ID: int64(100 + i), Slug: slug, Name: slug})
	}
}

func TestCheckGrantedThroughInheritedRole(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugEditor] = []catalog.Permission{perm(1, "posts", "update", "any")}
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.source.bySlug[hierarchy.SlugGuest] = []catalog.Permission{perm(3, "posts", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugEditor)
	ctx := context.Background()

	// posts.read comes from guest, two hops down the hierarchy.
	decision, err := f.svc.Check(ctx, 1, "posts.read", CheckOptions{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	records := f.sink.all()
	require.Len(t, records, 1)
	require.Equal(t, audit.ResultGranted, records[0].Result)
	require.Equal(t, "posts", records[0].Resource)
	require.Equal(t, "read", records[0].Action)
	require.NotNil(t, records[0].ActorID)
	require.Equal(t, int64(1), *records[0].ActorID)
}

func TestCheckDeniesWithoutGrant(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)
	ctx := context.Background()

	decision, err := f.svc.Check(ctx, 1, "files.delete", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, reasonNoGrant, decision.Reason)

	records := f.sink.all()
	require.Len(t, records, 1)
	require.Equal(t, audit.ResultDenied, records[0].Result)
}

func TestCheckExcludesExpiredGrant(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)
	expired := time.Now().Add(-time.Hour)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(5, "files", "delete", "any"), Granted: true, ExpiresAt: &expired},
	}

	decision, err := f.svc.Check(context.Background(), 1, "files.delete", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestCheckHonorsUnexpiredGrantWithExpiry(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)
	future := time.Now().Add(time.Hour)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(5, "files", "delete", "any"), Granted: true, ExpiresAt: &future},
	}

	decision, err := f.svc.Check(context.Background(), 1, "files.delete", CheckOptions{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestRevocationVetoesRoleGrant(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(2, "files", "read", "any"), Granted: false},
	}

	decision, err := f.svc.Check(context.Background(), 1, "files.read", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestExpiredRevocationStopsVetoing(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	past := time.Now().Add(-time.Minute)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(2, "files", "read", "any"), Granted: false, ExpiresAt: &past},
	}

	decision, err := f.svc.Check(context.Background(), 1, "files.read", CheckOptions{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestCheckOwnScope(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(7, "files", "delete", "own"), Granted: true},
	}
	f.ownership.owns[55] = 1
	ctx := context.Background()
	resID := int64(55)

	decision, err := f.svc.Check(ctx, 1, "files.delete.own", CheckOptions{ResourceID: &resID})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, reasonOwnership, decision.Reason)

	other := int64(56)
	decision, err = f.svc.Check(ctx, 1, "files.delete.own", CheckOptions{ResourceID: &other})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, reasonNotOwner, decision.Reason)
}

func TestScopedCheckRequiresResourceID(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(7, "files", "delete", "own"), Granted: true},
	}

	decision, err := f.svc.Check(context.Background(), 1, "files.delete.own", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, reasonMissingResource, decision.Reason)
}

func TestScopedGrantDoesNotAnswerAnyScope(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(7, "files", "delete", "own"), Granted: true},
	}

	// Holding files.delete only on own records does not grant the
	// unconditional permission.
	decision, err := f.svc.Check(context.Background(), 1, "files.delete", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestMalformedNameDeniesWithoutError(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(1)

	decision, err := f.svc.Check(context.Background(), 1, "files", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, reasonMalformedName, decision.Reason)
}

func TestCheckUnknownPrincipalErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Check(context.Background(), 404, "files.read", CheckOptions{})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.sink.all())
}

func TestCheckReflectsInvalidation(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	ctx := context.Background()

	decision, err := f.svc.Check(ctx, 1, "files.read", CheckOptions{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Remove the role membership. The cached set still answers until the
	// principal's entries are invalidated.
	f.store.mu.Lock()
	f.store.roles[1] = nil
	f.store.mu.Unlock()

	decision, err = f.svc.Check(ctx, 1, "files.read", CheckOptions{})
	require.NoError(t, err)
	require.True(t, decision.Allowed, "stale cache answers until invalidated")

	require.NoError(t, f.cache.InvalidateUser(ctx, 1))

	decision, err = f.svc.Check(ctx, 1, "files.read", CheckOptions{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestCheckAllAuditsEverySubCheck(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	ctx := context.Background()

	allowed, err := f.svc.CheckAll(ctx, 1, []string{"files.write", "files.read"}, CheckOptions{})
	require.NoError(t, err)
	require.False(t, allowed)
	// The first denial must not short-circuit the second sub-check's trail.
	require.Len(t, f.sink.all(), 2)

	any, err := f.svc.CheckAny(ctx, 1, []string{"files.write", "files.read"}, CheckOptions{})
	require.NoError(t, err)
	require.True(t, any)
	require.Len(t, f.sink.all(), 4)
}

func TestBatchCheck(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)

	results, err := f.svc.BatchCheck(context.Background(), 1, []string{"files.read", "files.write"}, CheckOptions{})
	require.NoError(t, err)
	require.True(t, results["files.read"])
	require.False(t, results["files.write"])
}

func TestEffectivePermissionsDirectContextWins(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(9, "files", "read", "own"), Granted: true},
	}

	effective, err := f.svc.EffectivePermissions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, effective, 1)
	require.Equal(t, "own", effective[0].Context)
}

func TestWarmPrecomputesCache(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	ctx := context.Background()

	require.NoError(t, f.svc.Warm(ctx, 1))
	cached, hit := f.cache.CachedUserPermissions(ctx, 1)
	require.True(t, hit)
	require.Len(t, cached, 1)
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	f.source.bySlug[hierarchy.SlugUser] = []catalog.Permission{perm(2, "files", "read", "any")}
	f.addPrincipal(1, hierarchy.SlugUser)
	f.store.grants[1] = []principals.Grant{
		{Permission: perm(7, "files", "delete", "own"), Granted: true},
	}

	summary, err := f.svc.Summarize(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Principal.ID)
	require.Len(t, summary.Roles, 1)
	require.Equal(t, []string{"files.delete.own"}, summary.Direct)
	require.ElementsMatch(t, []string{"files.read", "files.delete.own"}, summary.Permissions)
}
