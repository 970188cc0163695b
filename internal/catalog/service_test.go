package catalog

import (
	"context"
	"testing"
)

type stubRepo struct {
	perms       map[string]Permission
	existsCalls int
	syncCalls   int
}

func (s *stubRepo) Create(ctx context.Context, resource, action, permCtx, description string) (Permission, error) {
	p := Permission{ID: int64(len(s.perms) + 1), Resource: resource, Action: action, Context: permCtx, Description: description, Name: DisplayName(resource, action, permCtx)}
	if s.perms == nil {
		s.perms = map[string]Permission{}
	}
	s.perms[resource+"."+action] = p
	return p, nil
}

func (s *stubRepo) SyncDefaults(ctx context.Context, entries []Entry) error {
	s.syncCalls++
	for _, e := range entries {
		if _, err := s.Create(ctx, e.Resource, e.Action, ContextAny, e.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubRepo) FindByResourceAction(ctx context.Context, resource, action string) (Permission, error) {
	return s.perms[resource+"."+action], nil
}

func (s *stubRepo) FindByName(ctx context.Context, name string) (Permission, error) {
	for _, p := range s.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, nil
}

func (s *stubRepo) List(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) Exists(ctx context.Context, resource, action, permCtx string) (bool, error) {
	s.existsCalls++
	_, ok := s.perms[resource+"."+action]
	return ok, nil
}

type stubExistenceCache struct {
	entries     map[string]bool
	invalidated []string
}

func (c *stubExistenceCache) key(resource, action, permCtx string) string {
	return resource + ":" + action + ":" + permCtx
}

func (c *stubExistenceCache) CachedPermissionExists(ctx context.Context, resource, action, permCtx string) (bool, bool) {
	v, ok := c.entries[c.key(resource, action, permCtx)]
	return v, ok
}

func (c *stubExistenceCache) CachePermissionExists(ctx context.Context, resource, action, permCtx string, exists bool) error {
	if c.entries == nil {
		c.entries = map[string]bool{}
	}
	c.entries[c.key(resource, action, permCtx)] = exists
	return nil
}

func (c *stubExistenceCache) InvalidatePermission(ctx context.Context, resource, action, permCtx string) error {
	c.invalidated = append(c.invalidated, c.key(resource, action, permCtx))
	delete(c.entries, c.key(resource, action, permCtx))
	return nil
}

func TestExistsUsesCacheOnSecondLookup(t *testing.T) {
	repo := &stubRepo{}
	cache := &stubExistenceCache{}
	svc := NewService(repo, cache, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "users", "read", ContextAny, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err := svc.Exists(ctx, "users", "read", ContextAny)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected permission to exist")
	}
	if repo.existsCalls != 1 {
		t.Fatalf("expected 1 repo lookup, got %d", repo.existsCalls)
	}

	// Second lookup is answered from the cache.
	if _, err := svc.Exists(ctx, "users", "read", ContextAny); err != nil {
		t.Fatalf("exists: %v", err)
	}
	if repo.existsCalls != 1 {
		t.Fatalf("expected cached lookup, repo calls %d", repo.existsCalls)
	}
}

func TestCreateInvalidatesExistenceCache(t *testing.T) {
	repo := &stubRepo{}
	cache := &stubExistenceCache{entries: map[string]bool{"files:delete:any": false}}
	svc := NewService(repo, cache, nil)

	if _, err := svc.Create(context.Background(), "files", "delete", ContextAny, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(cache.invalidated) != 1 {
		t.Fatalf("expected 1 invalidation, got %v", cache.invalidated)
	}
	if _, ok := cache.entries["files:delete:any"]; ok {
		t.Fatalf("expected stale negative entry dropped")
	}
}

func TestSyncDefaultsSeedsWhenEmpty(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	if err := svc.SyncDefaults(context.Background(), nil); err != nil {
		t.Fatalf("sync defaults: %v", err)
	}
	if repo.syncCalls != 1 {
		t.Fatalf("expected 1 sync, got %d", repo.syncCalls)
	}
	if len(repo.perms) != len(DefaultEntries()) {
		t.Fatalf("expected %d permissions, got %d", len(DefaultEntries()), len(repo.perms))
	}

	// Rerunning converges to the same state.
	if err := svc.SyncDefaults(context.Background(), nil); err != nil {
		t.Fatalf("sync defaults again: %v", err)
	}
	if len(repo.perms) != len(DefaultEntries()) {
		t.Fatalf("expected idempotent seed, got %d permissions", len(repo.perms))
	}
}
