package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/shared"
)

type stubSource struct {
	bySlug map[string][]catalog.Permission
	calls  [][]string
}

func (s *stubSource) ListByRoleSlugs(ctx context.Context, slugs []string) ([]catalog.Permission, error) {
	s.calls = append(s.calls, slugs)
	var out []catalog.Permission
	for _, slug := range slugs {
		out = append(out, s.bySlug[slug]...)
	}
	return out, nil
}

type stubLinkStore struct {
	replaced map[string][]int64
}

func (s *stubLinkStore) ReplacePermissions(ctx context.Context, slug string, ids []int64) error {
	if s.replaced == nil {
		s.replaced = map[string][]int64{}
	}
	s.replaced[slug] = ids
	return nil
}

func perm(id int64, resource, action, permCtx string) catalog.Permission {
	return catalog.Permission{ID: id, Resource: resource, Action: action, Context: permCtx}
}

func TestEffectivePermissionsMergesDescendants(t *testing.T) {
	source := &stubSource{bySlug: map[string][]catalog.Permission{
		SlugEditor: {perm(1, "posts", "update", "any")},
		SlugUser:   {perm(2, "files", "read", "any")},
		SlugGuest:  {perm(3, "posts", "read", "any")},
	}}
	r := NewResolver(DefaultConfig(), source)

	got, err := r.EffectivePermissions(context.Background(), SlugEditor)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 permissions, got %d", len(got))
	}
}

func TestEffectivePermissionsDirectContextWins(t *testing.T) {
	// The editor narrows files.read to own records; the inherited
	// unconditional grant must not widen it back.
	source := &stubSource{bySlug: map[string][]catalog.Permission{
		SlugEditor: {perm(1, "files", "read", "own")},
		SlugUser:   {perm(2, "files", "read", "any")},
	}}
	r := NewResolver(DefaultConfig(), source)

	got, err := r.EffectivePermissions(context.Background(), SlugEditor)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 permission, got %d", len(got))
	}
	if got[0].Context != "own" {
		t.Fatalf("expected direct context to win, got %q", got[0].Context)
	}
}

func TestSyncInheritedReplacesLinks(t *testing.T) {
	source := &stubSource{bySlug: map[string][]catalog.Permission{
		SlugUser:  {perm(10, "users", "read", "any")},
		SlugGuest: {perm(11, "posts", "read", "any")},
	}}
	store := &stubLinkStore{}
	r := NewResolver(DefaultConfig(), source)

	if err := r.SyncInherited(context.Background(), SlugUser, store); err != nil {
		t.Fatalf("sync inherited: %v", err)
	}
	ids := store.replaced[SlugUser]
	if len(ids) != 2 {
		t.Fatalf("expected 2 linked permissions, got %v", ids)
	}
}

func TestSyncInheritedRefusesCyclicConfig(t *testing.T) {
	source := &stubSource{bySlug: map[string][]catalog.Permission{}}
	store := &stubLinkStore{}
	r := NewResolver(Config{"a": {"b"}, "b": {"a"}}, source)

	err := r.SyncInherited(context.Background(), "a", store)
	if err == nil {
		t.Fatalf("expected error for cyclic hierarchy")
	}
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.replaced) != 0 {
		t.Fatalf("store must not be touched on cycle, got %v", store.replaced)
	}
}
