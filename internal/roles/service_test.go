package roles

import (
	"context"
	"testing"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/shared"
)

type stubRoleRepo struct {
	bySlug   map[string]Role
	linked   map[string][]int64
	setCalls int
}

func (s *stubRoleRepo) List(ctx context.Context) ([]Role, error) { return nil, nil }

func (s *stubRoleRepo) Get(ctx context.Context, id int64) (Role, error) {
	for _, r := range s.bySlug {
		if r.ID == id {
			return r, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (s *stubRoleRepo) FindBySlug(ctx context.Context, slug string) (Role, error) {
	r, ok := s.bySlug[slug]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (s *stubRoleRepo) Create(ctx context.Context, slug, name, description string) (Role, error) {
	r := Role{ID: int64(len(s.bySlug) + 1), Slug: slug, Name: name, Description: description}
	s.bySlug[slug] = r
	return r, nil
}

func (s *stubRoleRepo) Ensure(ctx context.Context, slug, name, description string) (Role, error) {
	if r, ok := s.bySlug[slug]; ok {
		return r, nil
	}
	return s.Create(ctx, slug, name, description)
}

func (s *stubRoleRepo) Update(ctx context.Context, id int64, name, description string) (Role, error) {
	return Role{ID: id, Name: name, Description: description}, nil
}

func (s *stubRoleRepo) ListPermissions(ctx context.Context, roleID int64) ([]catalog.Permission, error) {
	return nil, nil
}

func (s *stubRoleRepo) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}

func (s *stubRoleRepo) DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}

func (s *stubRoleRepo) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	s.setCalls++
	return nil
}

func (s *stubRoleRepo) ReplacePermissions(ctx context.Context, slug string, permissionIDs []int64) error {
	if _, ok := s.bySlug[slug]; !ok {
		return shared.ErrNotFound
	}
	s.linked[slug] = permissionIDs
	return nil
}

func (s *stubRoleRepo) ListByRoleSlugs(ctx context.Context, slugs []string) ([]catalog.Permission, error) {
	var out []catalog.Permission
	for i, slug := range slugs {
		if _, ok := s.bySlug[slug]; ok {
			out = append(out, catalog.Permission{ID: int64(i + 1), Resource: slug, Action: "read", Context: "any"})
		}
	}
	return out, nil
}

type stubInvalidator struct {
	roleIDs  []int64
	allUsers int
}

func (s *stubInvalidator) InvalidateRole(ctx context.Context, roleID int64) error {
	s.roleIDs = append(s.roleIDs, roleID)
	return nil
}

func (s *stubInvalidator) InvalidateAllUsers(ctx context.Context) error {
	s.allUsers++
	return nil
}

func newRoleService(repo *stubRoleRepo, cache *stubInvalidator) *Service {
	resolver := hierarchy.NewResolver(hierarchy.DefaultConfig(), repo)
	return NewService(repo, cache, resolver, nil)
}

func TestCreateValidation(t *testing.T) {
	svc := newRoleService(&stubRoleRepo{bySlug: map[string]Role{}, linked: map[string][]int64{}}, &stubInvalidator{})
	if _, err := svc.Create(context.Background(), "  ", "Name", ""); err == nil {
		t.Fatalf("expected error for empty slug")
	}
	if _, err := svc.Create(context.Background(), "ops", "", ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := svc.Create(context.Background(), "ops", "Operations", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestSetPermissionsInvalidatesCaches(t *testing.T) {
	repo := &stubRoleRepo{bySlug: map[string]Role{"ops": {ID: 9, Slug: "ops"}}, linked: map[string][]int64{}}
	cache := &stubInvalidator{}
	svc := newRoleService(repo, cache)

	if err := svc.SetPermissions(context.Background(), 9, []int64{1, 2}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	if repo.setCalls != 1 {
		t.Fatalf("expected repo call, got %d", repo.setCalls)
	}
	if len(cache.roleIDs) != 1 || cache.roleIDs[0] != 9 {
		t.Fatalf("expected role 9 invalidated, got %v", cache.roleIDs)
	}
	if cache.allUsers != 1 {
		t.Fatalf("expected all principal caches dropped once, got %d", cache.allUsers)
	}
}

func TestAttachDetachInvalidate(t *testing.T) {
	repo := &stubRoleRepo{bySlug: map[string]Role{"ops": {ID: 9, Slug: "ops"}}, linked: map[string][]int64{}}
	cache := &stubInvalidator{}
	svc := newRoleService(repo, cache)
	ctx := context.Background()

	if err := svc.AttachPermissions(ctx, 9, []int64{1}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.DetachPermissions(ctx, 9, []int64{1}); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if cache.allUsers != 2 {
		t.Fatalf("expected 2 invalidations, got %d", cache.allUsers)
	}
}

func TestSyncInheritedStoresEffectiveSet(t *testing.T) {
	repo := &stubRoleRepo{
		bySlug: map[string]Role{
			hierarchy.SlugEditor: {ID: 2, Slug: hierarchy.SlugEditor},
			hierarchy.SlugUser:   {ID: 3, Slug: hierarchy.SlugUser},
			hierarchy.SlugGuest:  {ID: 4, Slug: hierarchy.SlugGuest},
		},
		linked: map[string][]int64{},
	}
	cache := &stubInvalidator{}
	svc := newRoleService(repo, cache)

	if err := svc.SyncInherited(context.Background(), hierarchy.SlugEditor); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// editor + its descendants user and guest.
	if got := len(repo.linked[hierarchy.SlugEditor]); got != 3 {
		t.Fatalf("expected 3 linked permissions, got %d", got)
	}
	if len(cache.roleIDs) != 1 || cache.roleIDs[0] != 2 {
		t.Fatalf("expected editor cache invalidated, got %v", cache.roleIDs)
	}
}

func TestSyncAllInheritedSkipsMissingRoles(t *testing.T) {
	// Only a subset of the configured hierarchy exists in the store.
	repo := &stubRoleRepo{
		bySlug: map[string]Role{
			hierarchy.SlugUser:  {ID: 3, Slug: hierarchy.SlugUser},
			hierarchy.SlugGuest: {ID: 4, Slug: hierarchy.SlugGuest},
		},
		linked: map[string][]int64{},
	}
	svc := newRoleService(repo, &stubInvalidator{})

	if err := svc.SyncAllInherited(context.Background()); err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if len(repo.linked) != 2 {
		t.Fatalf("expected links for the 2 stored roles, got %v", repo.linked)
	}
}
