package ownership

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-platform/aegis/internal/shared"
)

type fakeProvider struct {
	owners      map[int64]int64
	teammates   map[[2]int64]bool
	departments map[[2]int64]bool
}

func (p *fakeProvider) OwnerID(ctx context.Context, rule Rule, resourceID int64) (int64, error) {
	owner, ok := p.owners[resourceID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return owner, nil
}

func (p *fakeProvider) SameTeam(ctx context.Context, a, b int64) (bool, error) {
	return p.teammates[[2]int64{a, b}], nil
}

func (p *fakeProvider) SameDepartment(ctx context.Context, a, b int64) (bool, error) {
	return p.departments[[2]int64{a, b}], nil
}

func (p *fakeProvider) Transfer(ctx context.Context, rule Rule, resourceID, newOwnerID int64) error {
	if _, ok := p.owners[resourceID]; !ok {
		return shared.ErrNotFound
	}
	p.owners[resourceID] = newOwnerID
	return nil
}

func newTestEvaluator(provider Provider) *Evaluator {
	rules := Rules{
		"files": {Resource: "files", Table: "files", OwnerField: "uploaded_by"},
	}
	return NewEvaluator(rules, provider, nil)
}

func TestResolveAnyAlwaysPasses(t *testing.T) {
	e := newTestEvaluator(&fakeProvider{})
	ok, err := e.Resolve(context.Background(), 1, "files", 100, "any")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResolveOwn(t *testing.T) {
	provider := &fakeProvider{owners: map[int64]int64{100: 1}}
	e := newTestEvaluator(provider)
	ctx := context.Background()

	ok, err := e.Resolve(ctx, 1, "files", 100, "own")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Resolve(ctx, 2, "files", 100, "own")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveTeamIncludesOwnership(t *testing.T) {
	provider := &fakeProvider{
		owners:    map[int64]int64{100: 1},
		teammates: map[[2]int64]bool{{2, 1}: true},
	}
	e := newTestEvaluator(provider)
	ctx := context.Background()

	// The owner satisfies the team scope without a team lookup.
	ok, err := e.Resolve(ctx, 1, "files", 100, "team")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Resolve(ctx, 2, "files", 100, "team")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Resolve(ctx, 3, "files", 100, "team")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveDepartmentStacksOverTeam(t *testing.T) {
	provider := &fakeProvider{
		owners:      map[int64]int64{100: 1},
		teammates:   map[[2]int64]bool{{2, 1}: true},
		departments: map[[2]int64]bool{{3, 1}: true},
	}
	e := newTestEvaluator(provider)
	ctx := context.Background()

	for _, principal := range []int64{1, 2, 3} {
		ok, err := e.Resolve(ctx, principal, "files", 100, "department")
		require.NoError(t, err)
		require.True(t, ok, "principal %d", principal)
	}

	ok, err := e.Resolve(ctx, 4, "files", 100, "department")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveDeniesWithoutRule(t *testing.T) {
	e := newTestEvaluator(&fakeProvider{})
	ok, err := e.Resolve(context.Background(), 1, "widgets", 100, "own")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveDeniesMissingRecord(t *testing.T) {
	e := newTestEvaluator(&fakeProvider{owners: map[int64]int64{}})
	ok, err := e.Resolve(context.Background(), 1, "files", 404, "own")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveUnknownScopeDenies(t *testing.T) {
	e := newTestEvaluator(&fakeProvider{owners: map[int64]int64{100: 1}})
	ok, err := e.Resolve(context.Background(), 1, "files", 100, "galaxy")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCustomCheckAuthoritativeForOwn(t *testing.T) {
	calls := 0
	rules := Rules{
		"projects": {
			Resource: "projects",
			Check: func(ctx context.Context, principalID, resourceID int64) (bool, error) {
				calls++
				return principalID == 42, nil
			},
		},
	}
	e := NewEvaluator(rules, &fakeProvider{}, nil)
	ctx := context.Background()

	ok, err := e.Resolve(ctx, 42, "projects", 1, "own")
	require.NoError(t, err)
	require.True(t, ok)

	// Denied by the check and the rule has no owner column to widen through.
	ok, err = e.Resolve(ctx, 7, "projects", 1, "team")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, calls)
}

func TestLevelClassification(t *testing.T) {
	provider := &fakeProvider{
		owners:      map[int64]int64{100: 1},
		teammates:   map[[2]int64]bool{{2, 1}: true},
		departments: map[[2]int64]bool{{3, 1}: true},
	}
	e := newTestEvaluator(provider)
	ctx := context.Background()

	cases := []struct {
		principal int64
		want      string
	}{
		{1, LevelOwner},
		{2, LevelTeamMember},
		{3, LevelDepartmentMember},
		{4, LevelCollaborator},
	}
	for _, tc := range cases {
		level, err := e.Level(ctx, tc.principal, "files", 100)
		require.NoError(t, err)
		require.Equal(t, tc.want, level, "principal %d", tc.principal)
	}

	level, err := e.Level(ctx, 1, "files", 404)
	require.NoError(t, err)
	require.Equal(t, LevelCollaborator, level, "missing record")
}

func TestTransferRequiresOwnership(t *testing.T) {
	provider := &fakeProvider{owners: map[int64]int64{100: 1}}
	e := newTestEvaluator(provider)
	ctx := context.Background()

	err := e.Transfer(ctx, 2, "files", 100, 3)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, int64(1), provider.owners[100])

	require.NoError(t, e.Transfer(ctx, 1, "files", 100, 3))
	require.Equal(t, int64(3), provider.owners[100])

	err = e.Transfer(ctx, 1, "widgets", 100, 3)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCustomCheckErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	rules := Rules{
		"projects": {
			Resource: "projects",
			Check: func(ctx context.Context, principalID, resourceID int64) (bool, error) {
				return false, wantErr
			},
		},
	}
	e := NewEvaluator(rules, &fakeProvider{}, nil)
	_, err := e.Resolve(context.Background(), 1, "projects", 1, "own")
	require.ErrorIs(t, err, wantErr)
}
