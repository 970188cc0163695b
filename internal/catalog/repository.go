package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis/internal/platform/db"
	"github.com/aegis-platform/aegis/internal/shared"
)

const permissionColumns = `id, name, description, resource, action, context, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for the permission catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create upserts a permission keyed by (resource, action). An existing record
// keeps its context and gets its description refreshed; duplicates never
// surface as uniqueness violations.
func (r *Repository) Create(ctx context.Context, resource, action, permCtx, description string) (Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return Permission{}, shared.ErrValidation
	}
	if permCtx == "" {
		permCtx = ContextAny
	}
	if !ValidContext(permCtx) {
		return Permission{}, shared.ErrValidation
	}
	name := DisplayName(resource, action, permCtx)

	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, description, resource, action, context)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource, action)
		DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()
		RETURNING `+permissionColumns,
		name, description, resource, action, permCtx)
	perm, err := scanPermission(row)
	if err == nil {
		return perm, nil
	}
	// The name column carries its own unique index; a concurrent insert can
	// still race past the (resource, action) conflict target.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return r.FindByResourceAction(ctx, resource, action)
	}
	return Permission{}, err
}

// SyncDefaults idempotently ensures every entry exists. Existing records keep
// their context and role links; only descriptions are refreshed.
func (r *Repository) SyncDefaults(ctx context.Context, entries []Entry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, entry := range entries {
			name := DisplayName(entry.Resource, entry.Action, ContextAny)
			if _, err := tx.Exec(ctx, `
				INSERT INTO permissions (name, description, resource, action, context)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (resource, action)
				DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()`,
				name, entry.Description, entry.Resource, entry.Action, ContextAny); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByResourceAction fetches the permission identified by (resource, action).
func (r *Repository) FindByResourceAction(ctx context.Context, resource, action string) (Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE resource = $1 AND action = $2`,
		resource, action)
	perm, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return perm, err
}

// FindByName fetches a permission by its derived display name.
func (r *Repository) FindByName(ctx context.Context, name string) (Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
	perm, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return perm, err
}

// List returns all permissions ordered by name.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// Exists reports whether a permission matching the triple is registered. A
// stored context of "any" satisfies every requested context.
func (r *Repository) Exists(ctx context.Context, resource, action, permCtx string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM permissions
			WHERE resource = $1 AND action = $2 AND (context = $3 OR context = 'any')
		)`, resource, action, permCtx).Scan(&exists)
	return exists, err
}

// ListByRoleSlugs returns the distinct permissions attached to any of the
// given roles.
func (r *Repository) ListByRoleSlugs(ctx context.Context, slugs []string) ([]Permission, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.id, p.name, p.description, p.resource, p.action, p.context, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN roles r ON r.id = rp.role_id
		WHERE r.slug = ANY($1)
		ORDER BY p.name`, slugs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.Context, &perm.CreatedAt, &perm.UpdatedAt)
	return perm, err
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.Context, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
