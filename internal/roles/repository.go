package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/platform/db"
	"github.com/aegis-platform/aegis/internal/shared"
)

const roleColumns = `id, slug, name, description, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for roles and their
// permission links.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all roles ordered by name.
func (r *Repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// Get fetches a role by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

// FindBySlug fetches a role by its slug.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE slug = $1`, slug)
	return scanRole(row)
}

// Create inserts a new role.
func (r *Repository) Create(ctx context.Context, slug, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (slug, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+roleColumns, slug, name, description)
	return scanRole(row)
}

// Ensure upserts a role keyed by slug; used by the default seed.
func (r *Repository) Ensure(ctx context.Context, slug, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (slug, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug)
		DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = NOW()
		RETURNING `+roleColumns, slug, name, description)
	return scanRole(row)
}

// Update updates an existing role.
func (r *Repository) Update(ctx context.Context, id int64, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, id, name, description)
	return scanRole(row)
}

// ListPermissions returns the direct permissions attached to a role.
func (r *Repository) ListPermissions(ctx context.Context, roleID int64) ([]catalog.Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.resource, p.action, p.context, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []catalog.Permission
	for rows.Next() {
		var perm catalog.Permission
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

// AttachPermissions links permissions to a role, ignoring existing links.
func (r *Repository) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	for _, id := range permissionIDs {
		if _, err := r.pool.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, roleID, id); err != nil {
			return err
		}
	}
	return nil
}

// DetachPermissions removes the given permission links from a role.
func (r *Repository) DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`,
		roleID, permissionIDs)
	return err
}

// SetPermissions replaces a role's permission links with exactly the given
// set, applied atomically as a diff of attaches and detaches.
func (r *Repository) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return replaceRolePermissions(ctx, tx, roleID, permissionIDs)
	})
}

// ReplacePermissions reconciles the permission links of the role identified
// by slug. Satisfies the hierarchy resolver's link store.
func (r *Repository) ReplacePermissions(ctx context.Context, slug string, permissionIDs []int64) error {
	role, err := r.FindBySlug(ctx, slug)
	if err != nil {
		return err
	}
	return r.SetPermissions(ctx, role.ID, permissionIDs)
}

// ListByRoleSlugs satisfies the hierarchy resolver's permission source by
// delegating to the catalog query.
func (r *Repository) ListByRoleSlugs(ctx context.Context, slugs []string) ([]catalog.Permission, error) {
	return catalog.NewRepository(r.pool).ListByRoleSlugs(ctx, slugs)
}

func replaceRolePermissions(ctx context.Context, tx pgx.Tx, roleID int64, permissionIDs []int64) error {
	rows, err := tx.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				roleID, id); err != nil {
				return err
			}
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			if _, err := tx.Exec(ctx,
				`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
				roleID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}
