package principals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis/internal/platform/db"
	"github.com/aegis-platform/aegis/internal/roles"
	"github.com/aegis-platform/aegis/internal/shared"
)

// Repository provides PostgreSQL backed persistence for principals, their
// role memberships and their direct permission grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a principal by ID. Soft-deleted principals are reported as
// not found.
func (r *Repository) Get(ctx context.Context, id int64) (Principal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, is_deleted, created_at, updated_at
		FROM users
		WHERE id = $1 AND is_deleted = FALSE`, id)
	var p Principal
	err := row.Scan(&p.ID, &p.Email, &p.Name, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, shared.ErrNotFound
	}
	return p, err
}

// Roles returns the roles attached to a principal.
func (r *Repository) Roles(ctx context.Context, principalID int64) ([]roles.Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.slug, r.name, r.description, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []roles.Role
	for rows.Next() {
		var role roles.Role
		if err := rows.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DirectGrants returns every direct grant of a principal, including expired
// and revoked entries; filtering is the aggregator's concern.
func (r *Repository) DirectGrants(ctx context.Context, principalID int64) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.resource, p.action, p.context, p.created_at, p.updated_at,
		       up.granted, up.expires_at
		FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1
		ORDER BY p.name`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(
			&g.Permission.ID, &g.Permission.Name, &g.Permission.Description,
			&g.Permission.Resource, &g.Permission.Action, &g.Permission.Context,
			&g.Permission.CreatedAt, &g.Permission.UpdatedAt,
			&g.Granted, &g.ExpiresAt,
		); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// SyncGrants replaces a principal's direct grants with exactly the given
// set: entries not listed are removed, listed ones upserted.
func (r *Repository) SyncGrants(ctx context.Context, principalID int64, grants []GrantInput) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		ids := make([]int64, 0, len(grants))
		for _, g := range grants {
			ids = append(ids, g.PermissionID)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM user_permissions WHERE user_id = $1 AND NOT (permission_id = ANY($2))`,
			principalID, ids); err != nil {
			return err
		}
		for _, g := range grants {
			if err := upsertGrant(ctx, tx, principalID, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// AttachGrant creates or updates a single direct grant.
func (r *Repository) AttachGrant(ctx context.Context, principalID int64, grant GrantInput) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return upsertGrant(ctx, tx, principalID, grant)
	})
}

// RevokeGrant removes the direct grant record for a permission.
func (r *Repository) RevokeGrant(ctx context.Context, principalID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		principalID, permissionID)
	return err
}

// AssignRole attaches a role to a principal.
func (r *Repository) AssignRole(ctx context.Context, principalID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		principalID, roleID)
	return err
}

// RemoveRole detaches a role from a principal.
func (r *Repository) RemoveRole(ctx context.Context, principalID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		principalID, roleID)
	return err
}

func upsertGrant(ctx context.Context, tx pgx.Tx, principalID int64, grant GrantInput) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, permission_id)
		DO UPDATE SET granted = EXCLUDED.granted, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		principalID, grant.PermissionID, grant.Granted, grant.ExpiresAt)
	return err
}
