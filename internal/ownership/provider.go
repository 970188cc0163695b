package ownership

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis/internal/shared"
)

// Provider answers the data questions ownership evaluation needs: who owns a
// record, and whether two principals share a team or a department.
type Provider interface {
	OwnerID(ctx context.Context, rule Rule, resourceID int64) (int64, error)
	SameTeam(ctx context.Context, a, b int64) (bool, error)
	SameDepartment(ctx context.Context, a, b int64) (bool, error)
}

// PgProvider resolves ownership questions against PostgreSQL.
type PgProvider struct {
	pool *pgxpool.Pool
}

// NewPgProvider constructs a provider.
func NewPgProvider(pool *pgxpool.Pool) *PgProvider {
	return &PgProvider{pool: pool}
}

// OwnerID reads the owner column of a record. Table and column names come
// from the static rule set, never from request input, and are still quoted
// through pgx's identifier sanitizer.
func (p *PgProvider) OwnerID(ctx context.Context, rule Rule, resourceID int64) (int64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`,
		pgx.Identifier{rule.OwnerField}.Sanitize(),
		pgx.Identifier{rule.Table}.Sanitize())
	var owner int64
	err := p.pool.QueryRow(ctx, query, resourceID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return owner, err
}

// SameTeam reports whether two principals share at least one team.
func (p *PgProvider) SameTeam(ctx context.Context, a, b int64) (bool, error) {
	var match bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM team_members ta
			JOIN team_members tb ON tb.team_id = ta.team_id
			WHERE ta.user_id = $1 AND tb.user_id = $2
		)`, a, b).Scan(&match)
	return match, err
}

// SameDepartment reports whether two principals share a department.
func (p *PgProvider) SameDepartment(ctx context.Context, a, b int64) (bool, error) {
	var match bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM department_members da
			JOIN department_members db ON db.department_id = da.department_id
			WHERE da.user_id = $1 AND db.user_id = $2
		)`, a, b).Scan(&match)
	return match, err
}

// Transfer rewrites the owner column of a record. Used by administrative
// tooling when content changes hands.
func (p *PgProvider) Transfer(ctx context.Context, rule Rule, resourceID, newOwnerID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE id = $1`,
		pgx.Identifier{rule.Table}.Sanitize(),
		pgx.Identifier{rule.OwnerField}.Sanitize())
	tag, err := p.pool.Exec(ctx, query, resourceID, newOwnerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
