package refdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) GetKind(ctx context.Context, code string) (KindRule, error) {
	const query = `
		SELECT code, label, requires_maturity, requires_check_owner, COALESCE(direction, '')
		FROM payment_kinds
		WHERE code = $1 AND active`
	rule := KindRule{Known: true}
	err := r.pool.QueryRow(ctx, query, code).Scan(&rule.Code, &rule.Label, &rule.RequiresMaturity, &rule.RequiresCheckOwner, &rule.Direction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KindRule{}, ErrNotFound
		}
		return KindRule{}, err
	}
	return rule, nil
}

func (r *pgRepository) ListKinds(ctx context.Context) ([]KindRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, label, requires_maturity, requires_check_owner, COALESCE(direction, '')
		FROM payment_kinds
		WHERE active
		ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []KindRule
	for rows.Next() {
		rule := KindRule{Known: true}
		if err := rows.Scan(&rule.Code, &rule.Label, &rule.RequiresMaturity, &rule.RequiresCheckOwner, &rule.Direction); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
