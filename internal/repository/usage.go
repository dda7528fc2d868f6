package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	db dbtx
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: pool}
}

// Insert is idempotent on the usage id so a retried write never bills twice.
func (r *UsageRepository) Insert(ctx context.Context, u *domain.Usage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO usage_records (id, team_id, dataset_id, bill_id, model, tokens, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.TeamID, u.DatasetID, u.BillID, u.Model, u.Tokens, u.Source, u.CreatedAt,
	)
	return classifyDBError(err)
}

// SumByTeam totals the tokens a team consumed since the given instant.
func (r *UsageRepository) SumByTeam(ctx context.Context, teamID string, since time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM usage_records WHERE team_id = $1 AND created_at >= $2`,
		teamID, since,
	).Scan(&total)
	return total, err
}

func (r *UsageRepository) ListByBill(ctx context.Context, billID string) ([]*domain.Usage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, team_id, dataset_id, bill_id, model, tokens, source, created_at
		 FROM usage_records WHERE bill_id = $1 ORDER BY created_at, id`,
		billID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Usage
	for rows.Next() {
		var u domain.Usage
		if err := rows.Scan(&u.ID, &u.TeamID, &u.DatasetID, &u.BillID, &u.Model, &u.Tokens, &u.Source, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
