package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const datasetColumns = `id, team_id, name, vector_model, qa_model, rebuild_paused, created_at, updated_at`

type DatasetRepository struct {
	db dbtx
}

func NewDatasetRepository(pool *pgxpool.Pool) *DatasetRepository {
	return &DatasetRepository{db: pool}
}

func NewDatasetRepositoryWithTx(tx pgx.Tx) *DatasetRepository {
	return &DatasetRepository{db: tx}
}

func (r *DatasetRepository) Create(ctx context.Context, d *domain.Dataset) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO datasets (id, team_id, name, vector_model, qa_model, rebuild_paused, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.TeamID, d.Name, d.VectorModel, d.QAModel, d.RebuildPaused, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDatasetAlreadyExists
	}
	return err
}

func (r *DatasetRepository) GetByID(ctx context.Context, id string) (*domain.Dataset, error) {
	return r.get(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id)
}

// GetForUpdate locks the dataset row until the surrounding transaction ends.
func (r *DatasetRepository) GetForUpdate(ctx context.Context, id string) (*domain.Dataset, error) {
	return r.get(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1 FOR UPDATE`, id)
}

func (r *DatasetRepository) get(ctx context.Context, query, id string) (*domain.Dataset, error) {
	d, err := scanDataset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDatasetNotFound
		}
		return nil, err
	}
	return d, nil
}

// GetMany returns the datasets found among ids; unknown ids are skipped.
func (r *DatasetRepository) GetMany(ctx context.Context, ids []string) ([]*domain.Dataset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE id = ANY($1::text[]::uuid[]) ORDER BY created_at, id`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDatasetRows(rows)
}

func (r *DatasetRepository) ListByTeamWithCursor(ctx context.Context, teamID string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Dataset], error) {
	limit = pagination.Limit(limit)

	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE team_id = $1`
	args := []any{teamID}
	if cursor != nil {
		query += ` AND (created_at, id::text) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id::text DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanDatasetRows(rows)
	if err != nil {
		return nil, err
	}
	return pagination.NewPage(items, limit, func(d *domain.Dataset) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	}), nil
}

func (r *DatasetRepository) SetVectorModel(ctx context.Context, id, model string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE datasets SET vector_model = $1, rebuild_paused = FALSE, updated_at = now() WHERE id = $2`,
		model, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDatasetNotFound
	}
	return nil
}

func (r *DatasetRepository) SetRebuildPaused(ctx context.Context, id string, paused bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE datasets SET rebuild_paused = $1, updated_at = now() WHERE id = $2`,
		paused, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDatasetNotFound
	}
	return nil
}

// ListRebuilding returns datasets that still have flagged rows and are not paused.
func (r *DatasetRepository) ListRebuilding(ctx context.Context) ([]*domain.Dataset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+datasetColumns+`
		 FROM datasets d
		 WHERE NOT d.rebuild_paused
		   AND EXISTS (SELECT 1 FROM dataset_data dd WHERE dd.dataset_id = d.id AND dd.rebuilding)
		 ORDER BY d.updated_at, d.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDatasetRows(rows)
}

func scanDataset(row pgx.Row) (*domain.Dataset, error) {
	var d domain.Dataset
	if err := row.Scan(&d.ID, &d.TeamID, &d.Name, &d.VectorModel, &d.QAModel, &d.RebuildPaused, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDatasetRows(rows pgx.Rows) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
