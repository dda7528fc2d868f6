package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const datasetDataColumns = `id, team_id, dataset_id, collection_id, q, a, source, chunk_index, rebuilding, created_at, updated_at`

type DatasetDataRepository struct {
	db dbtx
}

func NewDatasetDataRepository(pool *pgxpool.Pool) *DatasetDataRepository {
	return &DatasetDataRepository{db: pool}
}

func NewDatasetDataRepositoryWithTx(tx pgx.Tx) *DatasetDataRepository {
	return &DatasetDataRepository{db: tx}
}

func (r *DatasetDataRepository) Create(ctx context.Context, d *domain.DatasetData) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dataset_data (id, team_id, dataset_id, collection_id, q, a, source, chunk_index, rebuilding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.TeamID, d.DatasetID, d.CollectionID, d.Q, d.A, d.Source, d.ChunkIndex, d.Rebuilding, d.CreatedAt, d.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return domain.ErrDatasetNotFound
	}
	return err
}

func (r *DatasetDataRepository) GetByID(ctx context.Context, id string) (*domain.DatasetData, error) {
	return r.get(ctx, `SELECT `+datasetDataColumns+` FROM dataset_data WHERE id = $1`, id)
}

// GetForShare reads a row and keeps it from being deleted until the transaction ends.
func (r *DatasetDataRepository) GetForShare(ctx context.Context, id string) (*domain.DatasetData, error) {
	return r.get(ctx, `SELECT `+datasetDataColumns+` FROM dataset_data WHERE id = $1 FOR SHARE`, id)
}

func (r *DatasetDataRepository) get(ctx context.Context, query, id string) (*domain.DatasetData, error) {
	d, err := scanDatasetData(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDatasetDataNotFound
		}
		return nil, err
	}
	return d, nil
}

// MarkRebuilding flags every row of the dataset in a single statement.
func (r *DatasetDataRepository) MarkRebuilding(ctx context.Context, datasetID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_data SET rebuilding = TRUE, updated_at = now() WHERE dataset_id = $1`,
		datasetID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClaimRebuildBatch clears the flag on up to limit rows and returns them.
// Concurrent callers never receive the same row.
func (r *DatasetDataRepository) ClaimRebuildBatch(ctx context.Context, datasetID string, limit int) ([]*domain.DatasetData, error) {
	rows, err := r.db.Query(ctx,
		`WITH batch AS (
			 SELECT id
			 FROM dataset_data
			 WHERE dataset_id = $1 AND rebuilding
			 ORDER BY created_at, id
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE dataset_data d
		 SET rebuilding = FALSE,
		     updated_at = now()
		 FROM batch
		 WHERE d.id = batch.id
		 RETURNING d.id, d.team_id, d.dataset_id, d.collection_id, d.q, d.a, d.source, d.chunk_index,
		           d.rebuilding, d.created_at, d.updated_at`,
		datasetID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDatasetDataRows(rows)
}

func (r *DatasetDataRepository) CountRebuilding(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM dataset_data WHERE dataset_id = $1 AND rebuilding`,
		datasetID,
	).Scan(&n)
	return n, err
}

// Delete removes the data rows selected by d. Their vectors and rebuild jobs
// go with them through the foreign keys.
func (r *DatasetDataRepository) Delete(ctx context.Context, d domain.VectorDelete) (int64, error) {
	if d.Empty() {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dataset_data
		 WHERE dataset_id = $1
		   AND (id = ANY($2::text[]::uuid[]) OR collection_id = ANY($3::text[]))`,
		d.DatasetID, d.DataIDs, d.CollectionIDs,
	)
	if err != nil {
		return 0, classifyDBError(err)
	}
	return tag.RowsAffected(), nil
}

func scanDatasetData(row pgx.Row) (*domain.DatasetData, error) {
	var d domain.DatasetData
	if err := row.Scan(&d.ID, &d.TeamID, &d.DatasetID, &d.CollectionID, &d.Q, &d.A, &d.Source, &d.ChunkIndex, &d.Rebuilding, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDatasetDataRows(rows pgx.Rows) ([]*domain.DatasetData, error) {
	var out []*domain.DatasetData
	for rows.Next() {
		d, err := scanDatasetData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
