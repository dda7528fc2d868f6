package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const trainingJobColumns = `id, team_id, dataset_id, collection_id, data_id, chunk_index, mode, model, q, a, source,
	lock_owner, lock_expiry, retry_count, failed, bill_id, error_message, created_at`

type TrainingJobRepository struct {
	db dbtx
}

func NewTrainingJobRepository(pool *pgxpool.Pool) *TrainingJobRepository {
	return &TrainingJobRepository{db: pool}
}

func NewTrainingJobRepositoryWithTx(tx pgx.Tx) *TrainingJobRepository {
	return &TrainingJobRepository{db: tx}
}

// CreateBatch inserts the jobs as immediately claimable rows.
func (r *TrainingJobRepository) CreateBatch(ctx context.Context, jobs []*domain.TrainingJob) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, j := range jobs {
		var dataID *string
		if j.DataID != "" {
			dataID = &j.DataID
		}
		batch.Queue(
			`INSERT INTO training_jobs (id, team_id, dataset_id, collection_id, data_id, chunk_index, mode, model, q, a, source,
			                            retry_count, bill_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			j.ID, j.TeamID, j.DatasetID, j.CollectionID, dataID, j.ChunkIndex, j.Mode, j.Model, j.Q, j.A, j.Source,
			j.RetryCount, j.BillID, j.CreatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range jobs {
		if _, err := results.Exec(); err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrDatasetNotFound
			}
			return err
		}
	}
	return nil
}

func (r *TrainingJobRepository) GetByID(ctx context.Context, id string) (*domain.TrainingJob, error) {
	job, err := scanTrainingJob(r.db.QueryRow(ctx,
		`SELECT `+trainingJobColumns+` FROM training_jobs WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTrainingJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// Claim takes the oldest claimable job for owner in one conditional update.
// It returns domain.ErrTrainingJobNotFound when nothing is claimable.
func (r *TrainingJobRepository) Claim(ctx context.Context, owner string, lease time.Duration) (*domain.TrainingJob, error) {
	job, err := scanTrainingJob(r.db.QueryRow(ctx,
		`UPDATE training_jobs
		 SET lock_owner = $1,
		     lock_expiry = now() + $2 * interval '1 millisecond',
		     updated_at = now()
		 WHERE id = (
			 SELECT id
			 FROM training_jobs
			 WHERE lock_expiry <= now() AND NOT failed
			 ORDER BY created_at, id
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1
		 )
		 AND lock_expiry <= now()
		 RETURNING `+trainingJobColumns,
		owner, lease.Milliseconds(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTrainingJobNotFound
		}
		return nil, classifyDBError(err)
	}
	return job, nil
}

// Renew extends the lease of a job still held by owner.
func (r *TrainingJobRepository) Renew(ctx context.Context, id, owner string, lease time.Duration) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE training_jobs
		 SET lock_expiry = now() + $3 * interval '1 millisecond', updated_at = now()
		 WHERE id = $1 AND lock_owner = $2 AND NOT failed`,
		id, owner, lease.Milliseconds(),
	)
	if err != nil {
		return classifyDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// DeleteOwned removes a finished job; it fails with ErrLeaseLost when another
// worker has taken the job over.
func (r *TrainingJobRepository) DeleteOwned(ctx context.Context, id, owner string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM training_jobs WHERE id = $1 AND lock_owner = $2`,
		id, owner,
	)
	if err != nil {
		return classifyDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// Fail records errMsg and spends one retry. The job turns terminal when no
// retries are left or when terminal is set; otherwise it becomes claimable
// again after retryDelay. It reports whether the job is now terminally failed.
func (r *TrainingJobRepository) Fail(ctx context.Context, id, owner, errMsg string, terminal bool, retryDelay time.Duration) (bool, error) {
	var failed bool
	err := r.db.QueryRow(ctx,
		`UPDATE training_jobs
		 SET retry_count = GREATEST(retry_count - 1, 0),
		     failed = (retry_count - 1 <= 0) OR $3,
		     error_message = $4,
		     lock_owner = NULL,
		     lock_expiry = now() + $5 * interval '1 millisecond',
		     updated_at = now()
		 WHERE id = $1 AND lock_owner = $2
		 RETURNING failed`,
		id, owner, terminal, errMsg, retryDelay.Milliseconds(),
	).Scan(&failed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrLeaseLost
		}
		return false, classifyDBError(err)
	}
	return failed, nil
}

// Release hands a job back without spending a retry.
func (r *TrainingJobRepository) Release(ctx context.Context, id, owner, reason string, delay time.Duration) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE training_jobs
		 SET lock_owner = NULL,
		     lock_expiry = now() + $3 * interval '1 millisecond',
		     error_message = $4,
		     updated_at = now()
		 WHERE id = $1 AND lock_owner = $2`,
		id, owner, delay.Milliseconds(), reason,
	)
	if err != nil {
		return classifyDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// CountActive counts jobs of the dataset that are not terminally failed.
func (r *TrainingJobRepository) CountActive(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM training_jobs WHERE dataset_id = $1 AND NOT failed`,
		datasetID,
	).Scan(&n)
	return n, err
}

// Status fills the queue and data counters of a dataset.
func (r *TrainingJobRepository) Status(ctx context.Context, datasetID string) (*domain.TrainingStatus, error) {
	s := &domain.TrainingStatus{DatasetID: datasetID}

	err := r.db.QueryRow(ctx,
		`SELECT
			 count(*) FILTER (WHERE NOT failed AND (lock_owner IS NULL OR lock_expiry <= now())),
			 count(*) FILTER (WHERE NOT failed AND lock_owner IS NOT NULL AND lock_expiry > now()),
			 count(*) FILTER (WHERE failed)
		 FROM training_jobs
		 WHERE dataset_id = $1`,
		datasetID,
	).Scan(&s.Pending, &s.Claimed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE rebuilding)
		 FROM dataset_data
		 WHERE dataset_id = $1`,
		datasetID,
	).Scan(&s.DataCount, &s.Rebuilding)
	if err != nil {
		return nil, fmt.Errorf("failed to count data: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT id, error_message, updated_at
		 FROM training_jobs
		 WHERE dataset_id = $1 AND error_message IS NOT NULL
		 ORDER BY updated_at DESC, id
		 LIMIT 1`,
		datasetID,
	).Scan(&s.LastFailedJobID, &s.LastError, &s.LastErrorAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read last error: %w", err)
	}

	return s, nil
}

// RetryFailed gives terminally failed jobs of the dataset a fresh retry budget.
func (r *TrainingJobRepository) RetryFailed(ctx context.Context, datasetID string, retryCount int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE training_jobs
		 SET failed = FALSE,
		     retry_count = $2,
		     error_message = NULL,
		     lock_owner = NULL,
		     lock_expiry = now(),
		     updated_at = now()
		 WHERE dataset_id = $1 AND failed`,
		datasetID, retryCount,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelCollections deletes the unheld jobs of the given collections.
func (r *TrainingJobRepository) CancelCollections(ctx context.Context, datasetID string, collectionIDs []string) (int64, error) {
	if len(collectionIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM training_jobs
		 WHERE dataset_id = $1
		   AND collection_id = ANY($2::text[])
		   AND (failed OR lock_owner IS NULL OR lock_expiry <= now())`,
		datasetID, collectionIDs,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelPending deletes every job of the dataset that no worker currently holds.
// Claimed jobs run to completion or lease expiry.
func (r *TrainingJobRepository) CancelPending(ctx context.Context, datasetID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM training_jobs
		 WHERE dataset_id = $1
		   AND (failed OR lock_owner IS NULL OR lock_expiry <= now())`,
		datasetID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTrainingJob(row pgx.Row) (*domain.TrainingJob, error) {
	var j domain.TrainingJob
	var dataID, lockOwner, errMsg pgtype.Text
	if err := row.Scan(&j.ID, &j.TeamID, &j.DatasetID, &j.CollectionID, &dataID, &j.ChunkIndex, &j.Mode, &j.Model,
		&j.Q, &j.A, &j.Source, &lockOwner, &j.LockExpiry, &j.RetryCount, &j.Failed, &j.BillID, &errMsg, &j.CreatedAt); err != nil {
		return nil, err
	}
	if dataID.Valid {
		j.DataID = dataID.String
	}
	if lockOwner.Valid {
		j.LockOwner = lockOwner.String
	}
	if errMsg.Valid {
		j.ErrorMessage = errMsg.String
	}
	return &j, nil
}
