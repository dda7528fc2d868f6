package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txAttempts bounds how often a transaction aborted by a serialization
// failure or deadlock is replayed.
const txAttempts = 3

// TxRunner hands out repositories bound to one pgx transaction.
type TxRunner struct {
	pool      *pgxpool.Pool
	vectorCfg config.VectorConfig
}

func NewTxRunner(pool *pgxpool.Pool, vectorCfg config.VectorConfig) *TxRunner {
	return &TxRunner{pool: pool, vectorCfg: vectorCfg}
}

// WithTx commits when fn returns nil and rolls back otherwise. Transactions
// that lose a serialization race or a deadlock are replayed from the start,
// so fn must only touch the database.
func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = r.run(ctx, fn)
		if !errors.Is(err, domain.ErrTransientData) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("transaction retried %d times: %w", txAttempts, err)
}

func (r *TxRunner) run(ctx context.Context, fn func(repos service.TxRepositories) error) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyDBError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&txRepos{tx: tx, vectorCfg: r.vectorCfg}); err != nil {
		return classifyDBError(err)
	}
	return classifyDBError(tx.Commit(ctx))
}

type txRepos struct {
	tx        pgx.Tx
	vectorCfg config.VectorConfig
}

func (r *txRepos) Datasets() service.DatasetRepositoryInterface {
	return NewDatasetRepositoryWithTx(r.tx)
}

func (r *txRepos) DatasetData() service.DatasetDataRepositoryInterface {
	return NewDatasetDataRepositoryWithTx(r.tx)
}

func (r *txRepos) TrainingJobs() service.TrainingJobRepositoryInterface {
	return NewTrainingJobRepositoryWithTx(r.tx)
}

func (r *txRepos) Vectors() service.VectorWriter {
	return NewVectorStoreWithTx(r.tx, r.vectorCfg)
}
