package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
)

// RebuildCoordinator switches a dataset to a new embedding model and feeds
// its data rows back through the training queue in bounded batches.
type RebuildCoordinator struct {
	datasets DatasetRepositoryInterface
	models   ModelRegistry
	txRunner TxRunner
	cfg      config.RebuildConfig
	log      *logger.Logger
	uuidGen  UUIDGenerator
	now      Clock
}

func NewRebuildCoordinator(
	datasets DatasetRepositoryInterface,
	models ModelRegistry,
	txRunner TxRunner,
	cfg config.RebuildConfig,
	log *logger.Logger,
) *RebuildCoordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 5
	}
	return &RebuildCoordinator{
		datasets: datasets,
		models:   models,
		txRunner: txRunner,
		cfg:      cfg,
		log:      log,
		uuidGen:  &DefaultUUIDGenerator{},
		now:      time.Now,
	}
}

type RebuildInput struct {
	TeamID    string
	DatasetID string
	Model     string
}

type RebuildOutput struct {
	DatasetID     string `json:"datasetId"`
	PreviousModel string `json:"previousModel"`
	Model         string `json:"model"`
	Rebuilding    int64  `json:"rebuilding"`
}

// Rebuild points the dataset at a new embedding model and flags every data
// row for re-embedding. The checks and both writes share one transaction
// holding the dataset row lock, so a rejected request changes nothing.
func (c *RebuildCoordinator) Rebuild(ctx context.Context, input RebuildInput) (*RebuildOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "RebuildCoordinator.Rebuild", telemetry.SpanAttributes{
		TeamID:    input.TeamID,
		DatasetID: input.DatasetID,
		Operation: "rebuild",
	})
	defer span.End()

	if !isUUID(input.DatasetID) {
		return nil, domain.ErrDatasetNotFound
	}
	em, err := c.models.Embedding(input.Model)
	if err != nil {
		return nil, err
	}
	if err := em.CheckDimensions(c.cfg.VectorDimensions); err != nil {
		return nil, err
	}

	out := &RebuildOutput{DatasetID: input.DatasetID, Model: input.Model}
	err = c.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		dataset, err := repos.Datasets().GetForUpdate(ctx, input.DatasetID)
		if err != nil {
			return err
		}
		if err := checkOwner(dataset, input.TeamID); err != nil {
			return err
		}
		if dataset.VectorModel == input.Model {
			return domain.Wrap(domain.ErrSameModel, fmt.Errorf("dataset %s already uses %s", dataset.ID, input.Model))
		}

		rebuilding, err := repos.DatasetData().CountRebuilding(ctx, dataset.ID)
		if err != nil {
			return err
		}
		if rebuilding > 0 {
			return domain.Wrap(domain.ErrRebuildActive, fmt.Errorf("%d rows still flagged", rebuilding))
		}
		active, err := repos.TrainingJobs().CountActive(ctx, dataset.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return domain.Wrap(domain.ErrTrainingActive, fmt.Errorf("%d jobs queued or running", active))
		}

		if err := repos.Datasets().SetVectorModel(ctx, dataset.ID, input.Model); err != nil {
			return err
		}
		flagged, err := repos.DatasetData().MarkRebuilding(ctx, dataset.ID)
		if err != nil {
			return err
		}
		out.PreviousModel = dataset.VectorModel
		out.Rebuilding = flagged
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	c.log.Info("rebuild accepted",
		"dataset_id", out.DatasetID,
		"from_model", out.PreviousModel,
		"to_model", out.Model,
		"rows", out.Rebuilding,
	)
	telemetry.AddBreadcrumb(ctx, "rebuild", fmt.Sprintf("dataset %s: %s -> %s", out.DatasetID, out.PreviousModel, out.Model))
	return out, nil
}

// DrainBatch moves up to BatchSize flagged rows of one dataset into the
// training queue. Clearing the flags and inserting the jobs commit together.
// It returns the number of jobs enqueued; a paused dataset yields zero.
func (c *RebuildCoordinator) DrainBatch(ctx context.Context, datasetID string) (int, error) {
	var enqueued int
	err := c.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		dataset, err := repos.Datasets().GetForUpdate(ctx, datasetID)
		if err != nil {
			return err
		}
		if dataset.RebuildPaused {
			return nil
		}

		rows, err := repos.DatasetData().ClaimRebuildBatch(ctx, dataset.ID, c.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		billID := c.uuidGen.NewString()
		now := c.now().UTC()
		jobs := make([]*domain.TrainingJob, len(rows))
		for i, row := range rows {
			jobs[i] = &domain.TrainingJob{
				ID:           c.uuidGen.NewString(),
				TeamID:       dataset.TeamID,
				DatasetID:    dataset.ID,
				CollectionID: row.CollectionID,
				DataID:       row.ID,
				ChunkIndex:   row.ChunkIndex,
				Mode:         domain.TrainingModeEmbedding,
				Model:        dataset.VectorModel,
				Q:            row.Q,
				A:            row.A,
				Source:       row.Source,
				RetryCount:   c.cfg.RetryCount,
				BillID:       billID,
				CreatedAt:    now,
			}
		}
		if err := repos.TrainingJobs().CreateBatch(ctx, jobs); err != nil {
			return err
		}
		enqueued = len(jobs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if enqueued > 0 {
		c.log.Debug("rebuild batch enqueued", "dataset_id", datasetID, "jobs", enqueued)
	}
	return enqueued, nil
}

// DrainPass enqueues one batch for every unpaused dataset with flagged rows
// and returns the number of jobs enqueued. A failing dataset is logged and
// skipped so the others still progress.
func (c *RebuildCoordinator) DrainPass(ctx context.Context) (int, error) {
	datasets, err := c.datasets.ListRebuilding(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rebuilding datasets: %w", err)
	}
	total := 0
	for _, d := range datasets {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if d.RebuildPaused {
			continue
		}
		n, err := c.DrainBatch(ctx, d.ID)
		if err != nil {
			c.log.Warn("rebuild drain failed", "dataset_id", d.ID, "error", err)
			telemetry.CaptureError(ctx, err)
			continue
		}
		total += n
	}
	return total, nil
}

// Drain repeats DrainBatch for one dataset until no flagged rows are left or
// the dataset is paused. It returns the total number of jobs enqueued.
func (c *RebuildCoordinator) Drain(ctx context.Context, datasetID string) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := c.DrainBatch(ctx, datasetID)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// Pause stops the drain of a dataset. Jobs already queued keep running.
func (c *RebuildCoordinator) Pause(ctx context.Context, teamID, datasetID string) error {
	return c.setPaused(ctx, teamID, datasetID, true)
}

func (c *RebuildCoordinator) Resume(ctx context.Context, teamID, datasetID string) error {
	return c.setPaused(ctx, teamID, datasetID, false)
}

func (c *RebuildCoordinator) setPaused(ctx context.Context, teamID, datasetID string, paused bool) error {
	dataset, err := loadOwnedDataset(ctx, c.datasets, teamID, datasetID)
	if err != nil {
		return err
	}
	if err := c.datasets.SetRebuildPaused(ctx, dataset.ID, paused); err != nil {
		return err
	}
	c.log.Info("rebuild drain toggled", "dataset_id", dataset.ID, "paused", paused)
	return nil
}
