package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/openai"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
)

// Embedder turns texts into vectors with a named embedding model
type Embedder interface {
	Embed(ctx context.Context, texts []string, modelName string) (*openai.EmbedResult, error)
}

// QAGenerator synthesizes question/answer pairs from a chunk
type QAGenerator interface {
	GenerateQA(ctx context.Context, text, modelName string) (*openai.QAResult, error)
}

// TrainingProcessor executes one claimed training job. Every write it makes
// commits together with the deletion of the job, and only while the caller
// still owns the lease.
type TrainingProcessor struct {
	datasets   DatasetRepositoryInterface
	embedder   Embedder
	qa         QAGenerator
	biller     UsageBiller
	txRunner   TxRunner
	log        *logger.Logger
	uuidGen    UUIDGenerator
	now        Clock
	retryCount int
}

func NewTrainingProcessor(
	datasets DatasetRepositoryInterface,
	embedder Embedder,
	qa QAGenerator,
	biller UsageBiller,
	txRunner TxRunner,
	retryCount int,
	log *logger.Logger,
) *TrainingProcessor {
	return &TrainingProcessor{
		datasets:   datasets,
		embedder:   embedder,
		qa:         qa,
		biller:     biller,
		txRunner:   txRunner,
		log:        log,
		uuidGen:    &DefaultUUIDGenerator{},
		now:        time.Now,
		retryCount: retryCount,
	}
}

// ProcessJob runs the job according to its mode. Returned errors carry the
// domain failure class the dispatcher acts on.
func (p *TrainingProcessor) ProcessJob(ctx context.Context, job *domain.TrainingJob) error {
	ctx, span := telemetry.StartSpan(ctx, "TrainingProcessor.ProcessJob", telemetry.SpanAttributes{
		TeamID:    job.TeamID,
		DatasetID: job.DatasetID,
		JobID:     job.ID,
		Operation: string(job.Mode),
	})
	defer span.End()

	var err error
	switch job.Mode {
	case domain.TrainingModeQASynthesis:
		err = p.processQA(ctx, job)
	case domain.TrainingModeEmbedding:
		err = p.processEmbedding(ctx, job)
	default:
		err = domain.Wrap(domain.ErrInvalidTrainingMode, fmt.Errorf("mode %q", job.Mode))
	}
	if err != nil {
		span.SetError(err)
	}
	return err
}

func (p *TrainingProcessor) processEmbedding(ctx context.Context, job *domain.TrainingJob) error {
	if err := p.biller.CheckQuota(ctx, job.TeamID); err != nil {
		return err
	}

	dataset, err := p.datasets.GetByID(ctx, job.DatasetID)
	if err != nil {
		return err
	}
	// A rebuild may have switched the model after the job was queued.
	modelName := dataset.VectorModel
	if job.Model != modelName {
		p.log.Debug("job model superseded", "job_id", job.ID, "queued_model", job.Model, "model", modelName)
	}

	res, err := p.embedder.Embed(ctx, []string{job.Text()}, modelName)
	if err != nil {
		return err
	}
	if len(res.Vectors) != 1 {
		return domain.Wrap(domain.ErrUpstream, fmt.Errorf("expected 1 vector, got %d", len(res.Vectors)))
	}

	err = p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.TrainingJobs().DeleteOwned(ctx, job.ID, job.LockOwner); err != nil {
			return err
		}

		dataID := job.DataID
		if dataID == "" {
			now := p.now().UTC()
			data := &domain.DatasetData{
				ID:           p.uuidGen.NewString(),
				TeamID:       job.TeamID,
				DatasetID:    job.DatasetID,
				CollectionID: job.CollectionID,
				Q:            job.Q,
				A:            job.A,
				Source:       job.Source,
				ChunkIndex:   job.ChunkIndex,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := repos.DatasetData().Create(ctx, data); err != nil {
				return err
			}
			dataID = data.ID
		} else {
			_, err := repos.DatasetData().GetForShare(ctx, dataID)
			if errors.Is(err, domain.ErrDatasetDataNotFound) {
				p.log.Info("data row gone, dropping rebuilt vector", "job_id", job.ID, "data_id", dataID)
				return nil
			}
			if err != nil {
				return err
			}
		}

		return repos.Vectors().Insert(ctx, &domain.VectorRecord{
			TeamID:       job.TeamID,
			DatasetID:    job.DatasetID,
			CollectionID: job.CollectionID,
			DataID:       dataID,
			Model:        modelName,
			Embedding:    res.Vectors[0],
		})
	})
	if err != nil {
		return err
	}
	// usage is recorded once per committed job, never for a lost lease
	p.bill(ctx, job, modelName, res.Tokens, domain.UsageSourceTraining)
	return nil
}

// processQA expands a chunk into question/answer pairs and queues one
// embedding job per pair. A reply without pairs embeds the chunk as is.
func (p *TrainingProcessor) processQA(ctx context.Context, job *domain.TrainingJob) error {
	if err := p.biller.CheckQuota(ctx, job.TeamID); err != nil {
		return err
	}

	dataset, err := p.datasets.GetByID(ctx, job.DatasetID)
	if err != nil {
		return err
	}

	res, err := p.qa.GenerateQA(ctx, job.Text(), job.Model)
	if err != nil {
		return err
	}
	pairs := res.Pairs
	if len(pairs) == 0 {
		p.log.Warn("no qa pairs parsed, embedding chunk directly", "job_id", job.ID)
		pairs = []openai.QAPair{{Q: job.Q, A: job.A}}
	}

	retries := p.retryCount
	if retries <= 0 {
		retries = 1
	}
	now := p.now().UTC()
	children := make([]*domain.TrainingJob, len(pairs))
	for i, pair := range pairs {
		children[i] = &domain.TrainingJob{
			ID:           p.uuidGen.NewString(),
			TeamID:       job.TeamID,
			DatasetID:    job.DatasetID,
			CollectionID: job.CollectionID,
			ChunkIndex:   job.ChunkIndex,
			Mode:         domain.TrainingModeEmbedding,
			Model:        dataset.VectorModel,
			Q:            pair.Q,
			A:            pair.A,
			Source:       job.Source,
			RetryCount:   retries,
			BillID:       job.BillID,
			CreatedAt:    now,
		}
	}

	err = p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.TrainingJobs().DeleteOwned(ctx, job.ID, job.LockOwner); err != nil {
			return err
		}
		return repos.TrainingJobs().CreateBatch(ctx, children)
	})
	if err != nil {
		return err
	}
	p.bill(ctx, job, job.Model, res.Tokens, domain.UsageSourceQASynthesis)
	return nil
}

func (p *TrainingProcessor) bill(ctx context.Context, job *domain.TrainingJob, modelName string, tokens int, source domain.UsageSource) {
	err := p.biller.Record(ctx, domain.Usage{
		TeamID:    job.TeamID,
		DatasetID: job.DatasetID,
		BillID:    job.BillID,
		Model:     modelName,
		Tokens:    tokens,
		Source:    source,
	})
	if err != nil {
		p.log.Error("usage not recorded", "job_id", job.ID, "bill_id", job.BillID, "tokens", tokens, "error", err)
		telemetry.CaptureError(ctx, err)
	}
}
