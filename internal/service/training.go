package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
	"github.com/cloo-solutions/kbindex/internal/textsplit"
)

const minChunkLen = 64

// ObjectReader reads raw documents from object storage
type ObjectReader interface {
	GetObjectText(ctx context.Context, key string, maxBytes int64) (string, error)
}

// TrainingService enqueues chunks and exposes queue state per dataset
type TrainingService struct {
	datasets  DatasetRepositoryInterface
	jobs      TrainingJobRepositoryInterface
	models    ModelRegistry
	objects   ObjectReader
	tokenizer textsplit.Tokenizer
	cfg       config.TrainingConfig
	log       *logger.Logger
	uuidGen   UUIDGenerator
	now       Clock
}

// NewTrainingService creates a TrainingService; objects may be nil when no
// object storage is configured.
func NewTrainingService(
	datasets DatasetRepositoryInterface,
	jobs TrainingJobRepositoryInterface,
	models ModelRegistry,
	objects ObjectReader,
	cfg config.TrainingConfig,
	log *logger.Logger,
) *TrainingService {
	return &TrainingService{
		datasets:  datasets,
		jobs:      jobs,
		models:    models,
		objects:   objects,
		tokenizer: textsplit.EstimateTokenizer{},
		cfg:       cfg,
		log:       log,
		uuidGen:   &DefaultUUIDGenerator{},
		now:       time.Now,
	}
}

// PushInput is the enqueue request for already chunked content
type PushInput struct {
	TeamID       string
	DatasetID    string
	CollectionID string
	Mode         domain.TrainingMode
	Model        string
	BillID       string
	Source       string
	Chunks       []domain.ChunkInput
}

type PushOutput struct {
	JobIDs []string
}

// ImportTextInput is a raw document to be split and enqueued
type ImportTextInput struct {
	TeamID           string
	DatasetID        string
	CollectionID     string
	Mode             domain.TrainingMode
	Model            string
	BillID           string
	Source           string
	Text             string
	ChunkSize        int
	OverlapRatio     float64
	CustomDelimiters []string
}

// ImportObjectInput points at a UTF-8 text object to import
type ImportObjectInput struct {
	TeamID           string
	DatasetID        string
	CollectionID     string
	Mode             domain.TrainingMode
	Model            string
	BillID           string
	Key              string
	ChunkSize        int
	OverlapRatio     float64
	CustomDelimiters []string
}

// Push validates the chunks and inserts one training job per chunk.
func (s *TrainingService) Push(ctx context.Context, input PushInput) (*PushOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "TrainingService.Push", telemetry.SpanAttributes{
		TeamID:    input.TeamID,
		DatasetID: input.DatasetID,
		Operation: "push",
	})
	defer span.End()

	if strings.TrimSpace(input.CollectionID) == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, errors.New("collectionId is required"))
	}
	if len(input.Chunks) == 0 {
		return nil, domain.ErrNoChunks
	}

	dataset, err := loadOwnedDataset(ctx, s.datasets, input.TeamID, input.DatasetID)
	if err != nil {
		return nil, err
	}

	mode, modelName, err := s.resolveMode(dataset, input.Mode, input.Model)
	if err != nil {
		return nil, err
	}
	maxTokens, err := s.maxChunkTokens(mode, modelName)
	if err != nil {
		return nil, err
	}

	billID := input.BillID
	if billID == "" {
		billID = s.uuidGen.NewString()
	}
	now := s.now().UTC()

	jobs := make([]*domain.TrainingJob, 0, len(input.Chunks))
	for i, c := range input.Chunks {
		if strings.TrimSpace(c.Q) == "" {
			return nil, domain.Wrap(domain.ErrMalformedChunk, fmt.Errorf("chunk %d has no text", i))
		}
		if n := s.tokenizer.Count(c.Q) + s.tokenizer.Count(c.A); n > maxTokens {
			return nil, domain.Wrap(domain.ErrMalformedChunk, fmt.Errorf("chunk %d has %d tokens, model %s accepts %d", i, n, modelName, maxTokens))
		}
		job := &domain.TrainingJob{
			ID:           s.uuidGen.NewString(),
			TeamID:       dataset.TeamID,
			DatasetID:    dataset.ID,
			CollectionID: input.CollectionID,
			ChunkIndex:   c.ChunkIndex,
			Mode:         mode,
			Model:        modelName,
			Q:            c.Q,
			A:            c.A,
			Source:       input.Source,
			RetryCount:   s.cfg.RetryCount,
			BillID:       billID,
			CreatedAt:    now,
		}
		if err := domain.ValidateTrainingJob(job); err != nil {
			return nil, domain.Wrap(domain.ErrMalformedChunk, err)
		}
		jobs = append(jobs, job)
	}

	if err := s.jobs.CreateBatch(ctx, jobs); err != nil {
		span.SetError(err)
		return nil, err
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	s.log.Info("chunks queued",
		"dataset_id", dataset.ID,
		"collection_id", input.CollectionID,
		"mode", mode,
		"model", modelName,
		"jobs", len(ids),
	)
	return &PushOutput{JobIDs: ids}, nil
}

// ImportText splits text into chunks sized for the dataset's embedding model
// and pushes them.
func (s *TrainingService) ImportText(ctx context.Context, input ImportTextInput) (*PushOutput, error) {
	dataset, err := loadOwnedDataset(ctx, s.datasets, input.TeamID, input.DatasetID)
	if err != nil {
		return nil, err
	}
	emb, err := s.models.Embedding(dataset.VectorModel)
	if err != nil {
		return nil, err
	}

	chunkLen := input.ChunkSize
	if chunkLen <= 0 {
		chunkLen = s.cfg.ChunkSize
	}
	if chunkLen <= 0 {
		chunkLen = emb.DefaultChunkTokens
	}
	chunkLen = max(minChunkLen, min(chunkLen, emb.MaxTokens))

	overlap := input.OverlapRatio
	if overlap <= 0 {
		overlap = s.cfg.ChunkOverlap
	}

	chunks := textsplit.Split(input.Text, textsplit.Options{
		ChunkLen:         chunkLen,
		OverlapRatio:     overlap,
		CustomDelimiters: input.CustomDelimiters,
		Tokenizer:        s.tokenizer,
	})
	if len(chunks) == 0 {
		return nil, domain.ErrNoChunks
	}

	inputs := make([]domain.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = domain.ChunkInput{Q: c.Text, ChunkIndex: c.Index}
	}

	return s.Push(ctx, PushInput{
		TeamID:       input.TeamID,
		DatasetID:    input.DatasetID,
		CollectionID: input.CollectionID,
		Mode:         input.Mode,
		Model:        input.Model,
		BillID:       input.BillID,
		Source:       input.Source,
		Chunks:       inputs,
	})
}

// ImportObject reads a text object from storage and imports it.
func (s *TrainingService) ImportObject(ctx context.Context, input ImportObjectInput) (*PushOutput, error) {
	if s.objects == nil {
		return nil, domain.ErrStorageUnavailable
	}
	if strings.TrimSpace(input.Key) == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, errors.New("key is required"))
	}
	if _, err := loadOwnedDataset(ctx, s.datasets, input.TeamID, input.DatasetID); err != nil {
		return nil, err
	}

	text, err := s.objects.GetObjectText(ctx, input.Key, s.cfg.MaxObjectBytes)
	if err != nil {
		return nil, err
	}

	return s.ImportText(ctx, ImportTextInput{
		TeamID:           input.TeamID,
		DatasetID:        input.DatasetID,
		CollectionID:     input.CollectionID,
		Mode:             input.Mode,
		Model:            input.Model,
		BillID:           input.BillID,
		Source:           input.Key,
		Text:             text,
		ChunkSize:        input.ChunkSize,
		OverlapRatio:     input.OverlapRatio,
		CustomDelimiters: input.CustomDelimiters,
	})
}

// Status reports queue and data counters for a dataset.
func (s *TrainingService) Status(ctx context.Context, teamID, datasetID string) (*domain.TrainingStatus, error) {
	dataset, err := loadOwnedDataset(ctx, s.datasets, teamID, datasetID)
	if err != nil {
		return nil, err
	}
	status, err := s.jobs.Status(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}
	status.VectorModel = dataset.VectorModel
	status.RebuildPaused = dataset.RebuildPaused
	return status, nil
}

// Retry puts terminally failed jobs of a dataset back in the queue.
func (s *TrainingService) Retry(ctx context.Context, teamID, datasetID string) (int64, error) {
	dataset, err := loadOwnedDataset(ctx, s.datasets, teamID, datasetID)
	if err != nil {
		return 0, err
	}
	n, err := s.jobs.RetryFailed(ctx, dataset.ID, s.cfg.RetryCount)
	if err != nil {
		return 0, err
	}
	s.log.Info("failed jobs requeued", "dataset_id", dataset.ID, "jobs", n)
	return n, nil
}

// Cancel drops every job of the dataset that no worker holds right now.
func (s *TrainingService) Cancel(ctx context.Context, teamID, datasetID string) (int64, error) {
	dataset, err := loadOwnedDataset(ctx, s.datasets, teamID, datasetID)
	if err != nil {
		return 0, err
	}
	n, err := s.jobs.CancelPending(ctx, dataset.ID)
	if err != nil {
		return 0, err
	}
	s.log.Info("queued jobs cancelled", "dataset_id", dataset.ID, "jobs", n)
	telemetry.AddBreadcrumb(ctx, "training", fmt.Sprintf("cancelled %d jobs of dataset %s", n, dataset.ID))
	return n, nil
}

// resolveMode picks the model a job runs with. Embedding jobs always use the
// dataset's vector model so every stored vector matches it.
func (s *TrainingService) resolveMode(dataset *domain.Dataset, mode domain.TrainingMode, modelName string) (domain.TrainingMode, string, error) {
	if mode == "" {
		mode = domain.TrainingModeEmbedding
	}
	if !domain.IsValidTrainingMode(mode) {
		return "", "", domain.Wrap(domain.ErrInvalidTrainingMode, fmt.Errorf("mode %q", mode))
	}

	switch mode {
	case domain.TrainingModeQASynthesis:
		if modelName == "" {
			modelName = dataset.QAModel
		}
		if modelName == "" {
			modelName = s.cfg.DefaultQAModel
		}
		if _, err := s.models.Chat(modelName); err != nil {
			return "", "", err
		}
	default:
		if modelName != "" && modelName != dataset.VectorModel {
			return "", "", domain.Wrap(domain.ErrUnknownModel, fmt.Errorf("dataset %s embeds with %s, not %s", dataset.ID, dataset.VectorModel, modelName))
		}
		modelName = dataset.VectorModel
		if _, err := s.models.Embedding(modelName); err != nil {
			return "", "", err
		}
	}
	return mode, modelName, nil
}

func (s *TrainingService) maxChunkTokens(mode domain.TrainingMode, modelName string) (int, error) {
	if mode == domain.TrainingModeQASynthesis {
		m, err := s.models.Chat(modelName)
		if err != nil {
			return 0, err
		}
		if m.MaxContext <= 0 {
			return int(^uint(0) >> 1), nil
		}
		return m.MaxContext - m.MaxResponse, nil
	}
	m, err := s.models.Embedding(modelName)
	if err != nil {
		return 0, err
	}
	return m.MaxTokens, nil
}
