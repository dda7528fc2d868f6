package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/model"
	"github.com/cloo-solutions/kbindex/internal/pagination"
)

// DatasetRepositoryInterface defines the repository interface for dataset persistence
type DatasetRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Dataset) error
	GetByID(ctx context.Context, id string) (*domain.Dataset, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Dataset, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Dataset, error)
	ListByTeamWithCursor(ctx context.Context, teamID string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Dataset], error)
	ListRebuilding(ctx context.Context) ([]*domain.Dataset, error)
	SetVectorModel(ctx context.Context, id, model string) error
	SetRebuildPaused(ctx context.Context, id string, paused bool) error
}

// DatasetDataRepositoryInterface defines the repository interface for data rows
type DatasetDataRepositoryInterface interface {
	Create(ctx context.Context, d *domain.DatasetData) error
	GetForShare(ctx context.Context, id string) (*domain.DatasetData, error)
	MarkRebuilding(ctx context.Context, datasetID string) (int64, error)
	ClaimRebuildBatch(ctx context.Context, datasetID string, limit int) ([]*domain.DatasetData, error)
	CountRebuilding(ctx context.Context, datasetID string) (int, error)
	Delete(ctx context.Context, d domain.VectorDelete) (int64, error)
}

// TrainingJobRepositoryInterface defines the repository interface for the training queue
type TrainingJobRepositoryInterface interface {
	CreateBatch(ctx context.Context, jobs []*domain.TrainingJob) error
	DeleteOwned(ctx context.Context, id, owner string) error
	CountActive(ctx context.Context, datasetID string) (int, error)
	Status(ctx context.Context, datasetID string) (*domain.TrainingStatus, error)
	RetryFailed(ctx context.Context, datasetID string, retryCount int) (int64, error)
	CancelPending(ctx context.Context, datasetID string) (int64, error)
	CancelCollections(ctx context.Context, datasetID string, collectionIDs []string) (int64, error)
}

// VectorWriter stores and removes embeddings
type VectorWriter interface {
	Insert(ctx context.Context, rec *domain.VectorRecord) error
	Delete(ctx context.Context, d domain.VectorDelete) (int64, error)
}

// VectorSearcher runs nearest neighbour queries
type VectorSearcher interface {
	Query(ctx context.Context, q domain.VectorQuery) ([]*domain.VectorMatch, error)
}

// ModelRegistry resolves model names to capabilities
type ModelRegistry interface {
	Embedding(name string) (model.EmbeddingModel, error)
	Chat(name string) (model.ChatModel, error)
}

// UsageBiller receives one usage event per model call
type UsageBiller interface {
	CheckQuota(ctx context.Context, teamID string) error
	Record(ctx context.Context, u domain.Usage) error
}

// Clock returns the current time (for testing)
type Clock func() time.Time
