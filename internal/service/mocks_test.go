package service

import (
	"context"
	"sync"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/model"
	"github.com/cloo-solutions/kbindex/internal/openai"
	"github.com/cloo-solutions/kbindex/internal/pagination"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	teamA     = "team-a"
	teamB     = "team-b"
	datasetID = "6f1c2a8e-2d7b-4a57-9a43-1f0d9a1c0b01"
	dataID    = "0b8e6d8a-51f4-4c7e-8d0e-3c2f4b6a7e11"
)

// MockDatasetRepository is a mock implementation of DatasetRepositoryInterface
type MockDatasetRepository struct {
	mock.Mock
}

func (m *MockDatasetRepository) Create(ctx context.Context, d *domain.Dataset) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDatasetRepository) GetByID(ctx context.Context, id string) (*domain.Dataset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetRepository) GetForUpdate(ctx context.Context, id string) (*domain.Dataset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetRepository) GetMany(ctx context.Context, ids []string) ([]*domain.Dataset, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Dataset), args.Error(1)
}

func (m *MockDatasetRepository) ListByTeamWithCursor(ctx context.Context, teamID string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Dataset], error) {
	args := m.Called(ctx, teamID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.Dataset]), args.Error(1)
}

func (m *MockDatasetRepository) ListRebuilding(ctx context.Context) ([]*domain.Dataset, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Dataset), args.Error(1)
}

func (m *MockDatasetRepository) SetVectorModel(ctx context.Context, id, model string) error {
	args := m.Called(ctx, id, model)
	return args.Error(0)
}

func (m *MockDatasetRepository) SetRebuildPaused(ctx context.Context, id string, paused bool) error {
	args := m.Called(ctx, id, paused)
	return args.Error(0)
}

// MockDatasetDataRepository is a mock implementation of DatasetDataRepositoryInterface
type MockDatasetDataRepository struct {
	mock.Mock
}

func (m *MockDatasetDataRepository) Create(ctx context.Context, d *domain.DatasetData) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDatasetDataRepository) GetForShare(ctx context.Context, id string) (*domain.DatasetData, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DatasetData), args.Error(1)
}

func (m *MockDatasetDataRepository) MarkRebuilding(ctx context.Context, datasetID string) (int64, error) {
	args := m.Called(ctx, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDatasetDataRepository) ClaimRebuildBatch(ctx context.Context, datasetID string, limit int) ([]*domain.DatasetData, error) {
	args := m.Called(ctx, datasetID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DatasetData), args.Error(1)
}

func (m *MockDatasetDataRepository) CountRebuilding(ctx context.Context, datasetID string) (int, error) {
	args := m.Called(ctx, datasetID)
	return args.Int(0), args.Error(1)
}

func (m *MockDatasetDataRepository) Delete(ctx context.Context, d domain.VectorDelete) (int64, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(int64), args.Error(1)
}

// MockTrainingJobRepository is a mock implementation of TrainingJobRepositoryInterface
type MockTrainingJobRepository struct {
	mock.Mock
}

func (m *MockTrainingJobRepository) CreateBatch(ctx context.Context, jobs []*domain.TrainingJob) error {
	args := m.Called(ctx, jobs)
	return args.Error(0)
}

func (m *MockTrainingJobRepository) DeleteOwned(ctx context.Context, id, owner string) error {
	args := m.Called(ctx, id, owner)
	return args.Error(0)
}

func (m *MockTrainingJobRepository) CountActive(ctx context.Context, datasetID string) (int, error) {
	args := m.Called(ctx, datasetID)
	return args.Int(0), args.Error(1)
}

func (m *MockTrainingJobRepository) Status(ctx context.Context, datasetID string) (*domain.TrainingStatus, error) {
	args := m.Called(ctx, datasetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TrainingStatus), args.Error(1)
}

func (m *MockTrainingJobRepository) RetryFailed(ctx context.Context, datasetID string, retryCount int) (int64, error) {
	args := m.Called(ctx, datasetID, retryCount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTrainingJobRepository) CancelPending(ctx context.Context, datasetID string) (int64, error) {
	args := m.Called(ctx, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTrainingJobRepository) CancelCollections(ctx context.Context, datasetID string, collectionIDs []string) (int64, error) {
	args := m.Called(ctx, datasetID, collectionIDs)
	return args.Get(0).(int64), args.Error(1)
}

// MockVectorStore implements VectorWriter and VectorSearcher
type MockVectorStore struct {
	mock.Mock
}

func (m *MockVectorStore) Insert(ctx context.Context, rec *domain.VectorRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockVectorStore) Delete(ctx context.Context, d domain.VectorDelete) (int64, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVectorStore) Query(ctx context.Context, q domain.VectorQuery) ([]*domain.VectorMatch, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.VectorMatch), args.Error(1)
}

// MockEmbedder implements Embedder and QAGenerator
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string, modelName string) (*openai.EmbedResult, error) {
	args := m.Called(ctx, texts, modelName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.EmbedResult), args.Error(1)
}

func (m *MockEmbedder) GenerateQA(ctx context.Context, text, modelName string) (*openai.QAResult, error) {
	args := m.Called(ctx, text, modelName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.QAResult), args.Error(1)
}

// recordingBiller keeps every usage event in memory
type recordingBiller struct {
	mu       sync.Mutex
	usage    []domain.Usage
	quotaErr error
	err      error
}

func (b *recordingBiller) CheckQuota(ctx context.Context, teamID string) error {
	return b.quotaErr
}

func (b *recordingBiller) Record(ctx context.Context, u domain.Usage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = append(b.usage, u)
	return b.err
}

func (b *recordingBiller) events() []domain.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Usage(nil), b.usage...)
}

// MockObjectReader is a mock implementation of ObjectReader
type MockObjectReader struct {
	mock.Mock
}

func (m *MockObjectReader) GetObjectText(ctx context.Context, key string, maxBytes int64) (string, error) {
	args := m.Called(ctx, key, maxBytes)
	return args.String(0), args.Error(1)
}

// sequenceUUIDs returns the given ids in order, then "default-uuid"
type sequenceUUIDs struct {
	uuids []string
	index int
}

func newSequenceUUIDs(uuids ...string) *sequenceUUIDs {
	return &sequenceUUIDs{uuids: uuids}
}

func (g *sequenceUUIDs) NewString() string {
	if g.index >= len(g.uuids) {
		return "default-uuid"
	}
	id := g.uuids[g.index]
	g.index++
	return id
}

func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg, err := model.Default()
	require.NoError(t, err)
	return reg
}

// wideRegistry holds one model that fits a 1536 dimension store and one that does not
func wideRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg, err := model.Parse([]byte(`
embedding:
  - name: text-embedding-3-small
    dimensions: 1536
  - name: wide-embedding
    dimensions: 3072
chat:
  - name: gpt-4o-mini
`))
	require.NoError(t, err)
	return reg
}

func testDataset() *domain.Dataset {
	return &domain.Dataset{
		ID:          datasetID,
		TeamID:      teamA,
		Name:        "handbook",
		VectorModel: "text-embedding-3-small",
		QAModel:     "gpt-4o-mini",
	}
}

func vectorOf(dims int, v float32) []float32 {
	out := make([]float32, dims)
	for i := range out {
		out[i] = v
	}
	return out
}
