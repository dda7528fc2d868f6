package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type processorFixture struct {
	datasets *MockDatasetRepository
	data     *MockDatasetDataRepository
	jobs     *MockTrainingJobRepository
	vectors  *MockVectorStore
	embedder *MockEmbedder
	biller   *recordingBiller
	tx       *testTxRunner
	proc     *TrainingProcessor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		datasets: new(MockDatasetRepository),
		data:     new(MockDatasetDataRepository),
		jobs:     new(MockTrainingJobRepository),
		vectors:  new(MockVectorStore),
		embedder: new(MockEmbedder),
		biller:   &recordingBiller{},
	}
	f.tx = &testTxRunner{repos: &testTxRepos{
		datasets:     f.datasets,
		datasetData:  f.data,
		trainingJobs: f.jobs,
		vectors:      f.vectors,
	}}
	f.proc = NewTrainingProcessor(f.datasets, f.embedder, f.embedder, f.biller, f.tx, 4, logger.Nop())
	f.proc.uuidGen = newSequenceUUIDs(dataID, "child-1", "child-2")
	return f
}

func embeddingJob() *domain.TrainingJob {
	return &domain.TrainingJob{
		ID:           "job-1",
		TeamID:       teamA,
		DatasetID:    datasetID,
		CollectionID: "col-1",
		ChunkIndex:   3,
		Mode:         domain.TrainingModeEmbedding,
		Model:        "text-embedding-3-small",
		Q:            "what is kbindex",
		A:            "an indexer",
		Source:       "readme.md",
		LockOwner:    "worker-1",
		RetryCount:   5,
		BillID:       "bill-1",
	}
}

func TestTrainingProcessor_Embedding_CreatesDataAndVector(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	vec := vectorOf(1536, 0.1)

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("Embed", mock.Anything, []string{"what is kbindex\nan indexer"}, "text-embedding-3-small").
		Return(&openai.EmbedResult{Vectors: [][]float32{vec}, Tokens: 9}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(nil)
	f.data.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.DatasetData) bool {
		return d.ID == dataID && d.CollectionID == "col-1" && d.Q == job.Q && d.A == job.A && d.ChunkIndex == 3 && d.Source == "readme.md"
	})).Return(nil)
	f.vectors.On("Insert", mock.Anything, mock.MatchedBy(func(r *domain.VectorRecord) bool {
		return r.DataID == dataID && r.Model == "text-embedding-3-small" && len(r.Embedding) == 1536
	})).Return(nil)

	require.NoError(t, f.proc.ProcessJob(context.Background(), job))

	f.jobs.AssertExpectations(t)
	f.data.AssertExpectations(t)
	f.vectors.AssertExpectations(t)
	usage := f.biller.events()
	require.Len(t, usage, 1)
	assert.Equal(t, 9, usage[0].Tokens)
	assert.Equal(t, domain.UsageSourceTraining, usage[0].Source)
	assert.Equal(t, "bill-1", usage[0].BillID)
}

func TestTrainingProcessor_Embedding_RebuildReplacesVector(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	job.DataID = dataID
	job.Model = "text-embedding-3-small"
	ds := testDataset()
	ds.VectorModel = "text-embedding-3-large"

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(ds, nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, "text-embedding-3-large").
		Return(&openai.EmbedResult{Vectors: [][]float32{vectorOf(1536, 0.2)}, Tokens: 9}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(nil)
	f.data.On("GetForShare", mock.Anything, dataID).Return(&domain.DatasetData{ID: dataID}, nil)
	f.vectors.On("Insert", mock.Anything, mock.MatchedBy(func(r *domain.VectorRecord) bool {
		return r.DataID == dataID && r.Model == "text-embedding-3-large"
	})).Return(nil)

	require.NoError(t, f.proc.ProcessJob(context.Background(), job))
	f.data.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.vectors.AssertExpectations(t)
}

func TestTrainingProcessor_Embedding_DataRowGone(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	job.DataID = dataID

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(&openai.EmbedResult{Vectors: [][]float32{vectorOf(1536, 0.2)}, Tokens: 1}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(nil)
	f.data.On("GetForShare", mock.Anything, dataID).Return(nil, domain.ErrDatasetDataNotFound)

	require.NoError(t, f.proc.ProcessJob(context.Background(), job))
	f.vectors.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestTrainingProcessor_Embedding_LeaseLostWritesNothing(t *testing.T) {
	f := newProcessorFixture()

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(&openai.EmbedResult{Vectors: [][]float32{vectorOf(1536, 0.1)}, Tokens: 1}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(domain.ErrLeaseLost)

	err := f.proc.ProcessJob(context.Background(), embeddingJob())
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	f.data.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.vectors.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Empty(t, f.biller.events())
}

func TestTrainingProcessor_QA_LeaseLostBillsNothing(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	job.Mode = domain.TrainingModeQASynthesis
	job.Model = "gpt-4o-mini"

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("GenerateQA", mock.Anything, mock.Anything, "gpt-4o-mini").
		Return(&openai.QAResult{Pairs: []openai.QAPair{{Q: "q1", A: "a1"}}, Tokens: 80}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(domain.ErrLeaseLost)

	err := f.proc.ProcessJob(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	f.jobs.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	assert.Empty(t, f.biller.events())
}

func TestTrainingProcessor_Embedding_LeaseLostThenRetryBillsOnce(t *testing.T) {
	f := newProcessorFixture()

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(&openai.EmbedResult{Vectors: [][]float32{vectorOf(1536, 0.1)}, Tokens: 7}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(domain.ErrLeaseLost).Once()
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-2").Return(nil).Once()
	f.data.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.vectors.On("Insert", mock.Anything, mock.Anything).Return(nil)

	assert.ErrorIs(t, f.proc.ProcessJob(context.Background(), embeddingJob()), domain.ErrLeaseLost)

	retaken := embeddingJob()
	retaken.LockOwner = "worker-2"
	require.NoError(t, f.proc.ProcessJob(context.Background(), retaken))

	usage := f.biller.events()
	require.Len(t, usage, 1)
	assert.Equal(t, 7, usage[0].Tokens)
}

func TestTrainingProcessor_Embedding_Errors(t *testing.T) {
	tests := []struct {
		name     string
		quotaErr error
		embedErr error
		check    func(error) bool
	}{
		{name: "quota exhausted", quotaErr: domain.ErrQuotaExhausted, check: domain.IsResourceExhausted},
		{name: "rate limited", embedErr: domain.ErrRateLimited, check: domain.IsRetryable},
		{name: "invalid input", embedErr: domain.ErrInvalidInput, check: domain.IsNonRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture()
			f.biller.quotaErr = tt.quotaErr
			f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
			f.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.embedErr)

			err := f.proc.ProcessJob(context.Background(), embeddingJob())
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected class for %v", err)
			assert.Zero(t, f.tx.called)
			assert.Empty(t, f.biller.events())
		})
	}
}

func TestTrainingProcessor_Embedding_BillingFailureDoesNotFailJob(t *testing.T) {
	f := newProcessorFixture()
	f.biller.err = errors.New("usage store down")

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(&openai.EmbedResult{Vectors: [][]float32{vectorOf(1536, 0.1)}, Tokens: 3}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(nil)
	f.data.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.vectors.On("Insert", mock.Anything, mock.Anything).Return(nil)

	assert.NoError(t, f.proc.ProcessJob(context.Background(), embeddingJob()))
}

func TestTrainingProcessor_QA_EnqueuesPairs(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	job.Mode = domain.TrainingModeQASynthesis
	job.Model = "gpt-4o-mini"
	job.A = ""

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("GenerateQA", mock.Anything, job.Q, "gpt-4o-mini").Return(&openai.QAResult{
		Pairs:  []openai.QAPair{{Q: "q1", A: "a1"}, {Q: "q2", A: "a2"}},
		Tokens: 120,
	}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(nil)
	f.jobs.On("CreateBatch", mock.Anything, mock.MatchedBy(func(js []*domain.TrainingJob) bool {
		return len(js) == 2 &&
			js[0].ID == dataID && js[0].Q == "q1" && js[0].A == "a1" &&
			js[1].Q == "q2" &&
			js[0].Mode == domain.TrainingModeEmbedding &&
			js[0].Model == "text-embedding-3-small" &&
			js[0].RetryCount == 4 && js[0].BillID == "bill-1" && js[0].CollectionID == "col-1"
	})).Return(nil)

	require.NoError(t, f.proc.ProcessJob(context.Background(), job))
	f.jobs.AssertExpectations(t)

	usage := f.biller.events()
	require.Len(t, usage, 1)
	assert.Equal(t, domain.UsageSourceQASynthesis, usage[0].Source)
	assert.Equal(t, "gpt-4o-mini", usage[0].Model)
}

func TestTrainingProcessor_QA_NoPairsFallsBackToChunk(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	job.Mode = domain.TrainingModeQASynthesis
	job.Model = "gpt-4o-mini"

	f.datasets.On("GetByID", mock.Anything, datasetID).Return(testDataset(), nil)
	f.embedder.On("GenerateQA", mock.Anything, mock.Anything, "gpt-4o-mini").Return(&openai.QAResult{Tokens: 50}, nil)
	f.jobs.On("DeleteOwned", mock.Anything, "job-1", "worker-1").Return(nil)
	f.jobs.On("CreateBatch", mock.Anything, mock.MatchedBy(func(js []*domain.TrainingJob) bool {
		return len(js) == 1 && js[0].Q == job.Q && js[0].A == job.A
	})).Return(nil)

	require.NoError(t, f.proc.ProcessJob(context.Background(), job))
	f.jobs.AssertExpectations(t)
}

func TestTrainingProcessor_UnknownMode(t *testing.T) {
	f := newProcessorFixture()
	job := embeddingJob()
	job.Mode = "other"

	err := f.proc.ProcessJob(context.Background(), job)
	assert.True(t, domain.IsNonRetryable(err))
}
