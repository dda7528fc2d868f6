package service

import (
	"context"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type searchFixture struct {
	datasets *MockDatasetRepository
	vectors  *MockVectorStore
	embedder *MockEmbedder
	biller   *recordingBiller
	svc      *SearchService
}

func newSearchFixture() *searchFixture {
	f := &searchFixture{
		datasets: new(MockDatasetRepository),
		vectors:  new(MockVectorStore),
		embedder: new(MockEmbedder),
		biller:   &recordingBiller{},
	}
	f.svc = NewSearchService(f.datasets, f.embedder, f.vectors, f.biller,
		config.SearchConfig{DefaultLimit: 5, DefaultMaxTokens: 1000, Probes: 40}, logger.Nop())
	return f
}

func (f *searchFixture) expectEmbed(modelName string) {
	f.embedder.On("Embed", mock.Anything, mock.Anything, modelName).
		Return(&openai.EmbedResult{Vectors: [][]float32{vectorOf(4, 0.5)}, Tokens: 4}, nil)
}

func scoredMatches() []*domain.VectorMatch {
	return []*domain.VectorMatch{
		{VectorID: 1, DatasetID: datasetID, CollectionID: "c", DataID: "m1", Q: "first question", A: "first answer", Score: 0.91},
		{VectorID: 2, DatasetID: datasetID, CollectionID: "c", DataID: "m2", Q: "second question", A: "second answer", Score: 0.85},
		{VectorID: 3, DatasetID: datasetID, CollectionID: "c", DataID: "m3", Q: "third question", Score: 0.60},
	}
}

func TestSearchService_ThresholdAndPrompt(t *testing.T) {
	f := newSearchFixture()
	f.datasets.On("GetMany", mock.Anything, []string{datasetID}).Return([]*domain.Dataset{testDataset()}, nil)
	f.expectEmbed("text-embedding-3-small")
	f.vectors.On("Query", mock.Anything, mock.MatchedBy(func(q domain.VectorQuery) bool {
		return q.Limit == 5 && q.Threshold == 0.8 && q.ProbeCount == 40 && len(q.DatasetIDs) == 1
	})).Return(domain.RankMatches(scoredMatches(), 0.8, 5), nil)

	resp, err := f.svc.Search(context.Background(), SearchInput{
		TeamID:     teamA,
		DatasetIDs: []string{datasetID},
		Query:      "question",
		Similarity: 0.8,
	})
	require.NoError(t, err)
	assert.False(t, resp.IsEmpty)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "m1", resp.Matches[0].ID)
	assert.Equal(t, "m2", resp.Matches[1].ID)
	assert.Equal(t, "<Quote index=\"1\">\nfirst question\nfirst answer\n</Quote>\n\n<Quote index=\"2\">\nsecond question\nsecond answer\n</Quote>", resp.QuotePrompt)
	assert.Equal(t, 4, resp.TokensUsed)

	usage := f.biller.events()
	require.Len(t, usage, 1)
	assert.Equal(t, domain.UsageSourceSearch, usage[0].Source)
}

func TestSearchService_BudgetKeepsStrictPrefix(t *testing.T) {
	f := newSearchFixture()
	first := &domain.VectorMatch{VectorID: 1, DatasetID: datasetID, DataID: "m1", Q: "short", Score: 0.9}
	second := &domain.VectorMatch{VectorID: 2, DatasetID: datasetID, DataID: "m2", Q: strings.Repeat("long text ", 200), Score: 0.85}
	third := &domain.VectorMatch{VectorID: 3, DatasetID: datasetID, DataID: "m3", Q: "tiny", Score: 0.84}

	f.datasets.On("GetMany", mock.Anything, mock.Anything).Return([]*domain.Dataset{testDataset()}, nil)
	f.expectEmbed("text-embedding-3-small")
	f.vectors.On("Query", mock.Anything, mock.Anything).Return([]*domain.VectorMatch{first, second, third}, nil)

	resp, err := f.svc.Search(context.Background(), SearchInput{
		TeamID:     teamA,
		DatasetIDs: []string{datasetID},
		Query:      "q",
		MaxTokens:  50,
	})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "m1", resp.Matches[0].ID)
	assert.LessOrEqual(t, resp.PromptTokens, 50)
	assert.NotContains(t, resp.QuotePrompt, "tiny")
}

func TestSearchService_NothingAboveThreshold(t *testing.T) {
	f := newSearchFixture()
	f.datasets.On("GetMany", mock.Anything, mock.Anything).Return([]*domain.Dataset{testDataset()}, nil)
	f.expectEmbed("text-embedding-3-small")
	f.vectors.On("Query", mock.Anything, mock.Anything).Return(domain.RankMatches(scoredMatches(), 0.99, 5), nil)

	resp, err := f.svc.Search(context.Background(), SearchInput{
		TeamID: teamA, DatasetIDs: []string{datasetID}, Query: "q", Similarity: 0.99,
	})
	require.NoError(t, err)
	assert.True(t, resp.IsEmpty)
	assert.Empty(t, resp.QuotePrompt)
	assert.Empty(t, resp.Matches)
}

func TestSearchService_DedupesNormalizedText(t *testing.T) {
	f := newSearchFixture()
	f.datasets.On("GetMany", mock.Anything, mock.Anything).Return([]*domain.Dataset{testDataset()}, nil)
	f.expectEmbed("text-embedding-3-small")
	f.vectors.On("Query", mock.Anything, mock.Anything).Return([]*domain.VectorMatch{
		{VectorID: 1, DataID: "m1", Q: "What is a lease?", A: "A time-bound claim.", Score: 0.9},
		{VectorID: 2, DataID: "m2", Q: "what is a lease", A: "A time bound claim", Score: 0.89},
		{VectorID: 3, DataID: "m3", Q: "Different", Score: 0.7},
	}, nil)

	resp, err := f.svc.Search(context.Background(), SearchInput{TeamID: teamA, DatasetIDs: []string{datasetID}, Query: "lease"})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "m1", resp.Matches[0].ID)
	assert.Equal(t, "m3", resp.Matches[1].ID)
}

func TestSearchService_GroupsByModel(t *testing.T) {
	f := newSearchFixture()
	other := &domain.Dataset{ID: "9d7d7c1e-0f5e-4a8a-9c77-5d1b1c0e2f22", TeamID: teamA, VectorModel: "text-embedding-3-large"}

	f.datasets.On("GetMany", mock.Anything, mock.Anything).Return([]*domain.Dataset{testDataset(), other}, nil)
	f.expectEmbed("text-embedding-3-small")
	f.expectEmbed("text-embedding-3-large")
	f.vectors.On("Query", mock.Anything, mock.MatchedBy(func(q domain.VectorQuery) bool {
		return q.DatasetIDs[0] == datasetID
	})).Return([]*domain.VectorMatch{{VectorID: 5, DatasetID: datasetID, DataID: "a", Q: "from small", Score: 0.7}}, nil)
	f.vectors.On("Query", mock.Anything, mock.MatchedBy(func(q domain.VectorQuery) bool {
		return q.DatasetIDs[0] == other.ID
	})).Return([]*domain.VectorMatch{{VectorID: 9, DatasetID: other.ID, DataID: "b", Q: "from large", Score: 0.8}}, nil)

	resp, err := f.svc.Search(context.Background(), SearchInput{
		TeamID: teamA, DatasetIDs: []string{datasetID, other.ID}, Query: "q",
	})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "b", resp.Matches[0].ID)
	assert.Equal(t, "a", resp.Matches[1].ID)
	assert.Len(t, f.biller.events(), 2)
	assert.Equal(t, 8, resp.TokensUsed)
}

func TestSearchService_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		input   SearchInput
		found   []*domain.Dataset
		wantErr *domain.DomainError
	}{
		{name: "empty query", input: SearchInput{DatasetIDs: []string{datasetID}}, wantErr: domain.ErrInvalidSearch},
		{name: "no datasets", input: SearchInput{Query: "q"}, wantErr: domain.ErrInvalidSearch},
		{name: "similarity out of range", input: SearchInput{Query: "q", DatasetIDs: []string{datasetID}, Similarity: 2}, wantErr: domain.ErrInvalidSearch},
		{name: "negative limit", input: SearchInput{Query: "q", DatasetIDs: []string{datasetID}, Limit: -1}, wantErr: domain.ErrInvalidSearch},
		{name: "bad id", input: SearchInput{Query: "q", DatasetIDs: []string{"nope"}}, wantErr: domain.ErrDatasetNotFound},
		{name: "missing dataset", input: SearchInput{Query: "q", DatasetIDs: []string{datasetID}}, found: []*domain.Dataset{}, wantErr: domain.ErrDatasetNotFound},
		{name: "other team", input: SearchInput{TeamID: teamB, Query: "q", DatasetIDs: []string{datasetID}}, found: []*domain.Dataset{testDataset()}, wantErr: domain.ErrDatasetForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSearchFixture()
			f.datasets.On("GetMany", mock.Anything, mock.Anything).Return(tt.found, nil)

			_, err := f.svc.Search(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
			f.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSearchService_QuotaExhausted(t *testing.T) {
	f := newSearchFixture()
	f.biller.quotaErr = domain.ErrQuotaExhausted
	f.datasets.On("GetMany", mock.Anything, mock.Anything).Return([]*domain.Dataset{testDataset()}, nil)

	_, err := f.svc.Search(context.Background(), SearchInput{TeamID: teamA, DatasetIDs: []string{datasetID}, Query: "q"})
	assert.True(t, domain.IsResourceExhausted(err))
}

func TestQuoteBlock_EscapesSource(t *testing.T) {
	block := quoteBlock(3, &domain.VectorMatch{Q: "q", A: "a", Source: `a"b.md`})
	assert.Equal(t, "<Quote index=\"3\" source=\"a&#34;b.md\">\nq\na\n</Quote>", block)
}
