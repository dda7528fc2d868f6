package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUsageStore struct {
	mock.Mock
}

func (m *MockUsageStore) Insert(ctx context.Context, u *domain.Usage) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

type MockQuota struct {
	mock.Mock
}

func (m *MockQuota) Check(ctx context.Context, teamID string) error {
	args := m.Called(ctx, teamID)
	return args.Error(0)
}

func (m *MockQuota) Add(ctx context.Context, teamID string, tokens int) error {
	args := m.Called(ctx, teamID, tokens)
	return args.Error(0)
}

func fastConfig() Config {
	return Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestBiller_Record(t *testing.T) {
	store := new(MockUsageStore)
	quota := new(MockQuota)
	store.On("Insert", mock.Anything, mock.MatchedBy(func(u *domain.Usage) bool {
		return u.ID != "" && !u.CreatedAt.IsZero() && u.Tokens == 12 && u.Source == domain.UsageSourceTraining
	})).Return(nil).Once()
	quota.On("Add", mock.Anything, "team-1", 12).Return(nil).Once()

	b := NewBiller(store, quota, fastConfig(), logger.Nop())
	err := b.Record(context.Background(), domain.Usage{TeamID: "team-1", Model: "m", Tokens: 12, Source: domain.UsageSourceTraining})

	require.NoError(t, err)
	store.AssertExpectations(t)
	quota.AssertExpectations(t)
}

func TestBiller_Record_RetriesThenSucceeds(t *testing.T) {
	store := new(MockUsageStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Twice()
	store.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()

	b := NewBiller(store, nil, fastConfig(), logger.Nop())
	err := b.Record(context.Background(), domain.Usage{TeamID: "team-1", Tokens: 1})

	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "Insert", 3)
}

func TestBiller_Record_GivesUpAfterBoundedRetries(t *testing.T) {
	store := new(MockUsageStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	b := NewBiller(store, nil, fastConfig(), logger.Nop())
	err := b.Record(context.Background(), domain.Usage{TeamID: "team-1", Tokens: 1})

	assert.Error(t, err)
	store.AssertNumberOfCalls(t, "Insert", 3)
}

func TestBiller_Record_SameIDAcrossRetries(t *testing.T) {
	store := new(MockUsageStore)
	var ids []string
	store.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(1).(*domain.Usage).ID)
	}).Return(errors.New("timeout")).Once()
	store.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(1).(*domain.Usage).ID)
	}).Return(nil).Once()

	b := NewBiller(store, nil, fastConfig(), logger.Nop())
	require.NoError(t, b.Record(context.Background(), domain.Usage{TeamID: "team-1", Tokens: 1}))

	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}

func TestBiller_Record_SkipsZeroTokens(t *testing.T) {
	store := new(MockUsageStore)
	b := NewBiller(store, nil, fastConfig(), logger.Nop())

	require.NoError(t, b.Record(context.Background(), domain.Usage{TeamID: "team-1"}))
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestBiller_Record_QuotaFailureIsNotFatal(t *testing.T) {
	store := new(MockUsageStore)
	quota := new(MockQuota)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)
	quota.On("Add", mock.Anything, "team-1", 5).Return(errors.New("redis down"))

	b := NewBiller(store, quota, fastConfig(), logger.Nop())
	assert.NoError(t, b.Record(context.Background(), domain.Usage{TeamID: "team-1", Tokens: 5}))
}

func TestBiller_CheckQuota(t *testing.T) {
	b := NewBiller(new(MockUsageStore), nil, fastConfig(), logger.Nop())
	assert.NoError(t, b.CheckQuota(context.Background(), "team-1"))

	quota := new(MockQuota)
	quota.On("Check", mock.Anything, "team-1").Return(domain.ErrQuotaExhausted)
	b = NewBiller(new(MockUsageStore), quota, fastConfig(), logger.Nop())

	err := b.CheckQuota(context.Background(), "team-1")
	assert.True(t, domain.IsResourceExhausted(err))
}

func TestBiller_Record_CountsPersistedTokens(t *testing.T) {
	store := new(MockUsageStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))
	m := metrics.New()

	b := NewBiller(store, nil, fastConfig(), logger.Nop()).WithMetrics(m)
	require.NoError(t, b.Record(context.Background(), domain.Usage{TeamID: "team-1", Model: "m", Tokens: 7, Source: domain.UsageSourceSearch}))
	require.Error(t, b.Record(context.Background(), domain.Usage{TeamID: "team-1", Model: "m", Tokens: 5, Source: domain.UsageSourceSearch}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `kbindex_usage_tokens_total{model="m",source="search"} 7`)
}
