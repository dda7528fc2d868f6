package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/api/middleware"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testTeam    = "team-a"
	testDataset = "0b8f5a8e-2f0e-4a8e-9d55-1d6f7f3f0c11"
)

type MockDatasetService struct {
	mock.Mock
}

func (m *MockDatasetService) Create(ctx context.Context, input service.CreateDatasetInput) (*domain.Dataset, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetService) Get(ctx context.Context, teamID, id string) (*domain.Dataset, error) {
	args := m.Called(ctx, teamID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetService) List(ctx context.Context, input service.ListDatasetsInput) (*service.ListDatasetsOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListDatasetsOutput), args.Error(1)
}

type MockTrainingService struct {
	mock.Mock
}

func (m *MockTrainingService) Push(ctx context.Context, input service.PushInput) (*service.PushOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PushOutput), args.Error(1)
}

func (m *MockTrainingService) ImportText(ctx context.Context, input service.ImportTextInput) (*service.PushOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PushOutput), args.Error(1)
}

func (m *MockTrainingService) ImportObject(ctx context.Context, input service.ImportObjectInput) (*service.PushOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PushOutput), args.Error(1)
}

func (m *MockTrainingService) Status(ctx context.Context, teamID, datasetID string) (*domain.TrainingStatus, error) {
	args := m.Called(ctx, teamID, datasetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TrainingStatus), args.Error(1)
}

func (m *MockTrainingService) Retry(ctx context.Context, teamID, datasetID string) (int64, error) {
	args := m.Called(ctx, teamID, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTrainingService) Cancel(ctx context.Context, teamID, datasetID string) (int64, error) {
	args := m.Called(ctx, teamID, datasetID)
	return args.Get(0).(int64), args.Error(1)
}

type MockDataService struct {
	mock.Mock
}

func (m *MockDataService) DeleteData(ctx context.Context, teamID, datasetID, dataID string) (*service.DeleteDataOutput, error) {
	args := m.Called(ctx, teamID, datasetID, dataID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeleteDataOutput), args.Error(1)
}

func (m *MockDataService) DeleteCollection(ctx context.Context, teamID, datasetID, collectionID string) (*service.DeleteDataOutput, error) {
	args := m.Called(ctx, teamID, datasetID, collectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeleteDataOutput), args.Error(1)
}

type MockRebuildService struct {
	mock.Mock
}

func (m *MockRebuildService) Rebuild(ctx context.Context, input service.RebuildInput) (*service.RebuildOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RebuildOutput), args.Error(1)
}

func (m *MockRebuildService) Pause(ctx context.Context, teamID, datasetID string) error {
	return m.Called(ctx, teamID, datasetID).Error(0)
}

func (m *MockRebuildService) Resume(ctx context.Context, teamID, datasetID string) error {
	return m.Called(ctx, teamID, datasetID).Error(0)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, input service.SearchInput) (*domain.SearchResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SearchResponse), args.Error(1)
}

// teamRequest builds a request as the auth middleware would hand it on, with
// an optional {id} route parameter.
func teamRequest(method, url, body, id string) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), middleware.TeamIDKey, testTeam)
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

// withParam adds one more chi route parameter to a request built by teamRequest.
func withParam(req *http.Request, key, value string) *http.Request {
	rctx, ok := req.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok {
		rctx = chi.NewRouteContext()
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
