package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDatasetService_Create_Defaults(t *testing.T) {
	ctx := context.Background()
	repo := new(MockDatasetRepository)
	svc := NewDatasetServiceWithUUIDGen(repo, testRegistry(t), "text-embedding-3-small", "gpt-4o-mini", newSequenceUUIDs(datasetID))

	repo.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Dataset) bool {
		return d.ID == datasetID && d.TeamID == teamA && d.Name == "handbook" &&
			d.VectorModel == "text-embedding-3-small" && d.QAModel == "gpt-4o-mini"
	})).Return(nil)

	d, err := svc.Create(ctx, CreateDatasetInput{TeamID: teamA, Name: "  handbook "})
	require.NoError(t, err)
	assert.Equal(t, datasetID, d.ID)
	repo.AssertExpectations(t)
}

func TestDatasetService_Create_UnknownModel(t *testing.T) {
	repo := new(MockDatasetRepository)
	svc := NewDatasetService(repo, testRegistry(t), "text-embedding-3-small", "")

	_, err := svc.Create(context.Background(), CreateDatasetInput{TeamID: teamA, Name: "x", VectorModel: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownModel)

	_, err = svc.Create(context.Background(), CreateDatasetInput{TeamID: teamA, Name: "x", QAModel: "text-embedding-3-small"})
	assert.ErrorIs(t, err, domain.ErrUnknownModel)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDatasetService_Create_ModelDoesNotFitStore(t *testing.T) {
	repo := new(MockDatasetRepository)
	svc := NewDatasetService(repo, wideRegistry(t), "text-embedding-3-small", "").WithVectorDimensions(1536)

	_, err := svc.Create(context.Background(), CreateDatasetInput{TeamID: teamA, Name: "x", VectorModel: "wide-embedding"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	d, err := svc.Create(context.Background(), CreateDatasetInput{TeamID: teamA, Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", d.VectorModel)
}

func TestDatasetService_Create_MissingName(t *testing.T) {
	svc := NewDatasetService(new(MockDatasetRepository), testRegistry(t), "text-embedding-3-small", "")

	_, err := svc.Create(context.Background(), CreateDatasetInput{TeamID: teamA, Name: " "})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestDatasetService_Get(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		teamID  string
		id      string
		repoErr error
		wantErr error
	}{
		{name: "owner", teamID: teamA, id: datasetID},
		{name: "other team", teamID: teamB, id: datasetID, wantErr: domain.ErrDatasetForbidden},
		{name: "not a uuid", teamID: teamA, id: "abc", wantErr: domain.ErrDatasetNotFound},
		{name: "missing", teamID: teamA, id: datasetID, repoErr: domain.ErrDatasetNotFound, wantErr: domain.ErrDatasetNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockDatasetRepository)
			if tt.repoErr != nil {
				repo.On("GetByID", ctx, tt.id).Return(nil, tt.repoErr)
			} else {
				repo.On("GetByID", ctx, tt.id).Return(testDataset(), nil)
			}
			svc := NewDatasetService(repo, testRegistry(t), "text-embedding-3-small", "")

			d, err := svc.Get(ctx, tt.teamID, tt.id)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, datasetID, d.ID)
		})
	}
}

func TestDatasetService_List(t *testing.T) {
	ctx := context.Background()
	repo := new(MockDatasetRepository)
	svc := NewDatasetService(repo, testRegistry(t), "text-embedding-3-small", "")

	repo.On("ListByTeamWithCursor", ctx, teamA, (*pagination.Cursor)(nil), 20).
		Return(&pagination.PageResult[*domain.Dataset]{Items: []*domain.Dataset{testDataset()}, Cursor: "next", HasMore: true}, nil)

	out, err := svc.List(ctx, ListDatasetsInput{TeamID: teamA, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, out.Items, 1)
	assert.Equal(t, "next", out.Cursor)
	assert.True(t, out.HasMore)
}

func TestDatasetService_List_InvalidCursor(t *testing.T) {
	svc := NewDatasetService(new(MockDatasetRepository), testRegistry(t), "text-embedding-3-small", "")

	_, err := svc.List(context.Background(), ListDatasetsInput{TeamID: teamA, Cursor: "%%%"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeValidation, domain.Code(err))
}
