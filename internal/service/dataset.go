package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/pagination"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
)

// DatasetService manages datasets and their model settings
type DatasetService struct {
	datasets       DatasetRepositoryInterface
	models         ModelRegistry
	defaultVector  string
	defaultQAModel string
	vectorDims     int
	uuidGen        UUIDGenerator
	now            Clock
}

func NewDatasetService(datasets DatasetRepositoryInterface, models ModelRegistry, defaultVector, defaultQAModel string) *DatasetService {
	return &DatasetService{
		datasets:       datasets,
		models:         models,
		defaultVector:  defaultVector,
		defaultQAModel: defaultQAModel,
		uuidGen:        &DefaultUUIDGenerator{},
		now:            time.Now,
	}
}

// NewDatasetServiceWithUUIDGen creates a DatasetService with custom UUID generator (for testing)
func NewDatasetServiceWithUUIDGen(datasets DatasetRepositoryInterface, models ModelRegistry, defaultVector, defaultQAModel string, uuidGen UUIDGenerator) *DatasetService {
	s := NewDatasetService(datasets, models, defaultVector, defaultQAModel)
	s.uuidGen = uuidGen
	return s
}

// WithVectorDimensions makes Create refuse embedding models whose vectors do
// not fit a store of dims dimensions.
func (s *DatasetService) WithVectorDimensions(dims int) *DatasetService {
	s.vectorDims = dims
	return s
}

type CreateDatasetInput struct {
	TeamID      string
	Name        string
	VectorModel string
	QAModel     string
}

type ListDatasetsInput struct {
	TeamID string
	Cursor string
	Limit  int
}

type ListDatasetsOutput struct {
	Items   []*domain.Dataset
	Cursor  string
	HasMore bool
}

func (s *DatasetService) Create(ctx context.Context, input CreateDatasetInput) (*domain.Dataset, error) {
	ctx, span := telemetry.StartSpan(ctx, "DatasetService.Create", telemetry.SpanAttributes{
		TeamID:    input.TeamID,
		Operation: "create",
	})
	defer span.End()

	vectorModel := input.VectorModel
	if vectorModel == "" {
		vectorModel = s.defaultVector
	}
	em, err := s.models.Embedding(vectorModel)
	if err != nil {
		return nil, err
	}
	if err := em.CheckDimensions(s.vectorDims); err != nil {
		return nil, err
	}
	qaModel := input.QAModel
	if qaModel == "" {
		qaModel = s.defaultQAModel
	}
	if qaModel != "" {
		if _, err := s.models.Chat(qaModel); err != nil {
			return nil, err
		}
	}

	d := domain.NewDataset(s.uuidGen.NewString(), input.TeamID, strings.TrimSpace(input.Name), vectorModel, qaModel, s.now().UTC())
	if err := domain.ValidateDataset(d); err != nil {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, err)
	}
	if err := s.datasets.Create(ctx, d); err != nil {
		span.SetError(err)
		return nil, err
	}
	return d, nil
}

// Get returns a dataset owned by the team.
func (s *DatasetService) Get(ctx context.Context, teamID, id string) (*domain.Dataset, error) {
	return loadOwnedDataset(ctx, s.datasets, teamID, id)
}

func (s *DatasetService) List(ctx context.Context, input ListDatasetsInput) (*ListDatasetsOutput, error) {
	cursor, err := pagination.Decode(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	page, err := s.datasets.ListByTeamWithCursor(ctx, input.TeamID, cursor, pagination.Limit(input.Limit))
	if err != nil {
		return nil, err
	}
	return &ListDatasetsOutput{Items: page.Items, Cursor: page.Cursor, HasMore: page.HasMore}, nil
}

type datasetGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Dataset, error)
}

func loadOwnedDataset(ctx context.Context, repo datasetGetter, teamID, id string) (*domain.Dataset, error) {
	if !isUUID(id) {
		return nil, domain.ErrDatasetNotFound
	}
	d, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(d, teamID); err != nil {
		return nil, err
	}
	return d, nil
}

func checkOwner(d *domain.Dataset, teamID string) error {
	if teamID != "" && d.TeamID != teamID {
		return domain.Wrap(domain.ErrDatasetForbidden, fmt.Errorf("dataset %s", d.ID))
	}
	return nil
}
