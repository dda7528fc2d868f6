package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
)

// DataService removes trained data. Data rows, their vectors and the queued
// jobs of a removed collection go in one transaction.
type DataService struct {
	txRunner TxRunner
	log      *logger.Logger
}

func NewDataService(txRunner TxRunner, log *logger.Logger) *DataService {
	return &DataService{txRunner: txRunner, log: log}
}

type DeleteDataOutput struct {
	DatasetID string `json:"datasetId"`
	Data      int64  `json:"data"`
	Vectors   int64  `json:"vectors"`
	Jobs      int64  `json:"jobs"`
}

// DeleteData removes one data row and its vector.
func (s *DataService) DeleteData(ctx context.Context, teamID, datasetID, dataID string) (*DeleteDataOutput, error) {
	if !isUUID(dataID) {
		return nil, domain.ErrDatasetDataNotFound
	}
	out, err := s.delete(ctx, teamID, domain.VectorDelete{DatasetID: datasetID, DataIDs: []string{dataID}})
	if err != nil {
		return nil, err
	}
	if out.Data == 0 {
		return nil, domain.Wrap(domain.ErrDatasetDataNotFound, fmt.Errorf("data %s", dataID))
	}
	return out, nil
}

// DeleteCollection removes every data row and vector of a collection and
// cancels its queued jobs. Jobs a worker already holds are left to finish.
func (s *DataService) DeleteCollection(ctx context.Context, teamID, datasetID, collectionID string) (*DeleteDataOutput, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "collectionId is required")
	}
	return s.delete(ctx, teamID, domain.VectorDelete{DatasetID: datasetID, CollectionIDs: []string{collectionID}})
}

func (s *DataService) delete(ctx context.Context, teamID string, sel domain.VectorDelete) (*DeleteDataOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "DataService.Delete", telemetry.SpanAttributes{
		TeamID:    teamID,
		DatasetID: sel.DatasetID,
		Operation: "delete",
	})
	defer span.End()

	if !isUUID(sel.DatasetID) {
		return nil, domain.ErrDatasetNotFound
	}

	out := &DeleteDataOutput{DatasetID: sel.DatasetID}
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if _, err := loadOwnedDataset(ctx, repos.Datasets(), teamID, sel.DatasetID); err != nil {
			return err
		}

		var err error
		if len(sel.CollectionIDs) > 0 {
			if out.Jobs, err = repos.TrainingJobs().CancelCollections(ctx, sel.DatasetID, sel.CollectionIDs); err != nil {
				return err
			}
		}
		if out.Vectors, err = repos.Vectors().Delete(ctx, sel); err != nil {
			return err
		}
		out.Data, err = repos.DatasetData().Delete(ctx, sel)
		return err
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.log.Info("data deleted",
		"dataset_id", out.DatasetID,
		"data_ids", sel.DataIDs,
		"collections", sel.CollectionIDs,
		"rows", out.Data,
		"vectors", out.Vectors,
		"jobs", out.Jobs,
	)
	telemetry.AddBreadcrumb(ctx, "data", fmt.Sprintf("deleted %d rows of dataset %s", out.Data, out.DatasetID))
	return out, nil
}
