package domain

import (
	"fmt"
	"strings"
	"time"
)

// Dataset is a knowledge base: a set of collections sharing one embedding model
type Dataset struct {
	ID            string    `json:"id"`
	TeamID        string    `json:"teamId"`
	Name          string    `json:"name"`
	VectorModel   string    `json:"vectorModel"`
	QAModel       string    `json:"qaModel,omitempty"`
	RebuildPaused bool      `json:"rebuildPaused"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DatasetData is the (question, answer) unit a vector belongs to.
// Rebuilding marks rows whose vector is stale under the dataset's current model.
type DatasetData struct {
	ID           string
	TeamID       string
	DatasetID    string
	CollectionID string
	Q            string
	A            string
	Source       string
	ChunkIndex   int
	Rebuilding   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDataset creates a new Dataset instance
func NewDataset(id, teamID, name, vectorModel, qaModel string, createdAt time.Time) *Dataset {
	return &Dataset{
		ID:          id,
		TeamID:      teamID,
		Name:        name,
		VectorModel: vectorModel,
		QAModel:     qaModel,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

// ValidateDataset validates a Dataset instance
func ValidateDataset(d *Dataset) error {
	if d == nil {
		return fmt.Errorf("dataset cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("dataset ID is required")
	}

	if d.TeamID == "" {
		return fmt.Errorf("dataset TeamID is required")
	}

	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("dataset Name is required")
	}

	if d.VectorModel == "" {
		return fmt.Errorf("dataset VectorModel is required")
	}

	return nil
}
