package domain

import (
	"fmt"
	"strings"
	"time"
)

// TrainingMode selects what a worker does with a queued chunk
type TrainingMode string

const (
	TrainingModeEmbedding   TrainingMode = "embedding"
	TrainingModeQASynthesis TrainingMode = "qaSynthesis"
)

// TrainingJobState is derived from the lease and failure columns, it is not stored.
// A job waiting out a retry delay has a future LockExpiry but no owner and counts as pending.
type TrainingJobState string

const (
	TrainingJobStatePending TrainingJobState = "pending"
	TrainingJobStateClaimed TrainingJobState = "claimed"
	TrainingJobStateFailed  TrainingJobState = "failed"
)

// TrainingJob is one row of the training queue: a chunk waiting to be embedded
// (or expanded into question/answer pairs first).
type TrainingJob struct {
	ID           string
	TeamID       string
	DatasetID    string
	CollectionID string
	DataID       string // Set when the job re-embeds an existing data row
	ChunkIndex   int
	Mode         TrainingMode
	Model        string
	Q            string
	A            string
	Source       string
	LockOwner    string
	LockExpiry   time.Time
	RetryCount   int
	Failed       bool
	BillID       string
	ErrorMessage string
	CreatedAt    time.Time
}

// State reports where the job sits in its lifecycle at the given instant.
func (j *TrainingJob) State(now time.Time) TrainingJobState {
	switch {
	case j.Failed:
		return TrainingJobStateFailed
	case j.LockOwner != "" && j.LockExpiry.After(now):
		return TrainingJobStateClaimed
	default:
		return TrainingJobStatePending
	}
}

// Text returns the content that is sent to the model.
func (j *TrainingJob) Text() string {
	if j.A == "" {
		return j.Q
	}
	return j.Q + "\n" + j.A
}

// ChunkInput is one chunk handed to the enqueue operation
type ChunkInput struct {
	Q          string `json:"q"`
	A          string `json:"a,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
}

// ValidateTrainingJob validates a TrainingJob before it is queued
func ValidateTrainingJob(j *TrainingJob) error {
	if j == nil {
		return fmt.Errorf("training job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("training job ID is required")
	}

	if j.DatasetID == "" {
		return fmt.Errorf("training job DatasetID is required")
	}

	if j.CollectionID == "" {
		return fmt.Errorf("training job CollectionID is required")
	}

	if !IsValidTrainingMode(j.Mode) {
		return fmt.Errorf("training job Mode is invalid: %s", j.Mode)
	}

	if j.Model == "" {
		return fmt.Errorf("training job Model is required")
	}

	if strings.TrimSpace(j.Q) == "" {
		return fmt.Errorf("training job text cannot be empty")
	}

	if j.RetryCount <= 0 {
		return fmt.Errorf("training job RetryCount must be positive")
	}

	if j.ChunkIndex < 0 {
		return fmt.Errorf("training job ChunkIndex cannot be negative")
	}

	return nil
}

// IsValidTrainingMode checks if a TrainingMode is known
func IsValidTrainingMode(m TrainingMode) bool {
	switch m {
	case TrainingModeEmbedding, TrainingModeQASynthesis:
		return true
	}
	return false
}

// TrainingStatus summarises the queue and data of one dataset
type TrainingStatus struct {
	DatasetID       string     `json:"datasetId"`
	VectorModel     string     `json:"vectorModel"`
	Pending         int        `json:"pending"`
	Claimed         int        `json:"claimed"`
	Failed          int        `json:"failed"`
	Rebuilding      int        `json:"rebuilding"`
	DataCount       int        `json:"dataCount"`
	RebuildPaused   bool       `json:"rebuildPaused"`
	LastError       string     `json:"lastError,omitempty"`
	LastErrorAt     *time.Time `json:"lastErrorAt,omitempty"`
	LastFailedJobID string     `json:"lastFailedJobId,omitempty"`
}

// Active reports whether any non-failed job is still queued or running.
func (s *TrainingStatus) Active() bool {
	return s.Pending > 0 || s.Claimed > 0
}
