package domain

import "time"

// UsageSource tells which operation consumed model tokens
type UsageSource string

const (
	UsageSourceTraining    UsageSource = "training"
	UsageSourceQASynthesis UsageSource = "qa_synthesis"
	UsageSourceSearch      UsageSource = "search"
)

// Usage is one token consumption event handed to the biller
type Usage struct {
	ID        string
	TeamID    string
	DatasetID string
	BillID    string
	Model     string
	Tokens    int
	Source    UsageSource
	CreatedAt time.Time
}
