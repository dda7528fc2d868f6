package domain

import (
	"fmt"
	"sort"
	"time"
)

// Precision selects which embedding column of the vector table is authoritative
type Precision string

const (
	PrecisionFull Precision = "full"
	PrecisionHalf Precision = "half"
)

// VectorRecord is one stored embedding, keyed by the data row it was computed from.
// Exactly one of Embedding / HalfEmbedding is set when read back.
type VectorRecord struct {
	ID            int64
	TeamID        string
	DatasetID     string
	CollectionID  string
	DataID        string
	Model         string
	Embedding     []float32
	HalfEmbedding []float32
	CreatedAt     time.Time
}

// Vector returns the authoritative embedding.
func (v *VectorRecord) Vector() []float32 {
	if len(v.Embedding) > 0 {
		return v.Embedding
	}
	return v.HalfEmbedding
}

// VectorQuery is the input of an approximate nearest neighbour lookup
type VectorQuery struct {
	DatasetIDs    []string
	CollectionIDs []string
	Vector        []float32
	Threshold     float64
	Limit         int
	ProbeCount    int // 0 uses the store default
}

// VectorDelete selects rows of one dataset by data id or by collection.
// A row matching either list is selected; empty lists select nothing.
type VectorDelete struct {
	DatasetID     string
	DataIDs       []string
	CollectionIDs []string
}

func (d VectorDelete) Empty() bool {
	return d.DatasetID == "" || (len(d.DataIDs) == 0 && len(d.CollectionIDs) == 0)
}

// VectorMatch is one hit returned by the vector store, already joined with its data row
type VectorMatch struct {
	VectorID     int64
	DatasetID    string
	CollectionID string
	DataID       string
	Q            string
	A            string
	Source       string
	ChunkIndex   int
	Score        float64
}

// ParsePrecision converts a config value into a Precision
func ParsePrecision(s string) (Precision, error) {
	switch Precision(s) {
	case PrecisionFull, "":
		return PrecisionFull, nil
	case PrecisionHalf:
		return PrecisionHalf, nil
	}
	return "", fmt.Errorf("unknown vector precision: %s", s)
}

// RankMatches drops matches below threshold and orders the rest by score,
// then by vector id so equal scores keep insertion order. A positive limit
// truncates the result.
func RankMatches(matches []*VectorMatch, threshold float64, limit int) []*VectorMatch {
	out := make([]*VectorMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score >= threshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].VectorID < out[j].VectorID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
