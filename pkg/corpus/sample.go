// Package corpus maintains the evidence the firewall learns from: confirmed
// attack samples and confirmed benign samples, stored as embeddings for
// similarity search. Evaluations feed the corpus asynchronously and the
// knowledge-graph detector reads it back, closing the feedback loop without
// touching the request path's latency.
package corpus

import (
	"time"

	"github.com/google/uuid"
)

// Partition separates attack evidence from benign evidence. The partitions
// never mix: a sample is admitted to exactly one.
type Partition string

const (
	PartitionAttack Partition = "attack"
	PartitionBenign Partition = "benign"
)

// Sample is one observed action admitted into the corpus.
type Sample struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Partition Partition `json:"partition"`
	Category  string    `json:"category,omitempty"`
	SourceID  string    `json:"source_id,omitempty"` // decision that produced it
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSample fills in identity and timestamp.
func NewSample(text string, p Partition, category, sourceID string, score float64) Sample {
	return Sample{
		ID:        uuid.NewString(),
		Text:      text,
		Partition: p,
		Category:  category,
		SourceID:  sourceID,
		Score:     score,
		CreatedAt: time.Now().UTC(),
	}
}
