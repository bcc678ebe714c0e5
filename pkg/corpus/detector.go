package corpus

import (
	"context"
	"fmt"
	"time"

	"github.com/praetor-ai/rampart/pkg/detect"
	"github.com/praetor-ai/rampart/pkg/patterns"
)

// Detection defaults. MatchThreshold is the similarity a query must reach
// against the attack partition; DominanceMargin is how far the attack match
// must exceed the best benign match before a signal is emitted. The margin
// keeps everyday phrasing that merely resembles both partitions quiet.
const (
	DefaultMatchThreshold  = 0.75
	DefaultDominanceMargin = 0.10
	maxSignalConfidence    = 0.95
)

// Detector surfaces similarity to previously confirmed attacks as a threat
// signal. It never reaches full confidence on its own: similarity is
// evidence, not proof, so the cap leaves the final word to the fusion step.
type Detector struct {
	store     *Store
	threshold float64
	margin    float64
}

// NewDetector wraps a store. Zero threshold and margin take the defaults.
func NewDetector(store *Store, threshold, margin float64) *Detector {
	if threshold == 0 {
		threshold = DefaultMatchThreshold
	}
	if margin == 0 {
		margin = DefaultDominanceMargin
	}
	return &Detector{store: store, threshold: threshold, margin: margin}
}

func (d *Detector) Name() string           { return "knowledge_graph" }
func (d *Detector) Priority() int          { return 2 }
func (d *Detector) Timeout() time.Duration { return 500 * time.Millisecond }

func (d *Detector) Detect(ctx context.Context, in *detect.Input) ([]detect.Signal, error) {
	attacks, err := d.store.QueryAttack(ctx, in.Norm.Canonical, 3)
	if err != nil {
		return nil, err
	}
	if len(attacks) == 0 || attacks[0].Similarity < d.threshold {
		return nil, nil
	}
	best := attacks[0]

	benign, err := d.store.QueryBenign(ctx, in.Norm.Canonical, 1)
	if err != nil {
		return nil, err
	}
	benignSim := 0.0
	if len(benign) > 0 {
		benignSim = benign[0].Similarity
	}
	if best.Similarity-benignSim < d.margin {
		return nil, nil
	}

	conf := best.Similarity
	if conf > maxSignalConfidence {
		conf = maxSignalConfidence
	}
	category := best.Category
	if category == "" {
		category = string(patterns.CategoryJailbreak)
	}
	return []detect.Signal{{
		Source:     detect.SourceKnowledgeGraph,
		RuleID:     "kg_" + category,
		Category:   patterns.Category(category),
		Severity:   patterns.SeverityHigh,
		Confidence: conf,
		Excerpt:    best.Text,
		Detail:     fmt.Sprintf("similar to confirmed attack (%.2f vs benign %.2f)", best.Similarity, benignSim),
	}}, nil
}
