// Package detect runs independent threat detectors against a normalized
// action and fuses their signals into a single risk assessment. Detectors
// are isolated from each other: one failing or timing out never blocks the
// rest, it is simply recorded as degraded for that evaluation.
package detect

import (
	"context"
	"errors"
	"time"

	"github.com/praetor-ai/rampart/pkg/normalize"
	"github.com/praetor-ai/rampart/pkg/patterns"
)

// Source identifies which detector produced a signal.
type Source string

const (
	SourcePattern        Source = "pattern"
	SourceKnowledgeGraph Source = "knowledge_graph"
	SourceLocalModel     Source = "local_model"
	SourceRemoteLLM      Source = "remote_llm"
)

// Signal is a single threat finding from one detector. Confidence is the
// detector's belief that the finding is real; Severity buckets its impact.
type Signal struct {
	Source     Source            `json:"source"`
	RuleID     string            `json:"rule_id"`
	Category   patterns.Category `json:"category"`
	Severity   patterns.Severity `json:"severity"`
	Confidence float64           `json:"confidence"`
	Excerpt    string            `json:"excerpt,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// Input is the unit of analysis handed to every detector: the normalized
// text plus the structured fields of the action it came from.
type Input struct {
	Norm      *normalize.Result
	AgentID   string
	Action    string
	Tool      string
	Arguments string
}

// ErrUnavailable is returned by adapters whose backend is not configured or
// not ready. The orchestrator treats it like any other detector failure.
var ErrUnavailable = errors.New("detect: detector unavailable")

// Detector is one independent analysis backend.
//
// Detect must honor ctx cancellation; the orchestrator enforces a deadline
// per call. Priority orders equally-confident signals deterministically
// (lower wins) and reflects how much the fusion step trusts the source.
type Detector interface {
	Name() string
	Priority() int
	Timeout() time.Duration
	Detect(ctx context.Context, in *Input) ([]Signal, error)
}
