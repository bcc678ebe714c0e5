package detect

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"
)

// DefaultBudget caps a whole evaluation when the caller's context carries no
// deadline of its own.
const DefaultBudget = 2 * time.Second

// Assessment is the fused output of one evaluation round. Score is the
// highest signal confidence: one strong detector is enough to escalate, and
// weak detectors can never dilute a strong one.
type Assessment struct {
	Signals  []Signal      `json:"signals"`
	Score    float64       `json:"score"`
	Degraded []string      `json:"degraded,omitempty"`
	Elapsed  time.Duration `json:"-"`
}

// TopSignal returns the strongest signal, or nil when the input is clean.
func (a *Assessment) TopSignal() *Signal {
	if len(a.Signals) == 0 {
		return nil
	}
	return &a.Signals[0]
}

// Orchestrator fans an input out to every registered detector concurrently
// and merges the results. Detector failures are fail-open: the evaluation
// completes on whatever signals the healthy detectors produced, and the
// failed detector names are reported so the decision layer can tell a clean
// verdict from a blind one.
type Orchestrator struct {
	detectors []Detector
	budget    time.Duration
}

// NewOrchestrator registers the given detectors. A zero budget means
// DefaultBudget.
func NewOrchestrator(budget time.Duration, detectors ...Detector) *Orchestrator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Orchestrator{detectors: detectors, budget: budget}
}

// Detectors returns the registered detector names in fusion priority order.
func (o *Orchestrator) Detectors() []string {
	ds := make([]Detector, len(o.detectors))
	copy(ds, o.detectors)
	sort.Slice(ds, func(i, j int) bool { return ds[i].Priority() < ds[j].Priority() })
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name()
	}
	return names
}

type detectorResult struct {
	detector Detector
	signals  []Signal
	err      error
}

// Evaluate runs every detector against the input and fuses the signals.
// Each detector call is bounded by the smaller of its own timeout and the
// time remaining in the overall budget.
func (o *Orchestrator) Evaluate(ctx context.Context, in *Input) *Assessment {
	start := time.Now()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.budget)
		defer cancel()
	}

	results := make(chan detectorResult, len(o.detectors))
	for _, d := range o.detectors {
		go func(d Detector) {
			callCtx, cancel := context.WithTimeout(ctx, d.Timeout())
			defer cancel()
			signals, err := d.Detect(callCtx, in)
			results <- detectorResult{detector: d, signals: signals, err: err}
		}(d)
	}

	a := &Assessment{}
	priorities := make(map[Source]int, len(o.detectors))
	for _, d := range o.detectors {
		priorities[Source(d.Name())] = d.Priority()
	}

	// The per-call timeout only helps when the detector observes its
	// context. The merge must not trust that, so it waits in a select and
	// walks away at the deadline; stragglers report into the buffered
	// channel and are dropped.
	finished := make(map[string]bool, len(o.detectors))
	collect := func(r detectorResult) {
		finished[r.detector.Name()] = true
		if r.err != nil {
			a.Degraded = append(a.Degraded, r.detector.Name())
			if !errors.Is(r.err, ErrUnavailable) {
				log.Printf("[DETECT] %s failed, continuing without it: %v", r.detector.Name(), r.err)
			}
			return
		}
		a.Signals = append(a.Signals, r.signals...)
	}

	waiting := len(o.detectors)
	for waiting > 0 {
		select {
		case r := <-results:
			waiting--
			collect(r)
		case <-ctx.Done():
			// Take anything that already finished, then stop waiting.
			for waiting > 0 {
				select {
				case r := <-results:
					waiting--
					collect(r)
				default:
					waiting = 0
				}
			}
			for _, d := range o.detectors {
				if !finished[d.Name()] {
					a.Degraded = append(a.Degraded, d.Name())
					log.Printf("[DETECT] %s missed the deadline, continuing without it", d.Name())
				}
			}
		}
	}

	a.Signals = fuse(a.Signals, priorities)
	for _, s := range a.Signals {
		if s.Confidence > a.Score {
			a.Score = s.Confidence
		}
	}
	sort.Strings(a.Degraded)
	a.Elapsed = time.Since(start)
	return a
}

// fuse deduplicates signals by rule id, keeping the most confident instance,
// then orders the result deterministically: confidence descending, then
// source priority, then rule id. Two evaluations of the same input always
// produce the same signal order regardless of detector completion order.
func fuse(signals []Signal, priorities map[Source]int) []Signal {
	byRule := make(map[string]Signal, len(signals))
	for _, s := range signals {
		prev, seen := byRule[s.RuleID]
		if !seen || s.Confidence > prev.Confidence {
			byRule[s.RuleID] = s
		}
	}

	fused := make([]Signal, 0, len(byRule))
	for _, s := range byRule {
		fused = append(fused, s)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Confidence != fused[j].Confidence {
			return fused[i].Confidence > fused[j].Confidence
		}
		pi, pj := priorities[fused[i].Source], priorities[fused[j].Source]
		if pi != pj {
			return pi < pj
		}
		return fused[i].RuleID < fused[j].RuleID
	})
	return fused
}
