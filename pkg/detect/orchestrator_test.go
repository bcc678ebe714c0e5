package detect

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/praetor-ai/rampart/pkg/normalize"
	"github.com/praetor-ai/rampart/pkg/patterns"
)

// fakeDetector returns canned signals after an optional delay.
type fakeDetector struct {
	name     string
	priority int
	timeout  time.Duration
	signals  []Signal
	err      error
	delay    time.Duration
}

func (f *fakeDetector) Name() string  { return f.name }
func (f *fakeDetector) Priority() int { return f.priority }
func (f *fakeDetector) Timeout() time.Duration {
	if f.timeout == 0 {
		return time.Second
	}
	return f.timeout
}

func (f *fakeDetector) Detect(ctx context.Context, in *Input) ([]Signal, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.signals, f.err
}

func testInput(text string) *Input {
	return &Input{
		Norm:    normalize.Normalize(text),
		AgentID: "agent-1",
		Action:  "message",
	}
}

func sig(src Source, rule string, conf float64) Signal {
	return Signal{
		Source:     src,
		RuleID:     rule,
		Category:   patterns.CategoryJailbreak,
		Severity:   patterns.SeverityHigh,
		Confidence: conf,
	}
}

func TestScoreIsMaxOfSignals(t *testing.T) {
	o := NewOrchestrator(0,
		&fakeDetector{name: "pattern", priority: 1, signals: []Signal{sig(SourcePattern, "a", 0.4), sig(SourcePattern, "b", 0.72)}},
		&fakeDetector{name: "remote_llm", priority: 4, signals: []Signal{sig(SourceRemoteLLM, "c", 0.3)}},
	)
	a := o.Evaluate(context.Background(), testInput("hello"))
	if a.Score != 0.72 {
		t.Errorf("score = %v, want 0.72", a.Score)
	}
	if len(a.Signals) != 3 {
		t.Errorf("got %d signals, want 3", len(a.Signals))
	}
	if top := a.TopSignal(); top == nil || top.RuleID != "b" {
		t.Errorf("top signal = %+v, want rule b", top)
	}
}

func TestWeakSignalsNeverDiluteStrong(t *testing.T) {
	// Many low-confidence signals alongside one strong one: the score must
	// stay at the strong signal's confidence.
	weak := make([]Signal, 10)
	for i := range weak {
		weak[i] = sig(SourceRemoteLLM, "weak_"+string(rune('a'+i)), 0.1)
	}
	o := NewOrchestrator(0,
		&fakeDetector{name: "pattern", priority: 1, signals: []Signal{sig(SourcePattern, "strong", 0.95)}},
		&fakeDetector{name: "remote_llm", priority: 4, signals: weak},
	)
	a := o.Evaluate(context.Background(), testInput("x"))
	if a.Score != 0.95 {
		t.Errorf("score = %v, want 0.95", a.Score)
	}
}

func TestDedupeKeepsHighestConfidence(t *testing.T) {
	o := NewOrchestrator(0,
		&fakeDetector{name: "pattern", priority: 1, signals: []Signal{sig(SourcePattern, "dup", 0.5)}},
		&fakeDetector{name: "local_model", priority: 3, signals: []Signal{sig(SourceLocalModel, "dup", 0.8)}},
	)
	a := o.Evaluate(context.Background(), testInput("x"))
	if len(a.Signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(a.Signals))
	}
	if a.Signals[0].Confidence != 0.8 || a.Signals[0].Source != SourceLocalModel {
		t.Errorf("kept %+v, want the 0.8 local_model instance", a.Signals[0])
	}
}

func TestDetectorFailureIsFailOpen(t *testing.T) {
	o := NewOrchestrator(0,
		&fakeDetector{name: "pattern", priority: 1, signals: []Signal{sig(SourcePattern, "hit", 0.9)}},
		&fakeDetector{name: "remote_llm", priority: 4, err: errors.New("connection refused")},
		&fakeDetector{name: "local_model", priority: 3, err: ErrUnavailable},
	)
	a := o.Evaluate(context.Background(), testInput("x"))
	if a.Score != 0.9 {
		t.Errorf("score = %v, want 0.9 despite failed detectors", a.Score)
	}
	want := []string{"local_model", "remote_llm"}
	if !reflect.DeepEqual(a.Degraded, want) {
		t.Errorf("degraded = %v, want %v", a.Degraded, want)
	}
}

func TestSlowDetectorIsCutOff(t *testing.T) {
	o := NewOrchestrator(0,
		&fakeDetector{name: "pattern", priority: 1, signals: []Signal{sig(SourcePattern, "hit", 0.6)}},
		&fakeDetector{name: "slow", priority: 4, timeout: 20 * time.Millisecond, delay: 5 * time.Second,
			signals: []Signal{sig(SourceRemoteLLM, "late", 0.99)}},
	)
	start := time.Now()
	a := o.Evaluate(context.Background(), testInput("x"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("evaluation took %v, per-detector timeout not enforced", elapsed)
	}
	if a.Score != 0.6 {
		t.Errorf("score = %v, want 0.6 (slow detector excluded)", a.Score)
	}
	if len(a.Degraded) != 1 || a.Degraded[0] != "slow" {
		t.Errorf("degraded = %v, want [slow]", a.Degraded)
	}
}

func TestCallerDeadlineBoundsDetectors(t *testing.T) {
	o := NewOrchestrator(time.Minute,
		&fakeDetector{name: "slow", priority: 1, timeout: time.Minute, delay: 5 * time.Second},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	o.Evaluate(ctx, testInput("x"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("evaluation took %v, caller deadline not honored", elapsed)
	}
}

// stubbornDetector never looks at its context: it sleeps through
// cancellation and reports afterwards, like an inference call that cannot
// be interrupted mid-run.
type stubbornDetector struct {
	name  string
	sleep time.Duration
}

func (s *stubbornDetector) Name() string           { return s.name }
func (s *stubbornDetector) Priority() int          { return 3 }
func (s *stubbornDetector) Timeout() time.Duration { return time.Minute }

func (s *stubbornDetector) Detect(ctx context.Context, in *Input) ([]Signal, error) {
	time.Sleep(s.sleep)
	return []Signal{sig(SourceLocalModel, "late", 0.99)}, nil
}

func TestUncooperativeDetectorCannotStallEvaluation(t *testing.T) {
	o := NewOrchestrator(100*time.Millisecond,
		&fakeDetector{name: "pattern", priority: 1, signals: []Signal{sig(SourcePattern, "hit", 0.9)}},
		&stubbornDetector{name: "local_model", sleep: 2 * time.Second},
	)
	start := time.Now()
	a := o.Evaluate(context.Background(), testInput("x"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("evaluation took %v, deadline not enforced against a detector that ignores cancellation", elapsed)
	}
	if a.Score != 0.9 {
		t.Errorf("score = %v, want 0.9 from the detector that finished", a.Score)
	}
	if len(a.Degraded) != 1 || a.Degraded[0] != "local_model" {
		t.Errorf("degraded = %v, want [local_model]", a.Degraded)
	}
}

func TestSignalOrderIsDeterministic(t *testing.T) {
	// Detectors with staggered delays so completion order varies, plus
	// confidence ties that must break by priority and then rule id.
	mk := func(d1, d2 time.Duration) *Orchestrator {
		return NewOrchestrator(0,
			&fakeDetector{name: "pattern", priority: 1, delay: d1,
				signals: []Signal{sig(SourcePattern, "p_tie", 0.7), sig(SourcePattern, "a_tie", 0.7)}},
			&fakeDetector{name: "remote_llm", priority: 4, delay: d2,
				signals: []Signal{sig(SourceRemoteLLM, "llm_tie", 0.7), sig(SourceRemoteLLM, "z_top", 0.9)}},
		)
	}
	first := mk(10*time.Millisecond, 0).Evaluate(context.Background(), testInput("x"))
	second := mk(0, 10*time.Millisecond).Evaluate(context.Background(), testInput("x"))

	ids := func(a *Assessment) []string {
		out := make([]string, len(a.Signals))
		for i, s := range a.Signals {
			out[i] = s.RuleID
		}
		return out
	}
	want := []string{"z_top", "a_tie", "p_tie", "llm_tie"}
	if got := ids(first); !reflect.DeepEqual(got, want) {
		t.Errorf("first order = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(ids(first), ids(second)) {
		t.Errorf("order depends on completion timing: %v vs %v", ids(first), ids(second))
	}
}
