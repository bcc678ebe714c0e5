// Package guard is the evaluation core: it normalizes a submitted action,
// fans it out to the detectors, turns the fused assessment into a policy
// decision, and feeds the result back into the audit trail, the event
// stream, and the sample corpus.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-ai/rampart/pkg/audit"
	"github.com/praetor-ai/rampart/pkg/corpus"
	"github.com/praetor-ai/rampart/pkg/detect"
	"github.com/praetor-ai/rampart/pkg/events"
	"github.com/praetor-ai/rampart/pkg/normalize"
	"github.com/praetor-ai/rampart/pkg/policy"
)

// ErrInvalidInput marks a request the service refused to evaluate. Callers
// translate it to a 400; everything else is a 500.
var ErrInvalidInput = errors.New("guard: invalid input")

// Action types accepted on evaluation requests.
const (
	ActionMessage        = "message"
	ActionToolCall       = "tool_call"
	ActionFileAccess     = "file_access"
	ActionNetworkRequest = "network_request"
)

// maxPendingBenign bounds how many allow decisions we remember while
// waiting for their completion reports. Oldest entries are evicted first.
const maxPendingBenign = 4096

// Request is one agent action submitted for evaluation. ActionID is the
// caller's correlation key for later outcome reports; one is minted when
// the caller does not supply it.
type Request struct {
	ActionID   string `json:"action_id,omitempty"`
	AgentID    string `json:"agent_id"`
	SessionID  string `json:"session_id,omitempty"`
	ActionType string `json:"action_type"`
	Content    string `json:"content"`
	Tool       string `json:"tool,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Target     string `json:"target,omitempty"`
}

// Evaluation is the verdict returned to the caller. Allowed is true when
// the action may proceed now; warn proceeds, block and a pending
// confirmation do not.
type Evaluation struct {
	ActionID   string          `json:"action_id"`
	DecisionID string          `json:"decision_id"`
	Verdict    policy.Verdict  `json:"verdict"`
	Allowed    bool            `json:"allowed"`
	Score      float64         `json:"score"`
	RuleID     string          `json:"rule_id"`
	Reason     string          `json:"reason,omitempty"`
	Signals    []detect.Signal `json:"signals,omitempty"`
	Ticket     *policy.Ticket  `json:"ticket,omitempty"`
	Degraded   []string        `json:"degraded,omitempty"`
	ElapsedMS  int64           `json:"elapsed_ms"`
}

// Config wires the service. Orchestrator and Engine are required; Audit,
// Events and Recorder may be nil, which disables that feedback path.
type Config struct {
	Orchestrator *detect.Orchestrator
	Engine       *policy.Engine
	Audit        audit.Sink
	Events       *events.Emitter
	Recorder     *corpus.Recorder

	// Corpus admission bounds. Zero values take the corpus defaults.
	AttackFloor   float64
	BenignCeiling float64
}

// Service runs the full evaluate pipeline. It is safe for concurrent use.
type Service struct {
	orch     *detect.Orchestrator
	engine   *policy.Engine
	sink     audit.Sink
	emitter  *events.Emitter
	recorder *corpus.Recorder

	attackFloor   float64
	benignCeiling float64

	mu      sync.Mutex
	pending map[string]corpus.Sample // decision id -> benign candidate
	order   []string                 // FIFO eviction for pending
	actions map[string]string        // action id -> decision id, same bound
	recent  []string                 // FIFO eviction for actions
}

// NewService validates the wiring and returns a ready service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("guard: orchestrator is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("guard: policy engine is required")
	}
	if cfg.AttackFloor == 0 {
		cfg.AttackFloor = corpus.DefaultAttackFloor
	}
	if cfg.BenignCeiling == 0 {
		cfg.BenignCeiling = corpus.DefaultBenignCeiling
	}
	return &Service{
		orch:          cfg.Orchestrator,
		engine:        cfg.Engine,
		sink:          cfg.Audit,
		emitter:       cfg.Events,
		recorder:      cfg.Recorder,
		attackFloor:   cfg.AttackFloor,
		benignCeiling: cfg.BenignCeiling,
		pending:       make(map[string]corpus.Sample),
		actions:       make(map[string]string),
	}, nil
}

func validActionType(t string) bool {
	switch t {
	case ActionMessage, ActionToolCall, ActionFileAccess, ActionNetworkRequest:
		return true
	}
	return false
}

func (s *Service) validate(req *Request) error {
	if req.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidInput)
	}
	if !validActionType(req.ActionType) {
		return fmt.Errorf("%w: unknown action_type %q", ErrInvalidInput, req.ActionType)
	}
	if req.Content == "" && req.Arguments == "" {
		return fmt.Errorf("%w: content or arguments must be set", ErrInvalidInput)
	}
	if req.ActionType == ActionToolCall && req.Tool == "" {
		return fmt.Errorf("%w: tool_call requires tool", ErrInvalidInput)
	}
	return nil
}

// Evaluate runs one action through normalize, detect, and decide, then
// records the decision everywhere it needs to land. Detector degradation
// never fails the call; a failed audit write is logged and surfaces as an
// error only when there is a sink configured and it refuses the write.
func (s *Service) Evaluate(ctx context.Context, req *Request) (*Evaluation, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.ActionID == "" {
		req.ActionID = uuid.NewString()
	}

	norm := normalize.Normalize(req.Content)
	assessment := s.orch.Evaluate(ctx, &detect.Input{
		Norm:      norm,
		AgentID:   req.AgentID,
		Action:    req.ActionType,
		Tool:      req.Tool,
		Arguments: req.Arguments,
	})

	category := ""
	if top := assessment.TopSignal(); top != nil {
		category = string(top.Category)
	}

	decision := s.engine.Decide(ctx, policy.ActionRef{
		AgentID:    req.AgentID,
		ActionType: req.ActionType,
		Target:     req.Target,
	}, assessment.Score, category)

	s.rememberAction(req.ActionID, decision.ID)
	s.record(ctx, req, assessment, decision)
	s.publish(req, assessment, decision)
	s.learn(req, norm, assessment, decision, category)

	return &Evaluation{
		ActionID:   req.ActionID,
		DecisionID: decision.ID,
		Verdict:    decision.Verdict,
		Allowed:    decision.Verdict == policy.VerdictAllow || decision.Verdict == policy.VerdictWarn,
		Score:      decision.Score,
		RuleID:     decision.RuleID,
		Reason:     decision.Reason,
		Signals:    assessment.Signals,
		Ticket:     decision.Ticket,
		Degraded:   assessment.Degraded,
		ElapsedMS:  assessment.Elapsed.Milliseconds(),
	}, nil
}

func (s *Service) record(ctx context.Context, req *Request, a *detect.Assessment, d *policy.Decision) {
	if s.sink == nil {
		return
	}
	entry := audit.Entry{
		Timestamp:  time.Now().UTC(),
		DecisionID: d.ID,
		ActionID:   req.ActionID,
		AgentID:    req.AgentID,
		SessionID:  req.SessionID,
		ActionType: req.ActionType,
		Tool:       req.Tool,
		Target:     req.Target,
		Verdict:    string(d.Verdict),
		Score:      d.Score,
		RuleID:     d.RuleID,
		Reason:     d.Reason,
		Degraded:   a.Degraded,
		Elapsed:    a.Elapsed.Milliseconds(),
	}
	if d.Ticket != nil {
		entry.TicketID = d.Ticket.ID
	}
	if d.Violation != nil {
		entry.ViolationID = d.Violation.ID
		entry.Category = d.Violation.Category
	}
	if err := s.sink.RecordDecision(ctx, entry); err != nil {
		log.Printf("[GUARD] audit write failed for decision %s: %v", d.ID, err)
	}
}

func (s *Service) publish(req *Request, a *detect.Assessment, d *policy.Decision) {
	if s.emitter == nil {
		return
	}
	fields := map[string]string{
		"verdict": string(d.Verdict),
		"score":   strconv.FormatFloat(d.Score, 'f', 2, 64),
	}
	s.emitter.Emit(events.New(events.TypeActivity, req.AgentID, d.ID,
		req.ActionType+" evaluated", fields))

	if top := a.TopSignal(); top != nil {
		s.emitter.Emit(events.New(events.TypeThreat, req.AgentID, d.ID,
			string(top.Category)+" signal from "+string(top.Source), map[string]string{
				"rule_id":    top.RuleID,
				"confidence": strconv.FormatFloat(top.Confidence, 'f', 2, 64),
			}))
	}
	if d.Violation != nil {
		s.emitter.Emit(events.New(events.TypeViolation, req.AgentID, d.ID,
			string(d.Verdict)+" by "+d.RuleID, map[string]string{
				"verdict":      string(d.Verdict),
				"score":        strconv.FormatFloat(d.Score, 'f', 2, 64),
				"violation_id": d.Violation.ID,
				"rule_id":      d.Violation.RuleID,
				"category":     d.Violation.Category,
			}))
	}
}

// learn feeds the corpus. Blocked and held actions become attack samples
// immediately; allowed low-score actions only become benign samples once
// the agent reports success, so a missed attack that fails midway never
// poisons the benign partition.
func (s *Service) learn(req *Request, norm *normalize.Result, a *detect.Assessment, d *policy.Decision, category string) {
	if s.recorder == nil {
		return
	}
	text := norm.Canonical
	if text == "" {
		text = req.Arguments
	}
	if text == "" {
		return
	}

	switch d.Verdict {
	case policy.VerdictBlock, policy.VerdictConfirm:
		if a.Score >= s.attackFloor {
			s.recorder.Record(corpus.NewSample(text, corpus.PartitionAttack, category, d.ID, a.Score))
		}
	case policy.VerdictAllow:
		if a.Score <= s.benignCeiling {
			s.stashPending(d.ID, corpus.NewSample(text, corpus.PartitionBenign, "", d.ID, a.Score))
		}
	}
}

func (s *Service) stashPending(decisionID string, sample corpus.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[decisionID]; ok {
		return
	}
	for len(s.order) >= maxPendingBenign {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.pending, oldest)
	}
	s.pending[decisionID] = sample
	s.order = append(s.order, decisionID)
}

func (s *Service) rememberAction(actionID, decisionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[actionID]; ok {
		return
	}
	for len(s.recent) >= maxPendingBenign {
		oldest := s.recent[0]
		s.recent = s.recent[1:]
		delete(s.actions, oldest)
	}
	s.actions[actionID] = decisionID
	s.recent = append(s.recent, actionID)
}

func (s *Service) lookupAction(actionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decisionID, ok := s.actions[actionID]
	return decisionID, ok
}

func (s *Service) takePending(decisionID string) (corpus.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.pending[decisionID]
	if !ok {
		return corpus.Sample{}, false
	}
	delete(s.pending, decisionID)
	for i, id := range s.order {
		if id == decisionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return sample, true
}

// Report closes out an earlier decision with the agent-observed outcome.
// Reports are keyed by the action id from the evaluation; the decision id
// works too. A success report on a clean allow admits the text to the
// benign corpus.
func (s *Service) Report(ctx context.Context, actionID, decisionID, outcome, detail string) error {
	switch outcome {
	case audit.OutcomeSuccess, audit.OutcomeFailure, audit.OutcomeTimeout:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, outcome)
	}
	if decisionID == "" {
		if actionID == "" {
			return fmt.Errorf("%w: action_id or decision_id is required", ErrInvalidInput)
		}
		resolved, ok := s.lookupAction(actionID)
		if !ok {
			return fmt.Errorf("%w: unknown action_id %q", ErrInvalidInput, actionID)
		}
		decisionID = resolved
	}

	if sample, ok := s.takePending(decisionID); ok {
		if outcome == audit.OutcomeSuccess && s.recorder != nil {
			s.recorder.Record(sample)
		}
	}

	if s.sink != nil {
		if err := s.sink.RecordOutcome(ctx, decisionID, outcome, detail); err != nil {
			return fmt.Errorf("guard: record outcome: %w", err)
		}
	}
	return nil
}

// Ticket looks up a confirmation ticket by id.
func (s *Service) Ticket(ctx context.Context, id string) (*policy.Ticket, error) {
	store := s.engine.Tickets()
	if store == nil {
		return nil, policy.ErrTicketNotFound
	}
	return store.Get(ctx, id)
}

// Confirm resolves a confirmation ticket. Tickets are single use; a second
// resolution attempt fails with ErrTicketResolved regardless of direction.
func (s *Service) Confirm(ctx context.Context, id string, approve bool) (*policy.Ticket, error) {
	store := s.engine.Tickets()
	if store == nil {
		return nil, policy.ErrTicketNotFound
	}
	t, err := store.Resolve(ctx, id, approve)
	if err != nil {
		return nil, err
	}
	if s.emitter != nil {
		s.emitter.Emit(events.New(events.TypeActivity, t.AgentID, "",
			"ticket "+string(t.Status), map[string]string{"ticket_id": t.ID}))
	}
	return t, nil
}

// ViolationCounts exposes the engine's per-rule counters.
func (s *Service) ViolationCounts() map[string]uint64 {
	return s.engine.ViolationCounts()
}
