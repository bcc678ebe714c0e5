package policy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Threshold defaults used when no rule matches.
const (
	DefaultBlockThreshold = 0.70
	DefaultWarnThreshold  = 0.30
	DefaultTicketTTL      = 5 * time.Minute
)

// ActionRef identifies the action being judged.
type ActionRef struct {
	AgentID    string
	ActionType string
	Target     string
}

// Violation records one non-allow decision for auditing and per-rule
// accounting.
type Violation struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	RuleID     string    `json:"rule_id"`
	ActionType string    `json:"action_type"`
	Target     string    `json:"target,omitempty"`
	Category   string    `json:"category,omitempty"`
	Score      float64   `json:"score"`
	Verdict    Verdict   `json:"verdict"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decision is the engine's final answer for one action.
type Decision struct {
	ID        string     `json:"id"`
	Verdict   Verdict    `json:"verdict"`
	Score     float64    `json:"score"`
	RuleID    string     `json:"rule_id"`
	Reason    string     `json:"reason"`
	Ticket    *Ticket    `json:"ticket,omitempty"`
	Violation *Violation `json:"-"`
}

// EngineConfig tunes the threshold fallback and ticket lifetime. Zero
// values take the defaults.
type EngineConfig struct {
	BlockThreshold float64
	WarnThreshold  float64
	TicketTTL      time.Duration
}

// Engine evaluates rules first, thresholds second. The rule set swaps
// atomically under a lock so a policy reload never tears a decision.
type Engine struct {
	mu      sync.RWMutex
	rules   *RuleSet
	blockAt float64
	warnAt  float64

	tickets   TicketStore
	ticketTTL time.Duration

	counterMu  sync.Mutex
	violations map[string]uint64
}

// NewEngine builds the engine. rules may be empty; tickets must be set when
// any rule uses require_confirmation.
func NewEngine(rules *RuleSet, tickets TicketStore, cfg EngineConfig) *Engine {
	if rules == nil {
		rules = &RuleSet{}
	}
	if cfg.BlockThreshold == 0 {
		cfg.BlockThreshold = DefaultBlockThreshold
	}
	if cfg.WarnThreshold == 0 {
		cfg.WarnThreshold = DefaultWarnThreshold
	}
	if cfg.TicketTTL == 0 {
		cfg.TicketTTL = DefaultTicketTTL
	}
	return &Engine{
		rules:      rules,
		blockAt:    cfg.BlockThreshold,
		warnAt:     cfg.WarnThreshold,
		tickets:    tickets,
		ticketTTL:  cfg.TicketTTL,
		violations: make(map[string]uint64),
	}
}

// ReplaceRules swaps the active rule set. In-flight decisions finish on the
// set they started with.
func (e *Engine) ReplaceRules(rules *RuleSet) {
	e.mu.Lock()
	old := e.rules
	e.rules = rules
	e.mu.Unlock()
	log.Printf("[POLICY] rules reloaded: %d -> %d", old.Len(), rules.Len())
}

// Tickets exposes the ticket store for the confirmation endpoint.
func (e *Engine) Tickets() TicketStore { return e.tickets }

// Decide maps a fused risk score onto a verdict. Rule order is priority
// ascending with first match winning; the threshold ladder is the fallback.
// Category names the strongest signal's threat class for violation records.
func (e *Engine) Decide(ctx context.Context, action ActionRef, score float64, category string) *Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	d := &Decision{ID: uuid.NewString(), Score: score}
	if r := rules.Match(action.AgentID, action.ActionType, action.Target, score); r != nil {
		d.Verdict = r.Action
		d.RuleID = r.ID
		d.Reason = r.Reason
	} else {
		switch {
		case score >= e.blockAt:
			d.Verdict = VerdictBlock
			d.RuleID = "threshold.block"
		case score >= e.warnAt:
			d.Verdict = VerdictWarn
			d.RuleID = "threshold.warn"
		default:
			d.Verdict = VerdictAllow
			d.RuleID = "threshold.allow"
		}
	}

	if d.Verdict == VerdictConfirm {
		e.mintTicket(ctx, action, d)
	}
	if d.Verdict != VerdictAllow {
		d.Violation = e.recordViolation(action, d, category)
	}
	return d
}

// mintTicket creates the confirmation ticket backing a hold decision. A
// ticket store failure degrades the decision to block: an action we cannot
// hold for confirmation must not slip through as allowed.
func (e *Engine) mintTicket(ctx context.Context, action ActionRef, d *Decision) {
	if e.tickets == nil {
		log.Printf("[POLICY] no ticket store configured, blocking instead of holding")
		d.Verdict = VerdictBlock
		return
	}
	t := NewTicket(action.AgentID, action.ActionType, action.Target, d.RuleID, d.Reason, d.Score, e.ticketTTL)
	if err := e.tickets.Create(ctx, t); err != nil {
		log.Printf("[POLICY] ticket create failed, blocking instead of holding: %v", err)
		d.Verdict = VerdictBlock
		return
	}
	d.Ticket = t
}

func (e *Engine) recordViolation(action ActionRef, d *Decision, category string) *Violation {
	e.counterMu.Lock()
	e.violations[d.RuleID]++
	e.counterMu.Unlock()

	return &Violation{
		ID:         uuid.NewString(),
		AgentID:    action.AgentID,
		RuleID:     d.RuleID,
		ActionType: action.ActionType,
		Target:     action.Target,
		Category:   category,
		Score:      d.Score,
		Verdict:    d.Verdict,
		Timestamp:  time.Now().UTC(),
	}
}

// ViolationCounts snapshots per-rule violation counters since startup.
func (e *Engine) ViolationCounts() map[string]uint64 {
	e.counterMu.Lock()
	defer e.counterMu.Unlock()
	out := make(map[string]uint64, len(e.violations))
	for k, v := range e.violations {
		out[k] = v
	}
	return out
}
