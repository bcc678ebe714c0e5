package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustRules(t *testing.T, rules []Rule) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(rules)
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func TestThresholdFallback(t *testing.T) {
	e := NewEngine(nil, NewMemoryTicketStore(), EngineConfig{})
	defer e.Tickets().Close()

	tests := []struct {
		name    string
		score   float64
		verdict Verdict
		ruleID  string
	}{
		{"clean", 0.0, VerdictAllow, "threshold.allow"},
		{"below warn", 0.29, VerdictAllow, "threshold.allow"},
		{"at warn", 0.30, VerdictWarn, "threshold.warn"},
		{"below block", 0.69, VerdictWarn, "threshold.warn"},
		{"at block", 0.70, VerdictBlock, "threshold.block"},
		{"max", 1.0, VerdictBlock, "threshold.block"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, tc.score, "")
			if d.Verdict != tc.verdict || d.RuleID != tc.ruleID {
				t.Errorf("score %v -> %s/%s, want %s/%s", tc.score, d.Verdict, d.RuleID, tc.verdict, tc.ruleID)
			}
		})
	}
}

func TestFirstMatchByPriority(t *testing.T) {
	rs := mustRules(t, []Rule{
		{ID: "late_block", Action: VerdictBlock, Priority: 50},
		{ID: "early_allow", Action: VerdictAllow, Priority: 10, MaxScore: 0.9},
	})
	e := NewEngine(rs, nil, EngineConfig{})

	d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, 0.8, "")
	if d.RuleID != "early_allow" || d.Verdict != VerdictAllow {
		t.Errorf("got %s/%s, want early_allow/allow", d.RuleID, d.Verdict)
	}

	// Outside the early rule's score band the later rule takes over.
	d = e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, 0.95, "")
	if d.RuleID != "late_block" {
		t.Errorf("got %s, want late_block", d.RuleID)
	}
}

func TestAgentScopedRules(t *testing.T) {
	rs := mustRules(t, []Rule{
		{ID: "trusted_bot", AgentID: "reporting-bot", Action: VerdictAllow, Priority: 1},
	})
	e := NewEngine(rs, nil, EngineConfig{})

	d := e.Decide(context.Background(), ActionRef{AgentID: "reporting-bot", ActionType: "message"}, 0.5, "")
	if d.RuleID != "trusted_bot" {
		t.Errorf("agent rule not applied: %s", d.RuleID)
	}
	// Another agent falls through to thresholds.
	d = e.Decide(context.Background(), ActionRef{AgentID: "other", ActionType: "message"}, 0.5, "")
	if d.RuleID != "threshold.warn" {
		t.Errorf("rule leaked across agents: %s", d.RuleID)
	}
}

func TestTargetPatternMatching(t *testing.T) {
	rs := mustRules(t, []Rule{
		{ID: "prod_guard", ActionType: "tool_call", TargetPattern: "*prod*", Action: VerdictBlock, Priority: 1},
	})
	e := NewEngine(rs, nil, EngineConfig{})

	tests := []struct {
		target string
		rule   string
	}{
		{"db-prod-eu1", "prod_guard"},
		{"PROD-main", "prod_guard"},
		{"staging-db", "threshold.allow"},
	}
	for _, tc := range tests {
		d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "tool_call", Target: tc.target}, 0.1, "")
		if d.RuleID != tc.rule {
			t.Errorf("target %q -> %s, want %s", tc.target, d.RuleID, tc.rule)
		}
	}
}

func TestConfirmDecisionMintsTicket(t *testing.T) {
	rs := mustRules(t, []Rule{
		{ID: "hold_prod", TargetPattern: "*prod*", Action: VerdictConfirm, Priority: 1},
	})
	store := NewMemoryTicketStore()
	defer store.Close()
	e := NewEngine(rs, store, EngineConfig{TicketTTL: time.Minute})

	d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "tool_call", Target: "prod-db"}, 0.5, "code_injection")
	if d.Verdict != VerdictConfirm {
		t.Fatalf("verdict = %s", d.Verdict)
	}
	if d.Ticket == nil {
		t.Fatal("no ticket minted")
	}
	got, err := store.Get(context.Background(), d.Ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TicketAwaiting || got.RuleID != "hold_prod" {
		t.Errorf("stored ticket = %+v", got)
	}
}

type failingTicketStore struct{}

func (failingTicketStore) Create(context.Context, *Ticket) error { return errors.New("store down") }
func (failingTicketStore) Get(context.Context, string) (*Ticket, error) {
	return nil, ErrTicketNotFound
}
func (failingTicketStore) Resolve(context.Context, string, bool) (*Ticket, error) {
	return nil, ErrTicketNotFound
}
func (failingTicketStore) Close() error { return nil }

func TestTicketStoreFailureBlocks(t *testing.T) {
	rs := mustRules(t, []Rule{
		{ID: "hold_all", Action: VerdictConfirm, Priority: 1},
	})
	e := NewEngine(rs, failingTicketStore{}, EngineConfig{})
	d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, 0.5, "")
	if d.Verdict != VerdictBlock {
		t.Errorf("verdict = %s, want block when ticket store fails", d.Verdict)
	}
	if d.Ticket != nil {
		t.Error("ticket present despite store failure")
	}
}

func TestViolationRecording(t *testing.T) {
	e := NewEngine(nil, nil, EngineConfig{})

	d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message", Target: "x"}, 0.9, "jailbreak")
	if d.Violation == nil {
		t.Fatal("block decision produced no violation")
	}
	if d.Violation.Category != "jailbreak" || d.Violation.Verdict != VerdictBlock {
		t.Errorf("violation = %+v", d.Violation)
	}

	if d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, 0.0, ""); d.Violation != nil {
		t.Error("allow decision produced a violation")
	}

	e.Decide(context.Background(), ActionRef{AgentID: "b", ActionType: "message"}, 0.9, "jailbreak")
	counts := e.ViolationCounts()
	if counts["threshold.block"] != 2 {
		t.Errorf("threshold.block count = %d, want 2", counts["threshold.block"])
	}
}

func TestRuleSetValidation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"missing id", []Rule{{Action: VerdictAllow}}},
		{"bad action", []Rule{{ID: "r", Action: "maybe"}}},
		{"inverted band", []Rule{{ID: "r", Action: VerdictAllow, MinScore: 0.8, MaxScore: 0.2}}},
		{"duplicate id", []Rule{{ID: "r", Action: VerdictAllow}, {ID: "r", Action: VerdictBlock}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRuleSet(tc.rules); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestReplaceRules(t *testing.T) {
	e := NewEngine(nil, nil, EngineConfig{})
	d := e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, 0.1, "")
	if d.RuleID != "threshold.allow" {
		t.Fatalf("unexpected rule %s", d.RuleID)
	}

	e.ReplaceRules(mustRules(t, []Rule{
		{ID: "lockdown", Action: VerdictBlock, Priority: 1},
	}))
	d = e.Decide(context.Background(), ActionRef{AgentID: "a", ActionType: "message"}, 0.1, "")
	if d.RuleID != "lockdown" {
		t.Errorf("reloaded rules not in effect: %s", d.RuleID)
	}
}
