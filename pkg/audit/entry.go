// Package audit persists every decision the gateway makes. Two backends
// exist: an append-only hash-chained JSONL file that needs nothing but a
// disk, and Postgres for deployments that want to query decisions. Writes
// happen after the decision is already answered; an audit failure is logged
// loudly but never rolls back an enforcement outcome.
package audit

import (
	"context"
	"time"
)

// Outcome is the agent-reported end state of an allowed action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Entry is one decision record. Field order is fixed; the JSONL backend
// hashes marshaled lines, so no maps.
type Entry struct {
	Timestamp   time.Time `json:"ts"`
	DecisionID  string    `json:"decision_id"`
	ActionID    string    `json:"action_id"`
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ActionType  string    `json:"action_type"`
	Tool        string    `json:"tool,omitempty"`
	Target      string    `json:"target,omitempty"`
	Verdict     string    `json:"verdict"`
	Score       float64   `json:"score"`
	RuleID      string    `json:"rule_id"`
	Reason      string    `json:"reason,omitempty"`
	TicketID    string    `json:"ticket_id,omitempty"`
	ViolationID string    `json:"violation_id,omitempty"`
	Category    string    `json:"category,omitempty"`
	Degraded    []string  `json:"degraded,omitempty"`
	Elapsed     int64     `json:"elapsed_ms"`
	PrevHash    string    `json:"prev_hash,omitempty"`
}

// Sink persists decision records and the later outcome reports that close
// them out.
type Sink interface {
	RecordDecision(ctx context.Context, e Entry) error
	RecordOutcome(ctx context.Context, decisionID, outcome, detail string) error
	Close() error
}
