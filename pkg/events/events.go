// Package events publishes what the firewall observed to operator-facing
// sinks. Emission is fire-and-forget through a bounded queue: a slow sink
// costs events, never request latency.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event stream.
type Type string

const (
	TypeActivity  Type = "activity"         // an action was evaluated
	TypeThreat    Type = "threat"           // a detector found something
	TypeViolation Type = "policy_violation" // a decision other than allow
	TypeMetric    Type = "metric"           // periodic counters
)

// Event is one emission. Fields carries type-specific details as flat
// strings so every sink can serialize it without knowing the type.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Timestamp  time.Time         `json:"ts"`
	AgentID    string            `json:"agent_id,omitempty"`
	DecisionID string            `json:"decision_id,omitempty"`
	Summary    string            `json:"summary"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// New stamps identity and time on an event.
func New(t Type, agentID, decisionID, summary string, fields map[string]string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       t,
		Timestamp:  time.Now().UTC(),
		AgentID:    agentID,
		DecisionID: decisionID,
		Summary:    summary,
		Fields:     fields,
	}
}
