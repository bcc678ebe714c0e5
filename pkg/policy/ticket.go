package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of a confirmation ticket. Tickets are
// single-use: once resolved or expired they never change state again.
type TicketStatus string

const (
	TicketAwaiting TicketStatus = "awaiting_confirmation"
	TicketApproved TicketStatus = "approved"
	TicketRejected TicketStatus = "rejected"
	TicketExpired  TicketStatus = "expired"
)

// Sentinel errors for ticket resolution.
var (
	ErrTicketNotFound = errors.New("policy: ticket not found")
	ErrTicketResolved = errors.New("policy: ticket already resolved")
	ErrTicketExpired  = errors.New("policy: ticket expired")
)

// Ticket is a pending human confirmation for one held action.
type Ticket struct {
	ID         string       `json:"id"`
	AgentID    string       `json:"agent_id"`
	ActionType string       `json:"action_type"`
	Target     string       `json:"target,omitempty"`
	Score      float64      `json:"score"`
	RuleID     string       `json:"rule_id,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Status     TicketStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// NewTicket mints an awaiting ticket with the given lifetime.
func NewTicket(agentID, actionType, target, ruleID, reason string, score float64, ttl time.Duration) *Ticket {
	now := time.Now().UTC()
	return &Ticket{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		ActionType: actionType,
		Target:     target,
		Score:      score,
		RuleID:     ruleID,
		Reason:     reason,
		Status:     TicketAwaiting,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// TicketStore persists confirmation tickets.
//
// Get reports expiry lazily: an awaiting ticket read past its deadline comes
// back with status expired. Resolve is single-use; resolving a ticket that
// is already approved, rejected, or expired fails with ErrTicketResolved or
// ErrTicketExpired.
type TicketStore interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	Resolve(ctx context.Context, id string, approve bool) (*Ticket, error)
	Close() error
}

// MemoryTicketStore keeps tickets in process memory. Expired tickets are
// reaped by a janitor so an abandoned agent cannot grow the map forever;
// reads between deadline and reap still see the ticket as expired.
type MemoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	stop    chan struct{}
	stopped sync.Once
}

// janitorInterval is how often the reaper sweeps expired tickets.
const janitorInterval = time.Minute

// ticketRetention keeps resolved and expired tickets readable for a grace
// window before the janitor drops them.
const ticketRetention = time.Hour

// NewMemoryTicketStore starts the store and its janitor.
func NewMemoryTicketStore() *MemoryTicketStore {
	s := &MemoryTicketStore{
		tickets: make(map[string]*Ticket),
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryTicketStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now().UTC())
		}
	}
}

func (s *MemoryTicketStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tickets {
		if now.After(t.ExpiresAt.Add(ticketRetention)) {
			delete(s.tickets, id)
		}
	}
}

func (s *MemoryTicketStore) Create(ctx context.Context, t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *MemoryTicketStore) Get(ctx context.Context, id string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	expireLocked(t, time.Now().UTC())
	cp := *t
	return &cp, nil
}

func (s *MemoryTicketStore) Resolve(ctx context.Context, id string, approve bool) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	expireLocked(t, time.Now().UTC())
	switch t.Status {
	case TicketAwaiting:
	case TicketExpired:
		return nil, ErrTicketExpired
	default:
		return nil, ErrTicketResolved
	}

	now := time.Now().UTC()
	t.ResolvedAt = &now
	if approve {
		t.Status = TicketApproved
	} else {
		t.Status = TicketRejected
	}
	cp := *t
	return &cp, nil
}

// Close stops the janitor.
func (s *MemoryTicketStore) Close() error {
	s.stopped.Do(func() { close(s.stop) })
	return nil
}

// expireLocked flips an awaiting ticket past its deadline to expired.
func expireLocked(t *Ticket, now time.Time) {
	if t.Status == TicketAwaiting && now.After(t.ExpiresAt) {
		t.Status = TicketExpired
		resolved := t.ExpiresAt
		t.ResolvedAt = &resolved
	}
}
