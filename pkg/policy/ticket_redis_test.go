package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) (*RedisTicketStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisTicketStore(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisTicketRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	tk := NewTicket("agent-1", "tool_call", "prod-db", "hold_prod", "needs sign-off", 0.6, time.Minute)
	if err := store.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TicketAwaiting || got.AgentID != "agent-1" || got.Score != 0.6 {
		t.Errorf("got %+v", got)
	}
}

func TestRedisTicketSingleUse(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	tk := NewTicket("agent-1", "tool_call", "", "r", "", 0.5, time.Minute)
	if err := store.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}

	resolved, err := store.Resolve(ctx, tk.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != TicketApproved {
		t.Errorf("status = %s", resolved.Status)
	}
	if _, err := store.Resolve(ctx, tk.ID, false); !errors.Is(err, ErrTicketResolved) {
		t.Errorf("second resolve err = %v, want ErrTicketResolved", err)
	}

	// Resolution persists for later reads.
	got, err := store.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TicketApproved {
		t.Errorf("status after re-read = %s", got.Status)
	}
}

func TestRedisTicketLazyExpiry(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	tk := NewTicket("agent-1", "tool_call", "", "r", "", 0.5, -time.Second)
	if err := store.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TicketExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if _, err := store.Resolve(ctx, tk.ID, true); !errors.Is(err, ErrTicketExpired) {
		t.Errorf("resolve err = %v, want ErrTicketExpired", err)
	}
}

func TestRedisTicketKeyTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	tk := NewTicket("agent-1", "tool_call", "", "r", "", 0.5, time.Minute)
	if err := store.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}

	// Past the ticket lifetime plus retention the key is gone without any
	// sweeper process.
	mr.FastForward(time.Minute + ticketRetention + time.Second)
	if _, err := store.Get(ctx, tk.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("err = %v, want ErrTicketNotFound after TTL", err)
	}
}

func TestRedisTicketNotFound(t *testing.T) {
	store, _ := newRedisStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("err = %v", err)
	}
}
