package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// captureSink collects delivered events in memory.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	fail   bool
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(ctx context.Context, ev *Event) error {
	if c.fail {
		return errors.New("sink down")
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEmitDelivers(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(Config{}, sink)

	e.Emit(New(TypeThreat, "agent-1", "d-1", "instruction override detected", map[string]string{"rule": "override_ignore_previous"}))
	e.Emit(New(TypeViolation, "agent-1", "d-1", "blocked", nil))
	e.Close()

	if got := sink.count(); got != 2 {
		t.Errorf("delivered %d events, want 2", got)
	}
	c := e.Snapshot()
	if c.Enqueued != 2 || c.Success["capture"] != 2 {
		t.Errorf("counters = %+v", c)
	}
}

func TestFullQueueDropsNotBlocks(t *testing.T) {
	// No workers draining: fill the queue and verify Emit returns.
	sink := &captureSink{}
	e := &Emitter{
		queue:           make(chan *Event, 1),
		sinks:           []Sink{sink},
		shutdownTimeout: time.Second,
		counters:        Counters{Success: map[string]uint64{}, Failure: map[string]uint64{}},
	}

	done := make(chan struct{})
	go func() {
		e.Emit(New(TypeActivity, "a", "", "one", nil))
		e.Emit(New(TypeActivity, "a", "", "two", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	c := e.Snapshot()
	if c.Enqueued != 1 || c.Dropped != 1 {
		t.Errorf("counters = %+v, want 1 enqueued / 1 dropped", c)
	}
}

func TestSinkFailureIsCounted(t *testing.T) {
	sink := &captureSink{fail: true}
	e := NewEmitter(Config{}, sink)
	e.Emit(New(TypeMetric, "", "", "tick", nil))
	e.Close()

	if c := e.Snapshot(); c.Failure["capture"] != 1 {
		t.Errorf("failure count = %d, want 1", c.Failure["capture"])
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	e := NewEmitter(Config{}, &captureSink{})
	e.Close()
	e.Emit(New(TypeActivity, "a", "", "late", nil))
	if c := e.Snapshot(); c.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", c.Dropped)
	}
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	e := NewEmitter(Config{}, sink)
	e.Emit(New(TypeThreat, "agent-1", "d-9", "jailbreak attempt", nil))
	e.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d unparsable: %v", lines+1, err)
		}
		if ev.Type != TypeThreat || ev.AgentID != "agent-1" {
			t.Errorf("event = %+v", ev)
		}
		lines++
	}
	if lines != 1 {
		t.Errorf("wrote %d lines, want 1", lines)
	}
}
