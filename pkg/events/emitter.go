package events

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sink consumes events. Deliver is called from emitter workers, never from
// the request path.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *Event) error
	Close() error
}

// Counters tracks emitter throughput per sink.
type Counters struct {
	Enqueued uint64
	Dropped  uint64
	Success  map[string]uint64
	Failure  map[string]uint64
}

// Config sizes the emitter. Zero values take defaults.
type Config struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
}

// Emitter fans events out to sinks through a bounded queue. Emit never
// blocks: when the queue is full the event is counted as dropped.
type Emitter struct {
	queue           chan *Event
	sinks           []Sink
	shutdownTimeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	countMu  sync.Mutex
	counters Counters
}

// NewEmitter starts the delivery workers.
func NewEmitter(cfg Config, sinks ...Sink) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	e := &Emitter{
		queue:           make(chan *Event, cfg.QueueSize),
		sinks:           sinks,
		shutdownTimeout: cfg.ShutdownTimeout,
		counters: Counters{
			Success: make(map[string]uint64, len(sinks)),
			Failure: make(map[string]uint64, len(sinks)),
		},
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Emit enqueues without blocking.
func (e *Emitter) Emit(ev *Event) {
	if e == nil || ev == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.count(func(c *Counters) { c.Dropped++ })
		return
	}
	select {
	case e.queue <- ev:
		e.mu.Unlock()
		e.count(func(c *Counters) { c.Enqueued++ })
	default:
		e.mu.Unlock()
		e.count(func(c *Counters) { c.Dropped++ })
	}
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		for _, s := range e.sinks {
			if err := s.Deliver(context.Background(), ev); err != nil {
				log.Printf("[EVENTS] sink %s failed: %v", s.Name(), err)
				e.count(func(c *Counters) { c.Failure[s.Name()]++ })
				continue
			}
			e.count(func(c *Counters) { c.Success[s.Name()]++ })
		}
	}
}

// Close stops intake, waits briefly for the queue to drain, then closes the
// sinks.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.shutdownTimeout):
	}

	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			log.Printf("[EVENTS] sink %s close: %v", s.Name(), err)
		}
	}
}

// Snapshot copies the counters.
func (e *Emitter) Snapshot() Counters {
	e.countMu.Lock()
	defer e.countMu.Unlock()
	out := Counters{
		Enqueued: e.counters.Enqueued,
		Dropped:  e.counters.Dropped,
		Success:  make(map[string]uint64, len(e.counters.Success)),
		Failure:  make(map[string]uint64, len(e.counters.Failure)),
	}
	for k, v := range e.counters.Success {
		out.Success[k] = v
	}
	for k, v := range e.counters.Failure {
		out.Failure[k] = v
	}
	return out
}

func (e *Emitter) count(f func(*Counters)) {
	e.countMu.Lock()
	f(&e.counters)
	e.countMu.Unlock()
}
