package corpus

import (
	"context"
	"log"
	"time"

	"github.com/praetor-ai/rampart/pkg/httputil"
)

// recorderCapacity bounds in-flight corpus writes. Writes beyond it are
// dropped, never queued: the corpus is advisory and must not build
// backpressure into the request path.
const recorderCapacity = 32

// recordTimeout bounds one background write, embedding call included.
const recordTimeout = 10 * time.Second

// Recorder performs fire-and-forget corpus writes.
type Recorder struct {
	store *Store
	sem   *httputil.Semaphore
}

// NewRecorder wraps a store for asynchronous feeding.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store: store,
		sem:   httputil.NewSemaphore(recorderCapacity),
	}
}

// Record offers a sample in the background. Returns false when the write was
// shed due to saturation. The caller's context is not used: the evaluation
// that produced the sample is already answered.
func (r *Recorder) Record(sample Sample) bool {
	if !r.sem.TryAcquire() {
		return false
	}
	go func() {
		defer r.sem.Release()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if _, err := r.store.Observe(ctx, sample); err != nil {
			log.Printf("[CORPUS] background write failed: %v", err)
		}
	}()
	return true
}

// Dropped reports how many samples were shed since startup.
func (r *Recorder) Dropped() int64 {
	return r.sem.DroppedCount()
}
