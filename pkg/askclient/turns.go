package askclient

import (
	"context"
	"sync"
)

// turn is one in-flight logical question/answer turn for a thread.
type turn struct {
	corrID string
	cancel context.CancelFunc
}

// turnRegistry enforces single-turn-per-thread ownership. Each thread keys
// its own entry, so two threads never contend over the same turn.
type turnRegistry struct {
	mu     sync.Mutex
	active map[string]turn
}

func newTurnRegistry() *turnRegistry {
	return &turnRegistry{
		active: make(map[string]turn),
	}
}

// begin registers a new turn for the thread, cancelling any predecessor
// still in flight so two turns never interleave into one transcript.
func (r *turnRegistry) begin(threadID, corrID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.active[threadID]; ok {
		prev.cancel()
	}
	r.active[threadID] = turn{corrID: corrID, cancel: cancel}
}

// end clears the thread's entry, but only if it still belongs to the given
// turn; a successor that already took the slot is left alone.
func (r *turnRegistry) end(threadID, corrID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.active[threadID]; ok && cur.corrID == corrID {
		delete(r.active, threadID)
	}
}

// cancel aborts the thread's current turn. No-op for unknown threads;
// cancelling twice is a no-op because context cancel funcs are idempotent.
func (r *turnRegistry) cancel(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.active[threadID]; ok {
		cur.cancel()
	}
}
