// Package hubtesting holds test doubles shared by the transport and hub
// tests: a scripted Apple MIDI peer, an OSC capture client, and a recorder
// for asynchronous callback deliveries. Production code must not import it.
package hubtesting

import (
	"sync"
	"testing"
	"time"
)

// Recorder collects values delivered from another goroutine so tests can
// wait for them without sprinkling sleeps.
type Recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

// Add appends one delivery. Safe from any goroutine.
func (r *Recorder[T]) Add(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
}

// Len reports how many deliveries arrived so far.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// All copies the deliveries in arrival order.
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

// WaitLen blocks until at least n deliveries arrived, failing the test after
// the deadline.
func (r *Recorder[T]) WaitLen(t *testing.T, n int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		if r.Len() >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorder: wanted %d deliveries, have %d after %v", n, r.Len(), within)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
