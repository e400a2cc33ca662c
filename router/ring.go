// Package router fans one inbound event stream out to the RTP-MIDI and OSC
// consumers. The ring is bounded; a consumer that falls a full lap behind
// loses its oldest entries (counted) without ever stalling the producer or
// the other consumer.
package router

import "sync/atomic"

type Consumer int

const (
	ConsumerRTP Consumer = iota
	ConsumerOSC
	NumConsumers
)

func (c Consumer) String() string {
	switch c {
	case ConsumerRTP:
		return "rtp"
	case ConsumerOSC:
		return "osc"
	default:
		return "unknown"
	}
}

// slot carries a per-lap stamp so a reader can tell whether the value it
// loaded belongs to the lap its cursor expects. The producer zeroes the
// stamp before replacing val and restores it after, so a reader that sees
// the same live stamp on both sides of its load cannot have raced the
// overwrite. Values are pointer-boxed; a published value is never mutated.
type slot[T any] struct {
	stamp atomic.Uint64 // publish index + 1 of the value held; 0 while being replaced
	val   atomic.Pointer[T]
}

// Ring is a bounded single-producer broadcast ring. Each consumer owns a
// private cursor; Publish never blocks and never fails. Only one goroutine
// may call Publish and only one goroutine may consume per cursor.
type Ring[T any] struct {
	slots []slot[T]
	mask  uint64
	head  atomic.Uint64 // next publish index

	cursors [NumConsumers]atomic.Uint64
	drops   [NumConsumers]atomic.Uint64
	wake    [NumConsumers]chan struct{}
}

// NewRing rounds capacity up to a power of two.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	r := &Ring[T]{
		slots: make([]slot[T], size),
		mask:  uint64(size - 1),
	}
	for i := range r.wake {
		r.wake[i] = make(chan struct{}, 1)
	}
	return r
}

func (r *Ring[T]) Cap() int { return len(r.slots) }

// Publish appends v, overwriting the oldest entry when full. Single
// producer only.
func (r *Ring[T]) Publish(v T) {
	head := r.head.Load()
	s := &r.slots[head&r.mask]
	s.stamp.Store(0)
	s.val.Store(&v)
	s.stamp.Store(head + 1)
	r.head.Store(head + 1)
	for i := range r.wake {
		select {
		case r.wake[i] <- struct{}{}:
		default:
		}
	}
}

// TryNext returns the next unread entry for c, or ok=false when the consumer
// has caught up. A consumer that was lapped first jumps its cursor past the
// overwritten span, counting the skipped entries as drops.
func (r *Ring[T]) TryNext(c Consumer) (v T, ok bool) {
	for {
		cur := r.cursors[c].Load()
		head := r.head.Load()
		if cur == head {
			return v, false
		}
		if head-cur > uint64(len(r.slots)) {
			// Lapped: everything older than head-cap is gone.
			oldest := head - uint64(len(r.slots))
			r.drops[c].Add(oldest - cur)
			r.cursors[c].Store(oldest)
			continue
		}
		s := &r.slots[cur&r.mask]
		if s.stamp.Load() != cur+1 {
			// Producer is mid-overwrite on this slot; it is effectively gone.
			r.drops[c].Add(1)
			r.cursors[c].Store(cur + 1)
			continue
		}
		p := s.val.Load()
		if s.stamp.Load() != cur+1 {
			// Overwritten while loading; the pointer may be the wrong lap.
			r.drops[c].Add(1)
			r.cursors[c].Store(cur + 1)
			continue
		}
		r.cursors[c].Store(cur + 1)
		return *p, true
	}
}

// Wake returns a channel that receives a token after each Publish, so
// consumer loops can select on it instead of spinning. The channel holds at
// most one pending token; drain TryNext until empty after each wake.
func (r *Ring[T]) Wake(c Consumer) <-chan struct{} {
	return r.wake[c]
}

// Drops reports how many entries consumer c has lost to overwrite.
func (r *Ring[T]) Drops(c Consumer) uint64 {
	return r.drops[c].Load()
}

// Pending reports how many entries consumer c has yet to read.
func (r *Ring[T]) Pending(c Consumer) uint64 {
	head := r.head.Load()
	cur := r.cursors[c].Load()
	if head < cur {
		return 0
	}
	return head - cur
}
