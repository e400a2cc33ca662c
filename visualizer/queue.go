package visualizer

import "sync/atomic"

// queueSlots matches the command queue depth the strip firmware runs with.
const queueSlots = 32

// Queue hands commands from the OSC receiver goroutine to the animation
// goroutine. Single producer, single consumer; TryPush never blocks and a
// full queue rejects the command rather than stalling the network side.
type Queue struct {
	slots [queueSlots]Command
	head  atomic.Uint32 // consumer cursor
	tail  atomic.Uint32 // producer cursor
}

// TryPush enqueues c, reporting false when the queue is full.
func (q *Queue) TryPush(c Command) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == queueSlots {
		return false
	}
	q.slots[tail%queueSlots] = c
	q.tail.Store(tail + 1)
	return true
}

// TryPop dequeues the oldest command, reporting false when empty.
func (q *Queue) TryPop() (Command, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return Command{}, false
	}
	c := q.slots[head%queueSlots]
	q.head.Store(head + 1)
	return c, true
}

// Len reports how many commands are queued.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}
