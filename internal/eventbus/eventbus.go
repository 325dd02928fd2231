// Package eventbus is a bounded, multi-producer single-consumer queue of
// domain.Event values. Producers never block: once the queue is full, the
// oldest pending event is dropped to make room for the newest one, so the
// consumer always sees the most current state even if it falls behind.
package eventbus

import (
	"sync"

	"github.com/sshfleet/sshfleet/internal/domain"
)

const DefaultCapacity = 4096

// Bus is safe for concurrent Publish calls from many goroutines; Drain is
// meant to be called by exactly one consumer goroutine.
type Bus struct {
	mu       sync.Mutex
	capacity int
	buf      []domain.Event
	head     int // index of oldest element
	size     int
}

// New returns a Bus with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		buf:      make([]domain.Event, capacity),
	}
}

// Publish enqueues evt without blocking. If the queue is already at
// capacity, the oldest queued event is dropped first.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == b.capacity {
		b.head = (b.head + 1) % b.capacity
		b.size--
	}
	tail := (b.head + b.size) % b.capacity
	b.buf[tail] = evt
	b.size++
}

// Drain removes and returns every currently queued event, oldest first,
// leaving the bus empty. A consumer on a polling interval calls this once
// per tick instead of blocking on a channel receive, matching the
// best-effort, latest-state-wins delivery this bus provides.
func (b *Bus) Drain() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}
	out := make([]domain.Event, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.buf[(b.head+i)%b.capacity]
	}
	b.head = 0
	b.size = 0
	return out
}

// Len reports how many events are currently queued.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
