package security

import (
	"sync"

	audit "covenant/pkg/platform/audit"
)

const defaultBufferSize = 10000

// RingBuffer holds pending security events. When full it overwrites the
// oldest event and counts the loss.
type RingBuffer struct {
	mu      sync.Mutex
	slots   []audit.SecurityEvent
	start   int
	size    int
	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &RingBuffer{slots: make([]audit.SecurityEvent, capacity)}
}

func (b *RingBuffer) Enqueue(event audit.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.slots)
	if b.size == n {
		b.start = (b.start + 1) % n
		b.size--
		b.dropped++
	}
	b.slots[(b.start+b.size)%n] = event
	b.size++
}

// DequeueBatch removes and returns up to limit events, oldest first.
func (b *RingBuffer) DequeueBatch(limit int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}
	if limit > b.size {
		limit = b.size
	}
	n := len(b.slots)
	out := make([]audit.SecurityEvent, limit)
	for i := range out {
		out[i] = b.slots[(b.start+i)%n]
		b.slots[(b.start+i)%n] = audit.SecurityEvent{}
	}
	b.start = (b.start + limit) % n
	b.size -= limit
	return out
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
