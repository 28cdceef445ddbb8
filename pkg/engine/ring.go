package engine

import (
	"sync"

	"github.com/orneryd/muninn/pkg/events"
)

// ringBuffer is a fixed-capacity FIFO with drop-oldest overflow. push is
// called from arbitrary producer goroutines; drain from the writer loop.
// A short critical section around index arithmetic keeps producers from
// ever blocking on batch processing.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []events.Event
	head  int // index of the oldest element
	count int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]events.Event, capacity)}
}

// push appends ev, evicting the oldest element when full. Returns true if
// an element was evicted.
func (r *ringBuffer) push(ev events.Event) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == len(r.buf) {
		// Overwrite the oldest slot and advance head.
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = ev
	r.count++
	return false
}

// drain removes and returns all pending events in arrival order.
func (r *ringBuffer) drain() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil
	}
	out := make([]events.Event, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = 0
	r.count = 0
	return out
}

func (r *ringBuffer) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
