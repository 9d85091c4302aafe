package splitter

import (
	"sync"

	"github.com/iqrf-gateway/daemon-core/pkg/messaging"
)

// defaultQueueCapacity is the default bound for both the management and
// network queues.
const defaultQueueCapacity = 32

// queuedMessage is one inbound message waiting for its worker, carrying
// the raw bytes (re-parsed by the worker) and the transport instance it
// arrived on.
type queuedMessage struct {
	raw    []byte
	source messaging.Instance
}

// boundedQueue is a bounded FIFO paired with exactly one worker. It never
// blocks the producer: tryEnqueue fails fast with false when full.
type boundedQueue struct {
	name string
	ch   chan queuedMessage

	mu     sync.Mutex
	active bool
	closed bool
}

func newBoundedQueue(name string, capacity int) *boundedQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &boundedQueue{name: name, ch: make(chan queuedMessage, capacity), active: true}
}

func (q *boundedQueue) capacity() int {
	return cap(q.ch)
}

func (q *boundedQueue) setActive(active bool) {
	q.mu.Lock()
	if !q.closed {
		q.active = active
	}
	q.mu.Unlock()
}

func (q *boundedQueue) isActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active && !q.closed
}

// tryEnqueue attempts a non-blocking send; it reports false if the queue
// is currently full or already closed.
func (q *boundedQueue) tryEnqueue(msg queuedMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// close stops the queue's worker once it drains any already-queued work.
// Enqueueing after close is rejected rather than a send on a closed
// channel.
func (q *boundedQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.active = false
	close(q.ch)
	q.mu.Unlock()
}
