// Package fifo implements the bounded FIFO queue primitive every traffic
// lane is built from. Producers block on a full queue, consumers block on
// an empty one; both unblock immediately on Close so a Runnable's stop can
// tear down blocked goroutines deterministically.
//
// Grounded on internal/concurrency/lock_free_queue.go and
// internal/concurrency/ring.go (bounded ring buffer with head/tail
// bookkeeping), but the backing store here is github.com/eapache/queue
// rather than a hand-rolled atomic ring — see DESIGN.md.
package fifo

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Push/Pop once the queue has been closed and, for
// Pop, once the closed queue has drained.
var ErrClosed = errors.New("fifo: queue closed")

// Closed is the sentinel item producers enqueue to signal in-band shutdown
// of a downstream queue: enqueue it on every downstream queue, then exit
// both tasks.
type Closed struct{}

// Queue is a bounded, blocking FIFO of arbitrary items (wire.Packet or
// Closed). It is safe for concurrent producers and consumers.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *queue.Queue
	capacity int
	closed   bool
}

// New allocates a bounded queue of the given capacity. Capacity must be > 0.
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic("fifo: capacity must be positive")
	}
	q := &Queue{items: queue.New(), capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push blocks until there is room in the queue or it is closed. Returns
// ErrClosed if the queue was closed before room became available.
func (q *Queue) Push(item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.items.Add(item)
	q.notEmpty.Signal()
	return nil
}

// Pop blocks until an item is available or the queue is closed and drained.
func (q *Queue) Pop() (any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.items.Length() == 0 {
		return nil, ErrClosed
	}
	v := q.items.Peek()
	q.items.Remove()
	q.notFull.Signal()
	return v, nil
}

// TryPop performs a non-blocking probe, used by fan-in egress drains that
// must not let one empty queue stall the others.
func (q *Queue) TryPop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return nil, false
	}
	v := q.items.Peek()
	q.items.Remove()
	q.notFull.Signal()
	return v, true
}

// Close unblocks every blocked Push/Pop with ErrClosed. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// FifoPair bundles the host->target and target->host lanes for one traffic
// class.
type FifoPair struct {
	HostToTarget *Queue
	TargetToHost *Queue
}

// NewFifoPair allocates a pair of bounded queues of equal capacity.
func NewFifoPair(capacity int) *FifoPair {
	return &FifoPair{
		HostToTarget: New(capacity),
		TargetToHost: New(capacity),
	}
}

// Close closes both lanes.
func (p *FifoPair) Close() {
	p.HostToTarget.Close()
	p.TargetToHost.Close()
}
