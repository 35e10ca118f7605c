package cache

import (
	"sync"

	"github.com/jmwren/replica/pkg/entity"
)

// actionQueue is a thread-safe FIFO queue for pending actions.
//
// The queue is unbounded: persistence results re-enqueue from their own
// goroutines and must never block behind a full buffer while the loop is
// busy.
//
// Thread-safety covers external enqueuing (dispatchers, the persistence
// coordinator) while the store's Run loop dequeues.
//
// A buffered signal channel enables context-aware waiting in the Run loop.
type actionQueue struct {
	mu      sync.Mutex
	actions []entity.Action
	closed  bool
	signal  chan struct{} // signals availability (buffered, size 1)
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]entity.Action, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an action to the back of the queue.
// Returns false if the queue is closed.
func (q *actionQueue) Enqueue(a entity.Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.actions = append(q.actions, a)

	// Non-blocking signal; a buffer of one coalesces bursts.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (zero, false) if the queue is empty.
func (q *actionQueue) TryDequeue() (entity.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return entity.Action{}, false
	}

	a := q.actions[0]

	// Nil out the slot so the backing array does not retain the action's
	// payload pointers until reallocation.
	q.actions[0] = entity.Action{}

	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}

	return a, true
}

// Wait returns a channel that signals when actions may be available.
// The channel closes when the queue closes, waking all waiters.
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Closed reports whether Close has been called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops intake. Already-queued actions remain dequeueable.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
