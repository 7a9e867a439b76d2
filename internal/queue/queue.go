// Package queue implements the three FIFO task queues the scheduler
// drains each loop iteration: spawned, deferred, and futures. All three
// share the same shape (push / drain / is_empty / wait_for_item); the
// Kind they carry only affects how the scheduler labels log fields and
// metrics.
package queue

import (
	"container/list"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Entry is a task entry: a coroutine paired with its resume arguments.
// The queue holds the only reference keeping the coroutine enqueued;
// the VM's thread registry keeps it alive beyond that.
type Entry struct {
	Thread *lua.LState
	Args   []lua.LValue
}

// Kind labels which of the three queues an Entry came from, for logging
// and metrics only — it has no effect on FIFO semantics.
type Kind string

const (
	KindSpawned  Kind = "spawned"
	KindDeferred Kind = "deferred"
	KindFutures  Kind = "futures"
)

// Queue is an ordered, mutex-protected FIFO of Entry values with an
// edge-triggered "item became available" notification. The notification
// channel is closed and replaced on every empty-to-nonempty transition,
// which is the standard Go idiom for a one-shot, multi-waiter signal
// (the same shape as the teacher's `closing chan struct{}` in
// internal/lua/runtime.go, generalized to re-arm after each fire).
type Queue struct {
	kind Kind

	mu    sync.Mutex
	items *list.List
	ready chan struct{}
}

// New creates an empty queue of the given kind.
func New(kind Kind) *Queue {
	return &Queue{
		kind:  kind,
		items: list.New(),
		ready: make(chan struct{}),
	}
}

// Kind returns which of the three queues this is.
func (q *Queue) Kind() Kind { return q.kind }

// Push appends an entry to the tail of the queue, waking any waiter if
// the queue was empty. Ordering guarantee: two pushes A then B from the
// same caller are popped in the order A, then B.
func (q *Queue) Push(thread *lua.LState, args []lua.LValue) {
	q.mu.Lock()
	wasEmpty := q.items.Len() == 0
	q.items.PushBack(Entry{Thread: thread, Args: args})
	var toClose chan struct{}
	if wasEmpty {
		toClose = q.ready
		q.ready = make(chan struct{})
	}
	q.mu.Unlock()
	if toClose != nil {
		close(toClose)
	}
}

// Drain atomically removes and returns every entry currently queued, in
// FIFO order. Any push that happened-before this call is included;
// pushes racing concurrently with Drain may land in this batch or the
// next one, but are never lost.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	out := make([]Entry, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Entry))
	}
	q.items.Init()
	return out
}

// IsEmpty reports whether the queue currently holds no entries.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

// Len reports the current queue depth, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// WaitForItem returns a channel that closes the next time the queue
// transitions from empty to non-empty. If the queue is already
// non-empty, the returned channel is already closed.
func (q *Queue) WaitForItem() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() > 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	return q.ready
}
