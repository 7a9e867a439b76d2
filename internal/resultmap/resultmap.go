// Package resultmap tracks outcomes for externally-submitted threads and
// lets callers await completion without blocking the scheduler loop.
package resultmap

import (
	"sync"

	"github.com/corvidrt/corvid/internal/vmport"
)

// Result is the stored outcome of a tracked thread: either a returned
// multi-value or an error.
type Result struct {
	Values vmport.MultiValue
	Err    error
}

// Ok builds a successful Result.
func Ok(values vmport.MultiValue) Result { return Result{Values: values} }

// Errf builds a failed Result.
func Errf(err error) Result { return Result{Err: err} }

type entry struct {
	result *Result // nil while pending
	notify chan struct{}
}

// Map is the thread result map described in spec.md §4.2: track before
// insert, take exactly once, listen to await a pending-to-resolved
// transition.
type Map struct {
	mu      sync.Mutex
	entries map[vmport.ThreadID]*entry
}

// New creates an empty result map.
func New() *Map {
	return &Map{entries: make(map[vmport.ThreadID]*entry)}
}

// Track marks id as tracked. Idempotent: tracking an already-tracked or
// already-resolved id is a no-op.
func (m *Map) Track(id vmport.ThreadID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		return
	}
	m.entries[id] = &entry{notify: make(chan struct{})}
}

// IsTracked reports whether id has a tracked (possibly already resolved)
// entry.
func (m *Map) IsTracked(id vmport.ThreadID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Insert stores res for id and wakes any listeners. A no-op if id was
// never tracked (untracked threads have their results discarded) or has
// already been resolved.
func (m *Map) Insert(id vmport.ThreadID, res Result) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.result != nil {
		m.mu.Unlock()
		return
	}
	e.result = &res
	notify := e.notify
	m.mu.Unlock()
	close(notify)
}

// Take removes and returns the stored result for id, if it has resolved.
// Returns ok=false if id is pending or was never tracked. A result is
// returned at most once: a second Take for the same id returns ok=false.
func (m *Map) Take(id vmport.ThreadID) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.result == nil {
		return Result{}, false
	}
	delete(m.entries, id)
	return *e.result, true
}

// Listen returns a channel that closes once id's entry resolves. If the
// id is already resolved (but not yet Taken) or was never tracked, the
// returned channel is already closed.
func (m *Map) Listen(id vmport.ThreadID) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.result != nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return e.notify
}
