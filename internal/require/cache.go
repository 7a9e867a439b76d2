package require

import (
	"sync"

	"github.com/corvidrt/corvid/internal/vmport"
)

// Entry is a cached module outcome: the pinned return values on success,
// or the error the load raised. Once stored an entry is immutable.
type Entry struct {
	Key vmport.RegistryKey
	Err error
}

// Cache is the three-map module cache from spec.md §4.5: a Results map
// of finished loads, a Pending map of in-flight loads with a broadcast
// channel for waiters, and a Builtins map for the synchronous built-in
// registry. Grounded on
// original_source/crates/lune-std/src/globals/require/context.rs's
// RequireContext (is_cached/is_pending/get_from_cache/wait_for_cache).
type Cache struct {
	mu       sync.Mutex
	results  map[string]Entry
	pending  map[string]chan struct{}
	chains   map[string][]string // ancestor chain (inclusive) while pending, for cycle detection
	builtins map[string]Entry
}

// NewCache builds an empty module cache.
func NewCache() *Cache {
	return &Cache{
		results:  make(map[string]Entry),
		pending:  make(map[string]chan struct{}),
		chains:   make(map[string][]string),
		builtins: make(map[string]Entry),
	}
}

// GetResult returns the cached entry for path, if its load has finished.
func (c *Cache) GetResult(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.results[path]
	return e, ok
}

// ChainFor returns the ancestor chain recorded for path if it is
// currently pending (used to seed the next nested require's cycle
// check), or a single-element chain of just path otherwise.
func (c *Cache) ChainFor(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chain, ok := c.chains[path]; ok {
		out := make([]string, len(chain))
		copy(out, chain)
		return out
	}
	return []string{path}
}

// BeginLoad attempts to claim responsibility for loading path.
//
//   - If path's ancestor chain (the chain of in-flight loads that led to
//     this request) already contains path, it is a cycle: cyclePath is
//     path and the caller should raise a CycleError rather than load.
//   - Else if path is already pending, alreadyPending is true and wait
//     is the channel that closes when the in-flight load finishes.
//   - Else the caller becomes the loader: a fresh Pending entry and
//     ancestor chain are recorded, and FinishLoad must eventually be
//     called with this same path.
func (c *Cache) BeginLoad(path string, parentChain []string) (alreadyPending bool, wait <-chan struct{}, cyclePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ancestor := range parentChain {
		if ancestor == path {
			return false, nil, path
		}
	}
	if ch, ok := c.pending[path]; ok {
		return true, ch, ""
	}
	ch := make(chan struct{})
	c.pending[path] = ch
	chain := make([]string, 0, len(parentChain)+1)
	chain = append(chain, parentChain...)
	chain = append(chain, path)
	c.chains[path] = chain
	return false, ch, ""
}

// FinishLoad stores entry as path's result and wakes every waiter
// registered on its Pending channel. Results[path] is visible to every
// waiter before any of them wake, preserving the "no waiter observes a
// torn state" invariant regardless of wake order.
func (c *Cache) FinishLoad(path string, entry Entry) {
	c.mu.Lock()
	ch, ok := c.pending[path]
	delete(c.pending, path)
	delete(c.chains, path)
	c.results[path] = entry
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// GetBuiltin returns the cached entry for a built-in library name.
func (c *Cache) GetBuiltin(name string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.builtins[name]
	return e, ok
}

// SetBuiltin caches the result of constructing a built-in library.
// Built-ins load synchronously (spec.md §4.5), so there is no pending
// state to manage here.
func (c *Cache) SetBuiltin(name string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builtins[name] = entry
}
