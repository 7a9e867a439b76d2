// Package vmport adapts a single embedded gopher-lua state into the
// coroutine/registry/app-data contract the scheduler and require resolver
// are written against. Everything in this package is the "Luau VM" from
// the scheduler's point of view: callers never touch *lua.LState directly
// once a Port exists for it.
package vmport

import (
	"fmt"
	"reflect"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Port owns one root *lua.LState and all of the side state gopher-lua has
// no native slot for: app-data, the pending sentinel, and per-coroutine
// liveness (gopher-lua has no coroutine.close, so Port fakes it).
type Port struct {
	Root *lua.LState

	mu      sync.RWMutex
	data    map[string]any
	pending *lua.LUserData

	threadsMu sync.Mutex
	closed    map[ThreadID]bool
	entryFn   map[ThreadID]*lua.LFunction

	regMu  sync.Mutex
	regSeq uint64
	reg    map[RegistryKey]MultiValue
}

// New wraps an already-constructed gopher-lua state. The caller retains
// ownership of L; Port never closes it.
func New(L *lua.LState) *Port {
	p := &Port{
		Root:    L,
		data:    make(map[string]any),
		closed:  make(map[ThreadID]bool),
		entryFn: make(map[ThreadID]*lua.LFunction),
		reg:     make(map[RegistryKey]MultiValue),
	}
	ud := L.NewUserData()
	ud.Value = pendingMarker{}
	p.pending = ud
	return p
}

// pendingMarker tags the one LUserData instance that means "this yield is
// a suspension on a native future", as opposed to an ordinary yield.
type pendingMarker struct{}

// PendingSentinel returns the well-known value native async functions
// should yield to suspend their calling coroutine.
func (p *Port) PendingSentinel() lua.LValue {
	return p.pending
}

// IsPending reports whether v is this Port's pending sentinel.
func (p *Port) IsPending(v lua.LValue) bool {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return false
	}
	_, ok = ud.Value.(pendingMarker)
	return ok && ud == p.pending
}

// appDataKey derives a stable string key per requested type T, standing in
// for the type-keyed app_data slots the reference implementation uses
// (gopher-lua values are ordinary Go pointers tracked by the Go garbage
// collector, so a type-keyed map is all the indirection this needs).
func appDataKey[T any]() string {
	var zero T
	return fmt.Sprintf("%s", reflect.TypeOf(&zero).Elem())
}

// ErrAppDataAlreadyAttached is raised (as a panic, matching the reference
// scheduler's assertion-on-construction discipline) when SetAppData is
// called twice for the same type on the same Port.
type ErrAppDataAlreadyAttached struct {
	Type string
}

func (e *ErrAppDataAlreadyAttached) Error() string {
	return fmt.Sprintf("vmport: app-data of type %s already attached to this VM", e.Type)
}

// SetAppData installs v as the app-data for type T. Panics if type T is
// already installed: only one scheduler may be attached to a VM at once.
func SetAppData[T any](p *Port, v T) {
	key := appDataKey[T]()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.data[key]; exists {
		panic(&ErrAppDataAlreadyAttached{Type: key})
	}
	p.data[key] = v
}

// GetAppData retrieves the app-data of type T, if any has been installed.
func GetAppData[T any](p *Port) (T, bool) {
	key := appDataKey[T]()
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[key]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// MustGetAppData retrieves app-data of type T, panicking if it is missing.
// Scheduler-surface functions use this: they may only be constructed from
// within an active scheduler.
func MustGetAppData[T any](p *Port) T {
	v, ok := GetAppData[T](p)
	if !ok {
		var zero T
		panic(fmt.Sprintf("vmport: app-data of type %T requested but not attached", zero))
	}
	return v
}

// RemoveAppData removes the app-data of type T, returning whether it was
// present. Scheduler teardown uses this and ignores the result: a
// missing entry at teardown does not panic.
func RemoveAppData[T any](p *Port) bool {
	key := appDataKey[T]()
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.data[key]
	delete(p.data, key)
	return ok
}
