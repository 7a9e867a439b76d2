package vmport

import (
	"errors"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// ThreadID is an opaque, hashable handle derived from a coroutine's
// identity. Two coroutines compare equal as ThreadIDs iff they are the
// same *lua.LState, and the id is stable for the coroutine's lifetime.
type ThreadID uintptr

// IDOf derives the ThreadID for a coroutine's Lua state.
func IDOf(co *lua.LState) ThreadID {
	return ThreadID(reflect.ValueOf(co).Pointer())
}

// ResumeStatus is the outcome of one Resume call, collapsing gopher-lua's
// ResumeState and the pending-sentinel check into the sum type described
// in spec.md's design notes ("coroutines as sum type").
type ResumeStatus int

const (
	// StatusReturned means the coroutine ran to completion.
	StatusReturned ResumeStatus = iota
	// StatusErrored means the coroutine raised an uncaught error.
	StatusErrored
	// StatusPending means the coroutine yielded the pending sentinel:
	// cooperative suspension on a native future.
	StatusPending
	// StatusParked means the coroutine yielded an ordinary value and
	// remains resumable (e.g. coroutine.yield called directly).
	StatusParked
)

// ErrUnresumable corresponds to the reference's CoroutineUnresumable: an
// attempt to resume a dead or closed coroutine. cancel() treats this as
// a no-op rather than an error.
var ErrUnresumable = errors.New("vmport: coroutine is not resumable")

// NewCoroutine creates a new coroutine that will run fn on its first
// Resume call.
func (p *Port) NewCoroutine(fn *lua.LFunction) *lua.LState {
	co, _ := p.Root.NewThread()
	id := IDOf(co)
	p.threadsMu.Lock()
	p.entryFn[id] = fn
	p.threadsMu.Unlock()
	return co
}

// ThreadStatus reports whether a coroutine can still be resumed.
func (p *Port) ThreadStatus(co *lua.LState) lua.ThreadStatus {
	id := IDOf(co)
	p.threadsMu.Lock()
	closed := p.closed[id]
	p.threadsMu.Unlock()
	if closed {
		return lua.ThreadDead
	}
	return co.Status()
}

// Resumable reports whether co can currently be resumed.
func (p *Port) Resumable(co *lua.LState) bool {
	return p.ThreadStatus(co) == lua.ThreadSuspended
}

// Resume drives one resume step of co with args, classifying the result
// per ResumeStatus. values holds the coroutine's return values on
// StatusReturned, or the yielded values on StatusParked. The entry
// function passed to NewCoroutine is supplied automatically on co's
// first resume; later resumes only need args.
func (p *Port) Resume(co *lua.LState, args []lua.LValue) (ResumeStatus, []lua.LValue, error) {
	if !p.Resumable(co) {
		return StatusErrored, nil, ErrUnresumable
	}
	id := IDOf(co)
	p.threadsMu.Lock()
	fn := p.entryFn[id]
	delete(p.entryFn, id)
	p.threadsMu.Unlock()

	st, values, err := p.Root.Resume(co, fn, args...)
	switch st {
	case lua.ResumeError:
		return StatusErrored, nil, err
	case lua.ResumeYield:
		if len(values) > 0 && p.IsPending(values[0]) {
			return StatusPending, values[1:], nil
		}
		return StatusParked, values, nil
	default: // lua.ResumeOK
		return StatusReturned, values, nil
	}
}

// CloseThread implements cancel(): marks co dead so further resumes are
// no-ops. gopher-lua has no native coroutine.close, so this is emulated
// with Port-local bookkeeping rather than VM state, per spec.md's design
// note about replacing "close magic" with an explicit VM-port primitive.
func (p *Port) CloseThread(co *lua.LState) {
	id := IDOf(co)
	p.threadsMu.Lock()
	p.closed[id] = true
	p.threadsMu.Unlock()
}

// YieldPending yields the pending sentinel from L, suspending the
// calling coroutine until native code re-enqueues it. Must only be
// called from a Go function running as part of a coroutine resume.
func (p *Port) YieldPending(L *lua.LState) int {
	return L.Yield(p.pending)
}

// IntoThread coerces a Lua value that is either a thread or a function
// into a coroutine, creating a new one for the function case. Mirrors
// the reference's LuaThreadOrFunction coercion used by spawn/defer.
func (p *Port) IntoThread(v lua.LValue) (*lua.LState, error) {
	switch tv := v.(type) {
	case *lua.LState:
		return tv, nil
	case *lua.LFunction:
		return p.NewCoroutine(tv), nil
	default:
		return nil, errors.New("vmport: expected a thread or a function")
	}
}
