package scheduler

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/corvidrt/corvid/internal/resultmap"
	"github.com/corvidrt/corvid/internal/vmport"
)

// Functions are the Lua-callable entry points a script uses to drive the
// scheduler, grounded on
// original_source/crates/mlua-luau-scheduler/src/functions.rs.
type Functions struct {
	port *vmport.Port
	sc   *Scheduler
}

// NewFunctions builds the Lua-callable surface for a scheduler. Panics
// (matching the reference) if port has no attached scheduler.
func NewFunctions(port *vmport.Port) *Functions {
	return &Functions{port: port, sc: FromPort(port)}
}

// Install registers spawn/defer/cancel/resume/wrap/exit as globals on L,
// and replaces coroutine.resume/coroutine.wrap with scheduler-aware
// versions (inject_compat in the reference).
func (f *Functions) Install(L *lua.LState) {
	L.SetGlobal("spawn", L.NewFunction(f.spawn))
	L.SetGlobal("defer", L.NewFunction(f.defer_))
	L.SetGlobal("cancel", L.NewFunction(f.cancel))
	L.SetGlobal("resume", L.NewFunction(f.resume))
	L.SetGlobal("wrap", L.NewFunction(f.wrap))
	L.SetGlobal("exit", L.NewFunction(f.exit))

	if co, ok := L.GetGlobal("coroutine").(*lua.LTable); ok {
		co.RawSetString("resume", L.NewFunction(f.resume))
		co.RawSetString("wrap", L.NewFunction(f.wrap))
	}
}

func threadOrFunc(L *lua.LState, port *vmport.Port, idx int) (*lua.LState, error) {
	return port.IntoThread(L.CheckAny(idx))
}

func restArgs(L *lua.LState, from int) []lua.LValue {
	top := L.GetTop()
	if from > top {
		return nil
	}
	args := make([]lua.LValue, 0, top-from+1)
	for i := from; i <= top; i++ {
		args = append(args, L.Get(i))
	}
	return args
}

// spawn(thread-or-fn, args...) -> thread. Resumes immediately once; if
// it yields the pending sentinel, pushes onto the spawned queue so the
// scheduler's next loop iteration completes it.
func (f *Functions) spawn(L *lua.LState) int {
	thread, err := threadOrFunc(L, f.port, 1)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	args := restArgs(L, 2)

	if f.port.Resumable(thread) {
		id := vmport.IDOf(thread)
		st, values, err := f.port.Resume(thread, args)
		switch st {
		case vmport.StatusPending:
			f.sc.spawned.Push(thread, args)
		case vmport.StatusErrored:
			f.sc.errCB.call(err)
			if f.sc.results.IsTracked(id) {
				f.sc.results.Insert(id, resultmap.Errf(err))
			}
		case vmport.StatusReturned:
			if f.sc.results.IsTracked(id) {
				f.sc.results.Insert(id, resultmap.Ok(values))
			}
		case vmport.StatusParked:
			// Parked: nothing further to do until someone resumes it.
		}
	}

	L.Push(thread)
	return 1
}

// defer(thread-or-fn, args...) -> thread. Never resumes instantly; only
// enqueues onto the deferred queue.
func (f *Functions) defer_(L *lua.LState) int {
	thread, err := threadOrFunc(L, f.port, 1)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	args := restArgs(L, 2)
	if f.port.Resumable(thread) {
		f.sc.deferred.Push(thread, args)
	}
	L.Push(thread)
	return 1
}

// cancel(coroutine). Closes the coroutine; CoroutineUnresumable (already
// closed/dead) is not an error.
func (f *Functions) cancel(L *lua.LState) int {
	thread, ok := L.CheckAny(1).(*lua.LState)
	if !ok {
		L.RaiseError("cancel: expected a thread")
		return 0
	}
	f.sc.Cancel(thread, f.sc.synthesizeCancellation)
	return 0
}

// doResume resumes thread with args and reports the scheduler-aware
// outcome: (true, values) on success or a cooperative pending
// suspension (deferred onto the scheduler queue), (false, message) on
// error. Shared by the resume() Lua function and wrap()'s closure so
// both follow exactly the same tracking and deferral rules.
func (f *Functions) doResume(thread *lua.LState, args []lua.LValue) (ok bool, values []lua.LValue, errMsg string) {
	id := vmport.IDOf(thread)
	st, values, err := f.port.Resume(thread, args)
	switch st {
	case vmport.StatusPending:
		f.sc.deferred.Push(thread, args)
		return true, nil, ""
	case vmport.StatusErrored:
		if f.sc.results.IsTracked(id) {
			f.sc.results.Insert(id, resultmap.Errf(err))
		}
		return false, nil, err.Error()
	case vmport.StatusReturned:
		if f.sc.results.IsTracked(id) {
			f.sc.results.Insert(id, resultmap.Ok(values))
		}
		return true, values, ""
	default: // StatusParked
		return true, values, ""
	}
}

// resume(thread, args...) -> (true, values...) | (false, message).
func (f *Functions) resume(L *lua.LState) int {
	thread, ok := L.CheckAny(1).(*lua.LState)
	if !ok {
		L.RaiseError("resume: expected a thread")
		return 0
	}
	args := restArgs(L, 2)

	ok, values, errMsg := f.doResume(thread, args)
	if !ok {
		L.Push(lua.LFalse)
		L.Push(lua.LString(errMsg))
		return 2
	}
	L.Push(lua.LTrue)
	for _, v := range values {
		L.Push(v)
	}
	return 1 + len(values)
}

// wrap(fn) -> function. Creates one coroutine wrapping fn and returns a
// closure that resumes that same coroutine on each call, unpacking
// successful results or re-raising errors, exactly as coroutine.wrap
// does but through doResume above.
func (f *Functions) wrap(L *lua.LState) int {
	fn, ok := L.CheckAny(1).(*lua.LFunction)
	if !ok {
		L.RaiseError("wrap: expected a function")
		return 0
	}
	thread := f.port.NewCoroutine(fn)

	wrapped := L.NewFunction(func(L *lua.LState) int {
		args := restArgs(L, 1)
		ok, values, errMsg := f.doResume(thread, args)
		if !ok {
			L.RaiseError("%s", errMsg)
			return 0
		}
		for _, v := range values {
			L.Push(v)
		}
		return len(values)
	})
	L.Push(wrapped)
	return 1
}

// exit(code?). Sets the exit code then yields forever, so the calling
// coroutine never resumes again.
func (f *Functions) exit(L *lua.LState) int {
	code := uint8(0)
	if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
		code = uint8(L.CheckInt(1))
	}
	f.sc.SetExitCode(code)
	return f.port.YieldPending(L)
}
