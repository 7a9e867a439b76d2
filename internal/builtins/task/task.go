// Package task builds the task.* library, grounded on
// original_source/packages/lib/src/globals/task.rs. task.spawn/defer/
// cancel are thin Lua aliases for the scheduler-surface globals (the
// reference builds task_spawn on the same machinery it uses to override
// coroutine.resume); task.wait and task.delay are the two leaves that
// need native timer code, since they suspend or schedule threads across
// real elapsed time.
package task

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/corvidrt/corvid/internal/scheduler"
	"github.com/corvidrt/corvid/internal/vmport"
)

// minWaitOrDelay mirrors MINIMUM_WAIT_OR_DELAY_DURATION in the
// reference: task.wait/task.delay never fire faster than this, so a
// script can't busy-loop the scheduler with a zero-duration timer.
const minWaitOrDelay = 10 * time.Millisecond

const preludeSource = `
return {
	spawn = spawn,
	defer = defer,
	cancel = cancel,
	wait = function(seconds)
		return __task_wait_native(seconds)
	end,
	delay = function(seconds, threadOrFn, ...)
		return __task_delay_native(seconds, threadOrFn, ...)
	end,
}
`

// New builds the task library Builtin. It has the shape
// require.Builtin (func(*vmport.Port) (lua.LValue, error)) without
// importing that package; cmd/corvid registers it with the resolver.
func New(port *vmport.Port) (lua.LValue, error) {
	sched := scheduler.FromPort(port)
	L := port.Root

	L.SetGlobal("__task_wait_native", L.NewFunction(waitNative(sched, port)))
	L.SetGlobal("__task_delay_native", L.NewFunction(delayNative(sched, port)))

	fn, err := L.LoadString(preludeSource)
	if err != nil {
		return nil, err
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, err
	}
	mod := L.Get(-1)
	L.Pop(1)
	return mod, nil
}

func clampSeconds(L *lua.LState, idx int) float64 {
	seconds := minWaitOrDelay.Seconds()
	if L.GetTop() >= idx && L.Get(idx) != lua.LNil {
		seconds = float64(L.CheckNumber(idx))
	}
	if seconds < minWaitOrDelay.Seconds() {
		seconds = minWaitOrDelay.Seconds()
	}
	return seconds
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

// waitNative suspends the calling coroutine for the requested duration
// and resumes it with the actual elapsed time, matching task_wait's
// return value in the reference.
func waitNative(sched *scheduler.Scheduler, port *vmport.Port) func(*lua.LState) int {
	return func(L *lua.LState) int {
		dur := time.Duration(clampSeconds(L, 1) * float64(time.Second))
		thread := L
		sched.SpawnNative(thread, func() vmport.MultiValue {
			start := time.Now()
			time.Sleep(dur)
			return vmport.MultiValue{lua.LNumber(time.Since(start).Seconds())}
		})
		return port.YieldPending(L)
	}
}

// delayNative schedules threadOrFn to resume after the requested
// duration and returns its thread immediately, without suspending the
// calling coroutine — matching task_delay's non-blocking contract.
func delayNative(sched *scheduler.Scheduler, port *vmport.Port) func(*lua.LState) int {
	return func(L *lua.LState) int {
		seconds := clampSeconds(L, 1)
		thread, err := port.IntoThread(L.CheckAny(2))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		args := restArgs(L, 3)
		sched.ScheduleAfter(time.Duration(seconds*float64(time.Second)), thread, args)
		L.Push(thread)
		return 1
	}
}
