package task

import (
	"context"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/corvidrt/corvid/internal/scheduler"
	"github.com/corvidrt/corvid/internal/vmport"
)

func TestClampSecondsUsesMinimumWhenArgMissing(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	L.SetTop(0)
	if got := clampSeconds(L, 1); got != minWaitOrDelay.Seconds() {
		t.Errorf("clampSeconds = %v, want %v", got, minWaitOrDelay.Seconds())
	}
}

func TestClampSecondsFloorsBelowMinimum(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	L.Push(lua.LNumber(0.001))
	if got := clampSeconds(L, 1); got != minWaitOrDelay.Seconds() {
		t.Errorf("clampSeconds = %v, want floor %v", got, minWaitOrDelay.Seconds())
	}
}

func TestClampSecondsPassesThroughLargerValues(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	L.Push(lua.LNumber(2.5))
	if got := clampSeconds(L, 1); got != 2.5 {
		t.Errorf("clampSeconds = %v, want 2.5", got)
	}
}

func TestRestArgsCollectsTrailingValues(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	L.Push(lua.LNumber(1))
	L.Push(lua.LString("a"))
	L.Push(lua.LString("b"))

	got := restArgs(L, 2)
	if len(got) != 2 {
		t.Fatalf("restArgs returned %d values, want 2", len(got))
	}
	if got[0].String() != "a" || got[1].String() != "b" {
		t.Errorf("restArgs = %v, want [a b]", got)
	}
}

func TestRestArgsEmptyWhenFromBeyondTop(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	L.Push(lua.LNumber(1))
	if got := restArgs(L, 5); got != nil {
		t.Errorf("restArgs = %v, want nil", got)
	}
}

func newTestPort(t *testing.T) (*lua.LState, *vmport.Port, *scheduler.Scheduler) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	port := vmport.New(L)
	sched := scheduler.New(port, scheduler.Options{})
	scheduler.NewFunctions(port).Install(L)
	return L, port, sched
}

func runScript(t *testing.T, L *lua.LState, port *vmport.Port, sched *scheduler.Scheduler, src string) {
	t.Helper()
	fn, err := L.LoadString(src)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	thread := port.NewCoroutine(fn)
	sched.PushFront(thread, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("scheduler run failed: %v", err)
	}
}

func TestTaskWaitResumesWithElapsedSeconds(t *testing.T) {
	L, port, sched := newTestPort(t)
	mod, err := New(port)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	L.SetGlobal("task", mod)

	var elapsed lua.LValue
	L.SetGlobal("__record", L.NewFunction(func(L *lua.LState) int {
		elapsed = L.CheckNumber(1)
		return 0
	}))

	runScript(t, L, port, sched, `__record(task.wait(0.01))`)

	if elapsed == nil {
		t.Fatal("expected task.wait to resume with an elapsed-time value")
	}
}

func TestTaskDelayDoesNotSuspendTheCaller(t *testing.T) {
	L, port, sched := newTestPort(t)
	mod, err := New(port)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	L.SetGlobal("task", mod)

	var order []string
	L.SetGlobal("__record", L.NewFunction(func(L *lua.LState) int {
		order = append(order, L.CheckString(1))
		return 0
	}))

	runScript(t, L, port, sched, `
		task.delay(0.01, function() __record("delayed") end)
		__record("after-delay-call")
	`)

	if len(order) != 2 || order[0] != "after-delay-call" || order[1] != "delayed" {
		t.Errorf("order = %v, want [after-delay-call delayed]", order)
	}
}
