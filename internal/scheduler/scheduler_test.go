package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/corvidrt/corvid/internal/vmport"
)

// recorder captures ordered tags from native `record(tag)` calls made
// from Lua during a test run.
type recorder struct {
	mu   sync.Mutex
	tags []string
}

func (r *recorder) install(L *lua.LState) {
	L.SetGlobal("record", L.NewFunction(func(L *lua.LState) int {
		r.mu.Lock()
		r.tags = append(r.tags, L.CheckString(1))
		r.mu.Unlock()
		return 0
	}))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags...)
}

func newTestScheduler(t *testing.T) (*lua.LState, *vmport.Port, *Scheduler, *recorder) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	port := vmport.New(L)
	sched := New(port, Options{})
	NewFunctions(port).Install(L)
	rec := &recorder{}
	rec.install(L)
	return L, port, sched, rec
}

func runScript(t *testing.T, L *lua.LState, port *vmport.Port, sched *Scheduler, src string) {
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

func assertOrder(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDeferPreservesCallOrder(t *testing.T) {
	L, port, sched, rec := newTestScheduler(t)
	runScript(t, L, port, sched, `
		defer(function() record("A") end)
		defer(function() record("B") end)
	`)
	assertOrder(t, rec.snapshot(), "A", "B")
}

func TestSpawnRunsImmediatelyAheadOfDeferred(t *testing.T) {
	L, port, sched, rec := newTestScheduler(t)
	runScript(t, L, port, sched, `
		defer(function() record("deferred") end)
		spawn(function() record("spawned") end)
	`)
	// spawn() resumes its thread synchronously inline, before the
	// enclosing coroutine even finishes; the deferred thread only runs
	// once the scheduler drains its queue on a later loop iteration.
	assertOrder(t, rec.snapshot(), "spawned", "deferred")
}

func TestExitSetsCodeOnceWins(t *testing.T) {
	L, port, sched, _ := newTestScheduler(t)
	runScript(t, L, port, sched, `
		spawn(function() exit(1) end)
		spawn(function() exit(2) end)
	`)
	code, ok := sched.GetExitCode()
	if !ok {
		t.Fatal("expected an exit code to be set")
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1 (first call wins)", code)
	}
}

func TestCancelOnAlreadyCanceledThreadIsNoop(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	port := vmport.New(L)
	sched := New(port, Options{})

	fn, err := L.LoadString(`return`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	thread := port.NewCoroutine(fn)

	sched.Cancel(thread, false)
	sched.Cancel(thread, false) // must not panic

	if port.Resumable(thread) {
		t.Error("canceled thread should no longer be resumable")
	}
}

func TestCancelSynthesizesErrorForTrackedThread(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	port := vmport.New(L)
	sched := New(port, Options{})

	fn, err := L.LoadString(`return`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	thread := port.NewCoroutine(fn)
	id := sched.PushBack(thread, nil)

	sched.Cancel(thread, true)

	result, ok := sched.GetThreadResult(id)
	if !ok {
		t.Fatal("expected a synthesized result for the canceled tracked thread")
	}
	if result.Err == nil {
		t.Error("expected a non-nil error on the synthesized result")
	}
}

func TestRunMayOnlyBeCalledOnce(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	port := vmport.New(L)
	sched := New(port, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := sched.Run(ctx); err != ErrAlreadyRun {
		t.Errorf("second Run() = %v, want ErrAlreadyRun", err)
	}
}

func TestSpawnBlockingDeliversResultViaFutures(t *testing.T) {
	L, port, sched, rec := newTestScheduler(t)
	L.SetGlobal("__suspend", L.NewFunction(func(L *lua.LState) int {
		thread := L
		sched.SpawnBlocking(context.Background(), thread, func() vmport.MultiValue {
			return vmport.MultiValue{lua.LString("blocking-result")}
		})
		return port.YieldPending(L)
	}))

	runScript(t, L, port, sched, `
		local v = __suspend()
		record(v)
	`)
	assertOrder(t, rec.snapshot(), "blocking-result")
}

func TestScheduleAfterFiresWithoutSuspendingTheCaller(t *testing.T) {
	L, port, sched, rec := newTestScheduler(t)

	mainFn, err := L.LoadString(`record("before")`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	mainThread := port.NewCoroutine(mainFn)
	sched.PushFront(mainThread, nil)

	// ScheduleAfter is exercised directly rather than from Lua, since
	// corvid's task.delay wiring lives in internal/builtins/task.
	delayFn, err := L.LoadString(`record("delayed")`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	delayThread := port.NewCoroutine(delayFn)
	sched.ScheduleAfter(10*time.Millisecond, delayThread, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// main runs to completion on the first loop iteration, well before
	// the 10ms timer fires: ScheduleAfter never blocks the pushing
	// goroutine or any other queued thread.
	assertOrder(t, rec.snapshot(), "before", "delayed")
}
