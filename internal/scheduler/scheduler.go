// Package scheduler implements the cooperative coroutine scheduler:
// three task queues, a result map, a priority-ordered main loop, and the
// Lua-callable surface (spawn/defer/cancel/resume/wrap/exit) scripts use
// to interact with it. Grounded on
// original_source/crates/mlua-luau-scheduler/src/{scheduler,functions}.rs,
// adapted to gopher-lua's synchronous Resume (no async/await executor is
// needed: a resume already returns control exactly at a yield point, so
// native async work is just ordinary goroutines that report back through
// the futures queue) and to the teacher's single-goroutine-owns-the-VM
// discipline (internal/lua/runtime.go's "Run is the ONLY goroutine that
// touches Lua").
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/corvidrt/corvid/internal/metrics"
	"github.com/corvidrt/corvid/internal/queue"
	"github.com/corvidrt/corvid/internal/resultmap"
	"github.com/corvidrt/corvid/internal/vmport"
)

// ErrAlreadyRun is returned by Run if the scheduler has already
// completed a run: a scheduler may only run once.
var ErrAlreadyRun = errors.New("scheduler: already completed a run")

// Options configures a Scheduler at construction time.
type Options struct {
	// MaxBlockingWorkers bounds spawn_blocking's worker pool. Zero uses
	// a sensible default.
	MaxBlockingWorkers int
	// Metrics, if non-nil, receives queue-depth and resume-outcome
	// observations every loop iteration.
	Metrics *metrics.Metrics
	// DisableCancellationSynthesis reproduces the reference's
	// stalls-forever behavior for wait_for_thread on a canceled tracked
	// thread (SPEC_FULL.md §7, decision 2). Left false (the default),
	// cancel() synthesizes ErrCanceled so callers always complete.
	DisableCancellationSynthesis bool
}

// Scheduler is the concurrency core described in spec.md §4.3/§4.4.
type Scheduler struct {
	port *vmport.Port

	spawned  *queue.Queue
	deferred *queue.Queue
	futures  *queue.Queue

	results *resultmap.Map
	exit    *exitSignal
	errCB   *errorCallbackBox

	blocking *blockingPool
	metrics  *metrics.Metrics

	synthesizeCancellation bool

	status   atomic.Int32
	inFlight atomic.Int64 // outstanding spawn_native/spawn_blocking calls
}

// New attaches a new Scheduler to port as app-data. Panics if port
// already has a scheduler attached (ERR_METADATA_ALREADY_ATTACHED in
// the reference).
func New(port *vmport.Port, opts Options) *Scheduler {
	s := &Scheduler{
		port:                   port,
		spawned:                queue.New(queue.KindSpawned),
		deferred:               queue.New(queue.KindDeferred),
		futures:                queue.New(queue.KindFutures),
		results:                resultmap.New(),
		exit:                   newExitSignal(),
		errCB:                  newErrorCallbackBox(),
		blocking:               newBlockingPool(opts.MaxBlockingWorkers, 0),
		metrics:                opts.Metrics,
		synthesizeCancellation: !opts.DisableCancellationSynthesis,
	}
	vmport.SetAppData(port, s)
	return s
}

// FromPort retrieves the Scheduler attached to port. Lua-callable
// functions use this to locate the scheduler from thread-local app-data,
// panicking (as the reference does) if none is attached: scheduler
// functions only make sense from within an active scheduler.
func FromPort(port *vmport.Port) *Scheduler {
	return vmport.MustGetAppData[*Scheduler](port)
}

// Status returns the scheduler's current state.
func (s *Scheduler) Status() Status {
	return Status(s.status.Load())
}

func (s *Scheduler) setStatus(st Status) {
	s.status.Store(int32(st))
}

// SetErrorCallback replaces the callback invoked on unhandled coroutine
// errors. Errors if the scheduler is currently running.
func (s *Scheduler) SetErrorCallback(fn ErrorCallback) error {
	if s.Status() == Running {
		return ErrSchedulerRunning
	}
	s.errCB.replace(fn)
	return nil
}

// RemoveErrorCallback clears the error callback entirely. Errors if the
// scheduler is currently running.
func (s *Scheduler) RemoveErrorCallback() error {
	if s.Status() == Running {
		return ErrSchedulerRunning
	}
	s.errCB.clear()
	return nil
}

// GetExitCode returns the exit code, if one has been set.
func (s *Scheduler) GetExitCode() (uint8, bool) {
	return s.exit.get()
}

// SetExitCode records code as the scheduler's exit code. First call
// wins; later calls are ignored.
func (s *Scheduler) SetExitCode(code uint8) {
	s.exit.set(code)
}

// PushFront enqueues thread onto the spawned queue and tracks its
// result.
func (s *Scheduler) PushFront(thread *lua.LState, args vmport.MultiValue) vmport.ThreadID {
	id := vmport.IDOf(thread)
	s.results.Track(id)
	s.spawned.Push(thread, args)
	return id
}

// PushBack enqueues thread onto the deferred queue and tracks its
// result.
func (s *Scheduler) PushBack(thread *lua.LState, args vmport.MultiValue) vmport.ThreadID {
	id := vmport.IDOf(thread)
	s.results.Track(id)
	s.deferred.Push(thread, args)
	return id
}

// GetThreadResult takes (removes) the stored result for id, if resolved.
func (s *Scheduler) GetThreadResult(id vmport.ThreadID) (resultmap.Result, bool) {
	return s.results.Take(id)
}

// WaitForThread returns a channel that closes once id's result is
// stored.
func (s *Scheduler) WaitForThread(id vmport.ThreadID) <-chan struct{} {
	return s.results.Listen(id)
}

// SpawnNative runs fn on a new unrestricted goroutine. Once fn returns,
// thread is re-enqueued on the futures queue with fn's result as resume
// arguments. Used by Send-able native async builtins (network I/O,
// timers) that don't need the bounded worker pool.
func (s *Scheduler) SpawnNative(thread *lua.LState, fn func() vmport.MultiValue) {
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Add(-1)
		args := fn()
		s.futures.Push(thread, args)
	}()
}

// SpawnLocal runs fn immediately on the calling goroutine (which must be
// the scheduler's own, i.e. called from within a resumed coroutine) and
// enqueues thread on the futures queue with the result. Used for
// non-Send native futures that must not touch the VM from another
// goroutine.
func (s *Scheduler) SpawnLocal(thread *lua.LState, fn func() vmport.MultiValue) {
	args := fn()
	s.futures.Push(thread, args)
}

// SpawnBlocking offloads fn to the bounded blocking-worker pool. thread
// is re-enqueued on the futures queue with fn's result once fn returns
// or ctx is canceled (in which case no result is delivered and the
// coroutine is responsible for its own cancellation handling via ctx).
func (s *Scheduler) SpawnBlocking(ctx context.Context, thread *lua.LState, fn func() vmport.MultiValue) {
	s.inFlight.Add(1)
	s.blocking.submit(ctx, func() []any {
		return []any{fn()}
	}, func(results []any) {
		defer s.inFlight.Add(-1)
		if len(results) == 0 {
			s.futures.Push(thread, nil)
			return
		}
		s.futures.Push(thread, results[0].(vmport.MultiValue))
	})
}

// ScheduleAfter enqueues thread onto the deferred queue once d elapses,
// matching task.delay's fire-once timer semantics (grounded on
// original_source/packages/lib/src/globals/task.rs's task_delay). Unlike
// PushBack, thread's result is not tracked: task.delay, like defer(),
// returns the thread immediately without registering it for
// wait_for_thread.
func (s *Scheduler) ScheduleAfter(d time.Duration, thread *lua.LState, args vmport.MultiValue) {
	s.inFlight.Add(1)
	timer := time.NewTimer(d)
	go func() {
		defer s.inFlight.Add(-1)
		<-timer.C
		if s.port.Resumable(thread) {
			s.deferred.Push(thread, args)
		}
	}()
}

// Cancel closes thread via the VM port, matching cancel()'s contract:
// CoroutineUnresumable is not an error. When synthesizeCancellationError
// is set and thread is tracked, ErrCanceled is stored as its result;
// otherwise its tracked entry is left as it was.
func (s *Scheduler) Cancel(thread *lua.LState, synthesizeCancellationError bool) {
	s.port.CloseThread(thread)
	s.metrics.ObserveCanceled()
	if !synthesizeCancellationError {
		return
	}
	id := vmport.IDOf(thread)
	if s.results.IsTracked(id) {
		s.results.Insert(id, resultmap.Errf(ErrCanceled))
	}
}

// ErrCanceled is the cancellation error synthesized for tracked threads
// closed via cancel(), so wait_for_thread always eventually completes
// when cancellation.synthesize_error is enabled (see SPEC_FULL.md §7.2).
var ErrCanceled = errors.New("scheduler: thread was canceled")

// processEntry resumes one task entry and routes its outcome: pending
// suspensions are left parked (the future that produced them owns
// re-enqueueing), ordinary yields are left parked, returns/errors are
// stored if tracked and reported to the error callback if erroring.
func (s *Scheduler) processEntry(e queue.Entry) {
	if s.port.ThreadStatus(e.Thread) != lua.ThreadSuspended {
		// Cancelled or already completed before we got here.
		return
	}
	id := vmport.IDOf(e.Thread)
	st, values, err := s.port.Resume(e.Thread, e.Args)
	switch st {
	case vmport.StatusPending:
		s.metrics.ObserveResume("pending")
	case vmport.StatusParked:
		s.metrics.ObserveResume("parked")
	case vmport.StatusErrored:
		s.metrics.ObserveResume("errored")
		s.metrics.ObserveThreadError()
		s.errCB.call(err)
		if s.results.IsTracked(id) {
			s.results.Insert(id, resultmap.Errf(err))
		}
	case vmport.StatusReturned:
		s.metrics.ObserveResume("returned")
		if s.results.IsTracked(id) {
			s.results.Insert(id, resultmap.Ok(values))
		}
	}
}

// Run drives the scheduler's main loop until the exit signal is set or
// all queues are drained, the executor is idle, and no native futures
// remain in flight. May only be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.status.CompareAndSwap(int32(NotStarted), int32(Running)) {
		return ErrAlreadyRun
	}

	defer func() {
		s.setStatus(Completed)
		vmport.RemoveAppData[*Scheduler](s.port)
	}()

loop:
	for {
		if _, done := s.exit.get(); done {
			break
		}

		select {
		case <-ctx.Done():
			break loop
		case <-s.exit.wait():
		case <-s.spawned.WaitForItem():
		case <-s.deferred.WaitForItem():
		case <-s.futures.WaitForItem():
		}

		if _, done := s.exit.get(); done {
			break
		}

		for _, e := range s.spawned.Drain() {
			s.processEntry(e)
		}
		for _, e := range s.deferred.Drain() {
			s.processEntry(e)
		}
		for _, e := range s.futures.Drain() {
			s.processEntry(e)
		}

		s.metrics.SetQueueDepth(string(queue.KindSpawned), s.spawned.Len())
		s.metrics.SetQueueDepth(string(queue.KindDeferred), s.deferred.Len())
		s.metrics.SetQueueDepth(string(queue.KindFutures), s.futures.Len())

		if s.spawned.IsEmpty() && s.deferred.IsEmpty() && s.futures.IsEmpty() && s.inFlight.Load() == 0 {
			break
		}
	}

	log.Debug().Msg("scheduler loop exited")
	return nil
}
