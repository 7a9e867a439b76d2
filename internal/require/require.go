// Package require implements the module cache and path resolver from
// spec.md §4.5: @alias/relative/init path resolution, a single-flight
// load protocol driven through the scheduler, a synchronous built-in
// registry, and cycle detection. Grounded on
// original_source/crates/lune-std/src/globals/require/context.rs and
// original_source/src/lune/globals/require/context.rs.
package require

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/corvidrt/corvid/internal/corvidlib"
	"github.com/corvidrt/corvid/internal/metrics"
	"github.com/corvidrt/corvid/internal/scheduler"
	"github.com/corvidrt/corvid/internal/vmport"
)

// Builtin constructs a built-in library's module value. Built-ins load
// synchronously: they must not suspend the calling coroutine.
type Builtin func(port *vmport.Port) (lua.LValue, error)

// CycleDetection selects how the resolver reacts to a require cycle.
type CycleDetection int

const (
	// CycleError raises a resolution error naming the cycle (default,
	// SPEC_FULL.md §7.3).
	CycleError CycleDetection = iota
	// CycleAllow reproduces the reference's undetected-deadlock behavior:
	// the cyclic call never resolves.
	CycleAllow
)

// errLostRace means a load we were waiting on finished without leaving
// a result behind; this should never happen since FinishLoad always
// stores an entry before waking waiters.
var errLostRace = errors.New("require: no result recorded after load completed")

// preludeSource wraps the native, yield-capable load primitive in a
// plain Lua require() so a failed load raises an ordinary catchable Lua
// error instead of returning a (ok, err) pair: gopher-lua can't resume a
// yielded Go function back into itself, so the native half can only
// "return" resume arguments as the call's apparent value, never raise
// directly. A thin Lua shim restores the conventional calling
// convention, the way a binding layer normally reconciles native async
// primitives with host-language error semantics.
const preludeSource = `
function require(path)
	local ok, result = __require_native(path)
	if not ok then
		error(result, 0)
	end
	return result
end
`

// Resolver is the require/module-cache subsystem.
type Resolver struct {
	port    *vmport.Port
	sched   *scheduler.Scheduler
	cache   *Cache
	metrics *metrics.Metrics

	aliases   map[string]string
	cycleMode CycleDetection
	builtins  map[string]Builtin

	mu           sync.Mutex
	threadSource map[vmport.ThreadID]string
}

// New builds a Resolver. aliases maps an @name to a base directory
// (require.aliases in corvid.yaml); builtins maps an @name to its
// constructor.
func New(port *vmport.Port, sched *scheduler.Scheduler, aliases map[string]string, builtins map[string]Builtin, cycleMode CycleDetection, m *metrics.Metrics) *Resolver {
	if aliases == nil {
		aliases = map[string]string{}
	}
	if builtins == nil {
		builtins = map[string]Builtin{}
	}
	return &Resolver{
		port:         port,
		sched:        sched,
		cache:        NewCache(),
		metrics:      m,
		aliases:      aliases,
		cycleMode:    cycleMode,
		builtins:     builtins,
		threadSource: make(map[vmport.ThreadID]string),
	}
}

// SetThreadSource records the module path a coroutine runs as, so
// require calls made from within it resolve relative requests against
// the right directory. The CLI entry point calls this for the root
// script's own thread; load calls it for every module thread it
// schedules.
func (r *Resolver) SetThreadSource(thread *lua.LState, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadSource[vmport.IDOf(thread)] = path
}

func (r *Resolver) sourceOf(thread *lua.LState) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threadSource[vmport.IDOf(thread)]
}

func sourceOrRoot(sourcePath string) string {
	if sourcePath == "" {
		return "<root>"
	}
	return sourcePath
}

// Install loads the native entry point and the require() prelude into
// L, which must be the VM's root state: require is installed once,
// globally, not per coroutine.
func (r *Resolver) Install(L *lua.LState) error {
	L.SetGlobal("__require_native", L.NewFunction(r.requireNative))
	return L.DoString(preludeSource)
}

func hasLuaExt(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	return ext == ".lua" || ext == ".luau"
}

// candidatePaths enumerates the files a resolved path without an
// explicit extension may refer to: a same-named file, or an init
// module in a same-named directory (spec.md §4.5).
func candidatePaths(abs string) []string {
	if hasLuaExt(abs) {
		return []string{abs}
	}
	return []string{
		abs + ".luau",
		abs + ".lua",
		filepath.Join(abs, "init.luau"),
		filepath.Join(abs, "init.lua"),
	}
}

func readModuleSource(abs string) (path string, content []byte, err error) {
	for _, candidate := range candidatePaths(abs) {
		content, err = os.ReadFile(candidate)
		if err == nil {
			return candidate, content, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, &corvidlib.HostIOError{Op: "read " + candidate, Err: err}
		}
	}
	return "", nil, &corvidlib.HostIOError{Op: "open", Err: os.ErrNotExist}
}

func entryToResume(port *vmport.Port, entry Entry) vmport.MultiValue {
	if entry.Err != nil {
		return vmport.MultiValue{lua.LFalse, lua.LString(entry.Err.Error())}
	}
	values, _ := port.Lookup(entry.Key)
	if len(values) == 0 {
		return vmport.MultiValue{lua.LTrue, lua.LNil}
	}
	return vmport.MultiValue{lua.LTrue, values[0]}
}

// pushEntry pushes an already-resolved entry's (ok, value-or-error)
// pair directly, for the synchronous cache-hit path that never needs to
// suspend the coroutine.
func (r *Resolver) pushEntry(L *lua.LState, entry Entry) int {
	resume := entryToResume(r.port, entry)
	for _, v := range resume {
		L.Push(v)
	}
	return len(resume)
}

// loadBuiltin resolves an @name built-in synchronously: construct once,
// cache forever, matching spec.md §4.5's "loaded once, synchronously,
// and cached like a normal module".
func (r *Resolver) loadBuiltin(name string) Entry {
	if entry, ok := r.cache.GetBuiltin(name); ok {
		return entry
	}
	ctor, known := r.builtins[name]
	if !known {
		entry := Entry{Err: &corvidlib.ResolutionError{Request: "@" + name, Reason: "unknown built-in"}}
		r.cache.SetBuiltin(name, entry)
		return entry
	}
	value, err := ctor(r.port)
	if err != nil {
		entry := Entry{Err: &corvidlib.LoadError{Path: "@" + name, Err: err}}
		r.cache.SetBuiltin(name, entry)
		return entry
	}
	entry := Entry{Key: r.port.Pin(vmport.MultiValue{value})}
	r.cache.SetBuiltin(name, entry)
	return entry
}

// requireNative is the yield-capable native half of require(). It does
// every VM-touching step (resolving, compiling, creating the module's
// coroutine) synchronously on the caller's own goroutine — which is the
// scheduler's main-loop goroutine, since this runs inside a Resume call
// — and only hands a background goroutine the parts that must block on
// a channel: waiting for another in-flight load to finish.
func (r *Resolver) requireNative(L *lua.LState) int {
	request := L.CheckString(1)
	sourcePath := r.sourceOf(L)

	resolved, builtinName, err := ResolvePath(sourcePath, request, r.aliases)
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	if builtinName != "" {
		return r.pushEntry(L, r.loadBuiltin(builtinName))
	}

	if entry, ok := r.cache.GetResult(resolved.Abs); ok {
		r.metrics.ObserveRequireHit()
		return r.pushEntry(L, entry)
	}

	parentChain := r.cache.ChainFor(sourceOrRoot(sourcePath))
	alreadyPending, wait, cyclePath := r.cache.BeginLoad(resolved.Abs, parentChain)
	thread := L

	switch {
	case cyclePath != "":
		if r.cycleMode == CycleError {
			cerr := &corvidlib.CycleError{Chain: append(append([]string{}, parentChain...), cyclePath)}
			r.metrics.ObserveRequireError()
			L.Push(lua.LFalse)
			L.Push(lua.LString(cerr.Error()))
			return 2
		}
		// CycleAllow: block forever, matching the reference's
		// undetected-deadlock behavior for this configuration.
		r.sched.SpawnNative(thread, func() vmport.MultiValue {
			select {}
		})
		return r.port.YieldPending(L)

	case alreadyPending:
		r.sched.SpawnNative(thread, func() vmport.MultiValue {
			<-wait
			entry, ok := r.cache.GetResult(resolved.Abs)
			if !ok {
				return vmport.MultiValue{lua.LFalse, lua.LString((&corvidlib.LoadError{Path: resolved.Display, Err: errLostRace}).Error())}
			}
			return entryToResume(r.port, entry)
		})
		return r.port.YieldPending(L)

	default:
		path, content, rerr := readModuleSource(resolved.Abs)
		if rerr != nil {
			entry := Entry{Err: &corvidlib.LoadError{Path: resolved.Display, Err: rerr}}
			r.cache.FinishLoad(resolved.Abs, entry)
			r.metrics.ObserveRequireError()
			return r.pushEntry(L, entry)
		}
		fn, cerr := r.port.Root.Load(strings.NewReader(string(content)), resolved.Display)
		if cerr != nil {
			entry := Entry{Err: &corvidlib.LoadError{Path: resolved.Display, Err: cerr}}
			r.cache.FinishLoad(resolved.Abs, entry)
			r.metrics.ObserveRequireError()
			return r.pushEntry(L, entry)
		}
		moduleThread := r.port.NewCoroutine(fn)
		r.SetThreadSource(moduleThread, path)
		id := r.sched.PushBack(moduleThread, nil)
		r.metrics.ObserveRequireLoad()
		log.Debug().
			Str("module", resolved.Display).
			Str("require_id", uuid.NewString()).
			Msg("loading module")

		r.sched.SpawnNative(thread, func() vmport.MultiValue {
			<-r.sched.WaitForThread(id)
			result, ok := r.sched.GetThreadResult(id)
			var entry Entry
			switch {
			case !ok:
				entry = Entry{Err: &corvidlib.LoadError{Path: resolved.Display, Err: errLostRace}}
			case result.Err != nil:
				entry = Entry{Err: &corvidlib.RuntimeError{Thread: resolved.Display, Err: result.Err}}
				r.metrics.ObserveRequireError()
			default:
				entry = Entry{Key: r.port.Pin(result.Values)}
			}
			r.cache.FinishLoad(resolved.Abs, entry)
			return entryToResume(r.port, entry)
		})
		return r.port.YieldPending(L)
	}
}
