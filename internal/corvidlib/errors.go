// Package corvidlib holds the error taxonomy shared across the
// scheduler, require resolver, and CLI: the abstract error kinds
// spec.md §7 describes (resolution, load, runtime, conversion,
// cancellation, host I/O), each a small wrapped error type carrying
// enough context to format a CLI traceback.
package corvidlib

import "fmt"

// ResolutionError is a bad require path: missing file, invalid alias,
// or a path that cannot be normalized.
type ResolutionError struct {
	Source  string
	Request string
	Reason  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q from %q: %s", e.Request, e.Source, e.Reason)
}

// LoadError is a bytecode parse/compile failure, VM rejection, or file
// read failure while loading a required module.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %q: %s", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RuntimeError wraps any error surfaced by the VM while resuming a
// coroutine.
type RuntimeError struct {
	Thread string
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.Thread == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Thread, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ConversionError is raised when a scheduler-surface function receives
// arguments of the wrong shape.
type ConversionError struct {
	Function string
	Reason   string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Reason)
}

// HostIOError wraps a filesystem or OS call failure as a runtime error
// carrying the OS's own message.
type HostIOError struct {
	Op  string
	Err error
}

func (e *HostIOError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *HostIOError) Unwrap() error { return e.Err }

// CycleError names a detected require cycle through one or more source
// paths (see SPEC_FULL.md §7.3).
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	msg := "cyclic require detected:"
	for _, p := range e.Chain {
		msg += " " + p + " ->"
	}
	return msg + " (cycle)"
}
