package scheduler

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrorCallback is invoked for any unhandled error produced while
// resuming a coroutine.
type ErrorCallback func(err error)

// DefaultErrorCallback logs the error at Error level, the Go-idiomatic
// stand-in for the reference's "print to stderr" default, matching the
// teacher's habit of routing every unhandled condition through zerolog
// rather than fmt.Fprintln (see cmd/lightd/main.go's Fatal/Error calls).
func DefaultErrorCallback(err error) {
	log.Error().Err(err).Msg("unhandled error in scheduled thread")
}

type errorCallbackBox struct {
	mu sync.RWMutex
	fn ErrorCallback
}

func newErrorCallbackBox() *errorCallbackBox {
	return &errorCallbackBox{fn: DefaultErrorCallback}
}

func (b *errorCallbackBox) call(err error) {
	b.mu.RLock()
	fn := b.fn
	b.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// ErrSchedulerRunning is returned by SetErrorCallback/RemoveErrorCallback
// when called while the scheduler is running.
var ErrSchedulerRunning = fmt.Errorf("scheduler: cannot change error callback while running")

func (b *errorCallbackBox) replace(fn ErrorCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = fn
}

func (b *errorCallbackBox) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = nil
}
