package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// blockingPool bounds spawn_blocking admission: a semaphore caps how
// many OS threads are parked on blocking work at once, and a rate
// limiter smooths bursts of submissions, grounded on the admission
// pattern in itskum47-FluxForge/control_plane/scheduler/limiter.go.
type blockingPool struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func newBlockingPool(maxWorkers int, burstPerSecond float64) *blockingPool {
	if maxWorkers <= 0 {
		maxWorkers = 32
	}
	if burstPerSecond <= 0 {
		burstPerSecond = 1000
	}
	return &blockingPool{
		sem:     semaphore.NewWeighted(int64(maxWorkers)),
		limiter: rate.NewLimiter(rate.Limit(burstPerSecond), maxWorkers),
	}
}

// submit runs fn on a new goroutine once both the rate limiter and the
// worker semaphore admit it, then invokes done with fn's result. done is
// always called exactly once, even if ctx is canceled while waiting for
// admission (in which case fn never runs).
func (p *blockingPool) submit(ctx context.Context, fn func() []any, done func([]any)) {
	go func() {
		if err := p.limiter.Wait(ctx); err != nil {
			done(nil)
			return
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			done(nil)
			return
		}
		defer p.sem.Release(1)
		done(fn())
	}()
}
