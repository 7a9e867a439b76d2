// Package metrics exposes scheduler and require-resolver observability
// as Prometheus collectors, grounded on the control-plane metrics
// pattern in itskum47-FluxForge/control_plane/observability/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a bundle of collectors the scheduler and require resolver
// update as they run. A nil *Metrics is valid everywhere it's used: all
// methods on it are no-ops, so instrumentation is opt-in.
type Metrics struct {
	QueueDepth *prometheus.GaugeVec
	// TrackedThreads is registered, but nothing in this module calls
	// SetTrackedThreads, so it reports 0.
	TrackedThreads  prometheus.Gauge
	ThreadsResumed  *prometheus.CounterVec
	ThreadErrors    prometheus.Counter
	ThreadsCanceled prometheus.Counter
	RequireLoads    prometheus.Counter
	RequireHits     prometheus.Counter
	RequireErrors   prometheus.Counter
}

// New registers a fresh set of collectors on reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corvid",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Current number of entries waiting in a scheduler task queue.",
		}, []string{"queue"}),
		TrackedThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corvid",
			Subsystem: "scheduler",
			Name:      "tracked_threads",
			Help:      "Number of threads currently tracked in the result map.",
		}),
		ThreadsResumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corvid",
			Subsystem: "scheduler",
			Name:      "threads_resumed_total",
			Help:      "Total coroutine resumes, labeled by outcome.",
		}, []string{"outcome"}),
		ThreadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid",
			Subsystem: "scheduler",
			Name:      "thread_errors_total",
			Help:      "Total unhandled errors raised by resumed coroutines.",
		}),
		ThreadsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid",
			Subsystem: "scheduler",
			Name:      "threads_canceled_total",
			Help:      "Total coroutines closed via cancel().",
		}),
		RequireLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid",
			Subsystem: "require",
			Name:      "loads_total",
			Help:      "Total module loads that read a file from disk.",
		}),
		RequireHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid",
			Subsystem: "require",
			Name:      "cache_hits_total",
			Help:      "Total require calls satisfied from the results cache.",
		}),
		RequireErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid",
			Subsystem: "require",
			Name:      "errors_total",
			Help:      "Total require calls that resolved to an error.",
		}),
	}
	reg.MustRegister(
		m.QueueDepth, m.TrackedThreads, m.ThreadsResumed,
		m.ThreadErrors, m.ThreadsCanceled,
		m.RequireLoads, m.RequireHits, m.RequireErrors,
	)
	return m
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) SetTrackedThreads(n int) {
	if m == nil {
		return
	}
	m.TrackedThreads.Set(float64(n))
}

func (m *Metrics) ObserveResume(outcome string) {
	if m == nil {
		return
	}
	m.ThreadsResumed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveThreadError() {
	if m == nil {
		return
	}
	m.ThreadErrors.Inc()
}

func (m *Metrics) ObserveCanceled() {
	if m == nil {
		return
	}
	m.ThreadsCanceled.Inc()
}

// ObserveRequireLoad records a module load that hit the filesystem.
func (m *Metrics) ObserveRequireLoad() {
	if m == nil {
		return
	}
	m.RequireLoads.Inc()
}

// ObserveRequireHit records a require call satisfied from cache.
func (m *Metrics) ObserveRequireHit() {
	if m == nil {
		return
	}
	m.RequireHits.Inc()
}

// ObserveRequireError records a require call that resolved to an error.
func (m *Metrics) ObserveRequireError() {
	if m == nil {
		return
	}
	m.RequireErrors.Inc()
}
