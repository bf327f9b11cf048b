package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOutcome captures the result of a fingerprint cache lookup.
type CacheOutcome string

const (
	// CacheHitMemory indicates the memory tier served the lookup.
	CacheHitMemory CacheOutcome = "hit_memory"
	// CacheHitPersistent indicates the persistent tier served the lookup.
	CacheHitPersistent CacheOutcome = "hit_persistent"
	// CacheMiss indicates neither tier held a usable entry.
	CacheMiss CacheOutcome = "miss"
	// CacheCorrupt indicates a persisted entry failed to decode or validate.
	CacheCorrupt CacheOutcome = "corrupt"
)

// Recorder publishes Prometheus metrics for cache, backend and pipeline activity.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheLookups   *prometheus.CounterVec
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runLatency     prometheus.Histogram
}

// NewRecorder constructs a Recorder. When reg is nil a dedicated registry is
// created so several recorders can coexist in tests.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logexplain",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Fingerprint cache lookups by outcome.",
	}, []string{"outcome"})

	backendCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logexplain",
		Subsystem: "backend",
		Name:      "calls_total",
		Help:      "Calls to external backends by result.",
	}, []string{"backend", "result"})

	backendLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logexplain",
		Subsystem: "backend",
		Name:      "call_duration_seconds",
		Help:      "Latency distribution for external backend calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"backend"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logexplain",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed pipeline runs by terminal state.",
	}, []string{"state"})

	runLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logexplain",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of pipeline runs, including interactive prompts.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	reg.MustRegister(cacheLookups, backendCalls, backendLatency, runs, runLatency)

	return &Recorder{
		gatherer:       reg,
		handler:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheLookups:   cacheLookups,
		backendCalls:   backendCalls,
		backendLatency: backendLatency,
		runs:           runs,
		runLatency:     runLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying gatherer.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCacheLookup counts a cache lookup outcome.
func (r *Recorder) ObserveCacheLookup(outcome CacheOutcome) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(normalizeLabel(string(outcome))).Inc()
}

// ObserveBackendCall records one call to an external backend.
func (r *Recorder) ObserveBackendCall(backend string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	backend = normalizeLabel(backend)
	r.backendCalls.WithLabelValues(backend, result).Inc()
	r.backendLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveRun records a finished pipeline run.
func (r *Recorder) ObserveRun(state string, duration time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(normalizeLabel(state)).Inc()
	r.runLatency.Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
