package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchOutcome captures how a cached fetch was resolved.
type FetchOutcome string

const (
	// FetchOutcomeHit indicates a fresh entry was served.
	FetchOutcomeHit FetchOutcome = "hit"
	// FetchOutcomeMiss indicates a cold start that blocked on the fetch.
	FetchOutcomeMiss FetchOutcome = "miss"
	// FetchOutcomeStale indicates a stale entry was served while a
	// regeneration ran.
	FetchOutcomeStale FetchOutcome = "stale"
	// FetchOutcomeBypass indicates a no-store fetch that skipped the
	// persistent layer.
	FetchOutcomeBypass FetchOutcome = "bypass"
	// FetchOutcomeError indicates the fetch failed and the failure was
	// visible to the caller.
	FetchOutcomeError FetchOutcome = "error"
)

// RegenTrigger identifies what started a regeneration.
type RegenTrigger string

const (
	// RegenTriggerCold records blocking cold-start regenerations.
	RegenTriggerCold RegenTrigger = "cold"
	// RegenTriggerBackground records stale-while-revalidate refreshes.
	RegenTriggerBackground RegenTrigger = "background"
	// RegenTriggerBlocking records policy-forced blocking revalidations.
	RegenTriggerBlocking RegenTrigger = "blocking"
)

// InvalidationKind distinguishes tag from path invalidations.
type InvalidationKind string

const (
	InvalidationKindTag  InvalidationKind = "tag"
	InvalidationKindPath InvalidationKind = "path"
)

// Recorder publishes Prometheus metrics for engine activity. All methods are
// nil-receiver safe so wiring metrics stays optional.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	regenerations *prometheus.CounterVec
	regenLatency  *prometheus.HistogramVec

	invalidations   *prometheus.CounterVec
	invalidatedKeys *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchcache",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Cached fetch calls resolved by the engine.",
	}, []string{"outcome", "mode"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fetchcache",
		Subsystem: "fetch",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for cached fetch calls.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"outcome", "mode"})

	regenerations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchcache",
		Subsystem: "regen",
		Name:      "regenerations_total",
		Help:      "Entry regenerations executed by the coordinator.",
	}, []string{"trigger", "result"})

	regenLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fetchcache",
		Subsystem: "regen",
		Name:      "regeneration_duration_seconds",
		Help:      "Latency distribution for entry regenerations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"trigger", "result"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchcache",
		Subsystem: "invalidate",
		Name:      "calls_total",
		Help:      "Invalidation calls received by the engine.",
	}, []string{"kind"})

	invalidatedKeys := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchcache",
		Subsystem: "invalidate",
		Name:      "keys_total",
		Help:      "Cache entries marked stale by invalidation calls.",
	}, []string{"kind"})

	reg.MustRegister(fetchRequests, fetchLatency, regenerations, regenLatency, invalidations, invalidatedKeys)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		fetchRequests:   fetchRequests,
		fetchLatency:    fetchLatency,
		regenerations:   regenerations,
		regenLatency:    regenLatency,
		invalidations:   invalidations,
		invalidatedKeys: invalidatedKeys,
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

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency of one cached fetch call.
func (r *Recorder) ObserveFetch(outcome FetchOutcome, mode string, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(FetchOutcomeMiss)
	}
	modeLabel := normalizeLabel(mode)
	r.fetchRequests.WithLabelValues(outcomeLabel, modeLabel).Inc()
	r.fetchLatency.WithLabelValues(outcomeLabel, modeLabel).Observe(duration.Seconds())
}

// ObserveRegeneration records one completed regeneration attempt.
func (r *Recorder) ObserveRegeneration(trigger RegenTrigger, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	triggerLabel := string(trigger)
	if triggerLabel == "" {
		triggerLabel = string(RegenTriggerCold)
	}
	result := "success"
	if !success {
		result = "failure"
	}
	r.regenerations.WithLabelValues(triggerLabel, result).Inc()
	r.regenLatency.WithLabelValues(triggerLabel, result).Observe(duration.Seconds())
}

// ObserveInvalidation records one invalidation call and how many entries it
// marked stale.
func (r *Recorder) ObserveInvalidation(kind InvalidationKind, matched int) {
	if r == nil {
		return
	}
	kindLabel := string(kind)
	if kindLabel == "" {
		kindLabel = string(InvalidationKindTag)
	}
	r.invalidations.WithLabelValues(kindLabel).Inc()
	if matched > 0 {
		r.invalidatedKeys.WithLabelValues(kindLabel).Add(float64(matched))
	}
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
