package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveFetch(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch(FetchOutcomeHit, "ttl", 250*time.Millisecond)

	families := gather(t, rec, "fetchcache_fetch_requests_total", "fetchcache_fetch_request_duration_seconds")

	counter := findMetric(t, families["fetchcache_fetch_requests_total"], map[string]string{
		"outcome": "hit",
		"mode":    "ttl",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for fetch requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["fetchcache_fetch_request_duration_seconds"], map[string]string{
		"outcome": "hit",
		"mode":    "ttl",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for fetch latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveFetchDefaultsLabels(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch("", "  ", time.Millisecond)

	families := gather(t, rec, "fetchcache_fetch_requests_total")

	counter := findMetric(t, families["fetchcache_fetch_requests_total"], map[string]string{
		"outcome": "miss",
		"mode":    "unknown",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}
}

func TestRecorderObserveRegeneration(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRegeneration(RegenTriggerBackground, true, 100*time.Millisecond)
	rec.ObserveRegeneration(RegenTriggerBackground, false, 50*time.Millisecond)

	families := gather(t, rec, "fetchcache_regen_regenerations_total", "fetchcache_regen_regeneration_duration_seconds")

	success := findMetric(t, families["fetchcache_regen_regenerations_total"], map[string]string{
		"trigger": "background",
		"result":  "success",
	})
	if got := success.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected success counter 1, got %v", got)
	}

	failure := findMetric(t, families["fetchcache_regen_regenerations_total"], map[string]string{
		"trigger": "background",
		"result":  "failure",
	})
	if got := failure.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}

	latencyMetric := findMetric(t, families["fetchcache_regen_regeneration_duration_seconds"], map[string]string{
		"trigger": "background",
		"result":  "success",
	})
	hist := latencyMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for regeneration latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.1
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveInvalidation(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveInvalidation(InvalidationKindTag, 3)
	rec.ObserveInvalidation(InvalidationKindPath, 0)

	families := gather(t, rec, "fetchcache_invalidate_calls_total")

	tagCalls := findMetric(t, families["fetchcache_invalidate_calls_total"], map[string]string{"kind": "tag"})
	if got := tagCalls.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected tag call counter 1, got %v", got)
	}
	pathCalls := findMetric(t, families["fetchcache_invalidate_calls_total"], map[string]string{"kind": "path"})
	if got := pathCalls.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected path call counter 1, got %v", got)
	}

	keyFamilies := gather(t, rec, "fetchcache_invalidate_keys_total")
	tagKeys := findMetric(t, keyFamilies["fetchcache_invalidate_keys_total"], map[string]string{"kind": "tag"})
	if got := tagKeys.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected 3 invalidated keys, got %v", got)
	}
	// A zero-match path invalidation records the call but no key counter.
	for _, metric := range keyFamilies["fetchcache_invalidate_keys_total"] {
		if matchLabels(metric, map[string]string{"kind": "path"}) {
			t.Fatalf("expected no key counter for zero-match invalidation")
		}
	}
}

func TestRecorderNilReceiver(t *testing.T) {
	var rec *Recorder
	rec.ObserveFetch(FetchOutcomeHit, "ttl", time.Millisecond)
	rec.ObserveRegeneration(RegenTriggerCold, true, time.Millisecond)
	rec.ObserveInvalidation(InvalidationKindTag, 1)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
	if _, err := rec.Gatherer().Gather(); err != nil {
		t.Fatalf("nil recorder gatherer: %v", err)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
