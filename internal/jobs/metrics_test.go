package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestAttachJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	for i := 0; i < 20; i++ {
		tracker := metrics.Track("wcattach:attach_product_images")
		time.Sleep(2 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		tracker := metrics.Track("wcattach:attach_product_images")
		if err := tracker.End(errors.New("host unavailable")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	labels := map[string]string{"job": "wcattach:attach_product_images"}
	success := metricValue(t, families, "wcattach_jobs_total", map[string]string{"job": "wcattach:attach_product_images", "status": "success"})
	failure := metricValue(t, families, "wcattach_jobs_total", map[string]string{"job": "wcattach:attach_product_images", "status": "failure"})
	if success != 20 || failure != 2 {
		t.Fatalf("unexpected run counts: success=%v failure=%v", success, failure)
	}
	if failures := metricValue(t, families, "wcattach_jobs_failures_total", labels); failures != 2 {
		t.Fatalf("unexpected failure count: %v", failures)
	}

	mean := histogramMean(t, families, "wcattach_job_duration_seconds", labels)
	if mean > 1.0 {
		t.Fatalf("job duration above budget: %f", mean)
	}
}

func TestRecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.RecordOutcome("attached", 3)
	metrics.RecordOutcome("attached", 1)
	metrics.RecordOutcome("no_match", 2)
	metrics.RecordOutcome("no_sku", 0)
	metrics.RecordOutcome("", 5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if got := metricValue(t, families, "wcattach_products_total", map[string]string{"outcome": "attached"}); got != 4 {
		t.Fatalf("attached = %v, want 4", got)
	}
	if got := metricValue(t, families, "wcattach_products_total", map[string]string{"outcome": "no_match"}); got != 2 {
		t.Fatalf("no_match = %v, want 2", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordOutcome("attached", 1)
	boom := errors.New("boom")
	if err := metrics.Track("job").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected error passthrough, got %v", err)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
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
