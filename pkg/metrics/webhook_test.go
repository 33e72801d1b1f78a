package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWebhookMetricsExportsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.Observe("customer.subscription.created", "processed", 120*time.Millisecond)
	m.Observe("customer.subscription.created", "processed", 80*time.Millisecond)
	m.Observe("customer.subscription.created", "error", 10*time.Millisecond)
	m.Observe("", "", time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	processed, err := fetchCounterValue(mfs, "stripe_webhook_events_total", map[string]string{
		"type": "customer.subscription.created", "status": "processed",
	})
	if err != nil {
		t.Fatalf("fetch processed: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected processed=2, got %f", processed)
	}

	failed, err := fetchCounterValue(mfs, "stripe_webhook_events_total", map[string]string{
		"type": "customer.subscription.created", "status": "error",
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected error=1, got %f", failed)
	}

	if _, err := fetchCounterValue(mfs, "stripe_webhook_events_total", map[string]string{
		"type": "unknown", "status": "unknown",
	}); err != nil {
		t.Fatalf("empty labels should normalize to unknown: %v", err)
	}

	count, err := fetchHistogramCount(mfs, "stripe_webhook_duration_seconds", map[string]string{
		"type": "customer.subscription.created",
	})
	if err != nil {
		t.Fatalf("fetch duration: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 duration samples, got %d", count)
	}
}

func TestWebhookMetricsNilSafe(t *testing.T) {
	var nilMetrics *WebhookMetrics
	nilMetrics.Observe("x", "processed", time.Second)
	NewWebhookMetrics(nil).Observe("x", "processed", time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramCount(mfs []*dto.MetricFamily, name string, labels map[string]string) (uint64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleCount(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
