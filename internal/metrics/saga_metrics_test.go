package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewSagaMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSagaMetricsWithRegisterer(reg)

	if metrics.sagaStarted == nil || metrics.sagaCompleted == nil || metrics.sagaFailed == nil {
		t.Fatal("outcome counters should not be nil")
	}
	if metrics.sagaCompensated == nil {
		t.Error("sagaCompensated counter should not be nil")
	}
	if metrics.sagaDuration == nil {
		t.Error("sagaDuration histogram should not be nil")
	}
	if metrics.stepDuration == nil {
		t.Error("stepDuration histogram vec should not be nil")
	}
	if metrics.activeSagas == nil {
		t.Error("activeSagas gauge should not be nil")
	}
}

func TestNewSagaMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewSagaMetricsWithRegisterer(reg)
	second := NewSagaMetricsWithRegisterer(reg)

	first.RecordSagaCompleted()
	second.RecordSagaCompleted()

	if got := counterValue(t, first.sagaCompleted); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestSagaLifecycle(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaStarted()
	metrics.RecordSagaStarted()
	if got := gaugeValue(t, metrics.activeSagas); got != 2 {
		t.Fatalf("expected 2 active sagas, got %f", got)
	}

	metrics.RecordSagaCompleted()
	metrics.RecordSagaFinished(100 * time.Millisecond)
	metrics.RecordSagaFailed("insufficient_stock")
	metrics.RecordSagaFinished(500 * time.Millisecond)

	if got := gaugeValue(t, metrics.activeSagas); got != 0 {
		t.Fatalf("expected 0 active sagas, got %f", got)
	}
	if got := counterValue(t, metrics.sagaStarted); got != 2 {
		t.Errorf("expected 2 started, got %f", got)
	}

	histogram := &dto.Metric{}
	if err := metrics.sagaDuration.Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", histogram.Histogram.GetSampleCount())
	}
	sum := histogram.Histogram.GetSampleSum()
	if sum < 0.55 || sum > 0.65 {
		t.Errorf("expected sum around 0.6, got %f", sum)
	}
}

func TestRecordSagaFailedByReason(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaFailed("insufficient_stock")
	metrics.RecordSagaFailed("insufficient_stock")
	metrics.RecordSagaFailed("payment_failed")

	cases := []struct {
		reason string
		want   float64
	}{
		{reason: "insufficient_stock", want: 2},
		{reason: "payment_failed", want: 1},
		{reason: "lock_timeout", want: 0},
	}
	for _, tc := range cases {
		if got := counterValue(t, metrics.sagaFailed.WithLabelValues(tc.reason)); got != tc.want {
			t.Errorf("reason %s: expected %f, got %f", tc.reason, tc.want, got)
		}
	}
}

func TestRecordStepDuration(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordStepDuration("reserve_stock", 50*time.Millisecond)
	metrics.RecordStepDuration("pay", 100*time.Millisecond)
	metrics.RecordStepDuration("reserve_stock", 25*time.Millisecond)

	reserveMetric := &dto.Metric{}
	observer := metrics.stepDuration.WithLabelValues("reserve_stock")
	if err := observer.(prometheus.Histogram).Write(reserveMetric); err != nil {
		t.Fatalf("failed to write reserve metric: %v", err)
	}
	if reserveMetric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples for reserve_stock, got %d", reserveMetric.Histogram.GetSampleCount())
	}
}

func TestRecordCompensationAndTimeline(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaCompensated()
	metrics.RecordTimelineEvent()
	metrics.RecordTimelineEvent()
	metrics.RecordTimelineEvent()

	if got := counterValue(t, metrics.sagaCompensated); got != 1 {
		t.Errorf("expected 1 compensation, got %f", got)
	}
	if got := counterValue(t, metrics.timelineEvents); got != 3 {
		t.Errorf("expected 3 timeline events, got %f", got)
	}
}
