package sessionkit

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSignInSuccess)
	m.Observe(MetricRefreshLatency, 10*time.Millisecond)

	if m.Value(MetricSignInSuccess) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot must be empty: %+v", snap)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(MetricSignInSuccess)
	m.Observe(MetricRefreshLatency, time.Millisecond)
	if m.Value(MetricSignInSuccess) != 0 || m.Enabled() {
		t.Fatal("nil metrics must be inert")
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 16
	const perWorker = 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, got)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	durations := []time.Duration{
		2 * time.Millisecond,    // bucket 0
		8 * time.Millisecond,    // bucket 1
		20 * time.Millisecond,   // bucket 2
		40 * time.Millisecond,   // bucket 3
		90 * time.Millisecond,   // bucket 4
		200 * time.Millisecond,  // bucket 5
		400 * time.Millisecond,  // bucket 6
		1500 * time.Millisecond, // bucket 7
	}
	for _, d := range durations {
		m.Observe(MetricRefreshLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRefreshLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, count := range buckets {
		if count != 1 {
			t.Fatalf("bucket %d: expected 1, got %d (%v)", i, count, buckets)
		}
	}
}

func TestMetricsHistogramDisabledSeparately(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: false})
	m.Observe(MetricRefreshLatency, 10*time.Millisecond)

	snap := m.Snapshot()
	if len(snap.Histograms) != 0 {
		t.Fatal("histogram must stay off when not enabled")
	}
	m.Inc(MetricSignInSuccess)
	if m.Value(MetricSignInSuccess) != 1 {
		t.Fatal("counters still work without histograms")
	}
}

func TestMetricsObserveIgnoresCounterIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricSignInSuccess, 10*time.Millisecond)

	snap := m.Snapshot()
	if len(snap.Histograms[MetricRefreshLatency]) != 8 {
		t.Fatal("expected latency buckets present")
	}
	for _, count := range snap.Histograms[MetricRefreshLatency] {
		if count != 0 {
			t.Fatal("observing a counter id must record nothing")
		}
	}
}
