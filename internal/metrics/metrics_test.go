package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.ApprovalResolved("approved")
	m.ApprovalResolved("approved")
	m.ApprovalResolved("cancelled")
	m.ErrorSuppressed()
	m.BatchFlushed()
	m.EventRouted("slack", "output")
	m.RoutingFailed()

	if got := testutil.ToFloat64(m.approvals.WithLabelValues("approved")); got != 2 {
		t.Errorf("approvals{approved} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.approvals.WithLabelValues("cancelled")); got != 1 {
		t.Errorf("approvals{cancelled} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsSuppressed); got != 1 {
		t.Errorf("errors_suppressed = %v", got)
	}
	if got := testutil.ToFloat64(m.batchesFlushed); got != 1 {
		t.Errorf("batches_flushed = %v", got)
	}
	if got := testutil.ToFloat64(m.eventsRouted.WithLabelValues("slack", "output")); got != 1 {
		t.Errorf("events_routed = %v", got)
	}
	if got := testutil.ToFloat64(m.routingFailures); got != 1 {
		t.Errorf("routing_failures = %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ApprovalResolved("approved")
	m.ErrorSuppressed()
	m.BatchFlushed()
	m.EventRouted("slack", "output")
	m.RoutingFailed()
	if s, err := m.Snapshot(); s != nil || err != nil {
		t.Errorf("Snapshot() on nil = %v, %v", s, err)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := New(nil)
	m.EventRouted("slack", "output")
	m.BatchFlushed()

	samples, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("Snapshot() = %v, want 2 non-zero samples", samples)
	}
	if samples[0].Name != "tether_batches_flushed_total" {
		t.Errorf("samples[0] = %+v", samples[0])
	}
	if samples[1].Name != `tether_events_routed_total{kind="output",platform="slack"}` {
		t.Errorf("samples[1] = %+v", samples[1])
	}
}
