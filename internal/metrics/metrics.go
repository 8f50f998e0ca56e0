// Package metrics exposes prometheus counters for the bridge. All methods
// are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "tether"

// Metrics holds the bridge counters.
type Metrics struct {
	approvals        *prometheus.CounterVec
	errorsSuppressed prometheus.Counter
	batchesFlushed   prometheus.Counter
	eventsRouted     *prometheus.CounterVec
	routingFailures  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the counters and registers them with reg. A nil reg uses a
// fresh private registry, which is what tests and the replay command want.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Permission requests resolved, by outcome.",
		}, []string{"outcome"}),
		errorsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_suppressed_total",
			Help:      "Error notifications dropped by the debouncer.",
		}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Auto-approve notification batches sent.",
		}),
		eventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Session events delivered to a platform bridge.",
		}, []string{"platform", "kind"}),
		routingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_failures_total",
			Help:      "Session events no bridge could accept.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.approvals, m.errorsSuppressed, m.batchesFlushed, m.eventsRouted, m.routingFailures)
	return m
}

// ApprovalResolved counts a resolved permission request.
func (m *Metrics) ApprovalResolved(outcome string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(outcome).Inc()
}

// ErrorSuppressed counts a debounced error notification.
func (m *Metrics) ErrorSuppressed() {
	if m == nil {
		return
	}
	m.errorsSuppressed.Inc()
}

// BatchFlushed counts a sent auto-approve batch.
func (m *Metrics) BatchFlushed() {
	if m == nil {
		return
	}
	m.batchesFlushed.Inc()
}

// EventRouted counts an event delivered to platform.
func (m *Metrics) EventRouted(platform, kind string) {
	if m == nil {
		return
	}
	m.eventsRouted.WithLabelValues(platform, kind).Inc()
}

// RoutingFailed counts an event no bridge accepted.
func (m *Metrics) RoutingFailed() {
	if m == nil {
		return
	}
	m.routingFailures.Inc()
}

// Sample is one counter value with its labels flattened into Name.
type Sample struct {
	Name  string
	Value float64
}

// Snapshot gathers every counter with a non-zero value, sorted by name.
func (m *Metrics) Snapshot() ([]Sample, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			v := metric.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			out = append(out, Sample{Name: fam.GetName() + labelString(metric.GetLabel()), Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	s := "{"
	for i, l := range labels {
		if i > 0 {
			s += ","
		}
		s += l.GetName() + "=" + `"` + l.GetValue() + `"`
	}
	return s + "}"
}
