package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	webhooks    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	tasks       prometheus.Counter
	warnings    prometheus.Counter
	placements  *prometheus.CounterVec
}

// New registers the counters on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alara",
			Name:      "webhook_requests_total",
			Help:      "Inbound provider webhooks by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alara",
			Name:      "call_transitions_total",
			Help:      "Call status transitions attempted from webhooks, by target status and result.",
		}, []string{"status", "result"}),
		tasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alara",
			Name:      "extracted_tasks_total",
			Help:      "Tasks extracted from transcripts.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alara",
			Name:      "extraction_warnings_total",
			Help:      "Tool-call parameters that failed to decode.",
		}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alara",
			Name:      "call_placements_total",
			Help:      "Outbound call placement attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.webhooks, m.transitions, m.tasks, m.warnings, m.placements)
	return m
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(status, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, result).Inc()
}

func (m *Metrics) TasksExtracted(n, warnings int) {
	if m == nil {
		return
	}
	m.tasks.Add(float64(n))
	m.warnings.Add(float64(warnings))
}

func (m *Metrics) Placement(result string) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(result).Inc()
}
