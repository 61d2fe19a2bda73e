package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Webhook("accepted")
	m.Webhook("accepted")
	m.Webhook("unauthorized")
	m.Transition("completed", "applied")
	m.TasksExtracted(2, 1)

	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("expected 2 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(m.tasks); got != 2 {
		t.Fatalf("expected 2 tasks, got %v", got)
	}
	if got := testutil.ToFloat64(m.warnings); got != 1 {
		t.Fatalf("expected 1 warning, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Webhook("accepted")
	m.Transition("completed", "applied")
	m.TasksExtracted(1, 0)
	m.Placement("ok")
}
