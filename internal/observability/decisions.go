package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/quorum/internal/audit"
)

// DecisionMetrics counts authorization outcomes per namespace. It
// implements audit.Hook so it can ride the same fan-out the durable
// audit sinks use.
type DecisionMetrics struct {
	decisions *prometheus.CounterVec
}

// NewDecisionMetrics registers the decision counter against the
// provided registerer. A nil registerer falls back to the Prometheus
// default.
func NewDecisionMetrics(registerer prometheus.Registerer) *DecisionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_policy_decisions_total",
		Help: "Policy decisions partitioned by namespace and outcome.",
	}, []string{"namespace", "outcome"})
	registerer.MustRegister(decisions)
	return &DecisionMetrics{decisions: decisions}
}

// Log implements audit.Hook. Events other than allow and deny pass
// through uncounted.
func (d *DecisionMetrics) Log(_ context.Context, event string, payload map[string]any, _ string) {
	if d == nil {
		return
	}
	var outcome string
	switch event {
	case audit.EventPolicyAllow:
		outcome = "allow"
	case audit.EventPolicyDeny:
		outcome = "deny"
	default:
		return
	}
	ns, _ := payload["namespace"].(string)
	if ns == "" {
		ns = "unknown"
	}
	d.decisions.WithLabelValues(ns, outcome).Inc()
}
