package jobs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/quorum/internal/syncer"
)

// SyncMetrics exposes Prometheus collectors for sync passes.
type SyncMetrics struct {
	runs    *prometheus.CounterVec
	applied *prometheus.CounterVec
	pushed  *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

// NewSyncMetrics registers the sync collectors against the provided
// registerer. A nil registerer falls back to the Prometheus default.
func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_sync_runs_total",
		Help: "Sync passes partitioned by namespace and status.",
	}, []string{"namespace", "status"})
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_sync_records_applied_total",
		Help: "Remote records folded into the local log.",
	}, []string{"namespace"})
	pushed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_sync_records_pushed_total",
		Help: "Local records published to the transport.",
	}, []string{"namespace"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_sync_records_dropped_total",
		Help: "Remote records rejected during verification.",
	}, []string{"namespace"})
	registerer.MustRegister(runs, applied, pushed, dropped)
	return &SyncMetrics{runs: runs, applied: applied, pushed: pushed, dropped: dropped}
}

// Observe records the outcome of one sync pass.
func (m *SyncMetrics) Observe(ns string, res syncer.Result, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil || !res.Completed {
		status = "failure"
	}
	m.runs.WithLabelValues(ns, status).Inc()
	if err != nil {
		return
	}
	m.applied.WithLabelValues(ns).Add(float64(res.Applied))
	m.pushed.WithLabelValues(ns).Add(float64(res.Pushed))
	m.dropped.WithLabelValues(ns).Add(float64(len(res.Errors)))
}
