// Package metrics provides Prometheus instrumentation for the import pipeline.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder collects import pipeline metrics on its own registry.
type Recorder struct {
	registry      *prometheus.Registry
	imports       *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	compensations *prometheus.CounterVec
	brapiLatency  *prometheus.HistogramVec
	pendingTotals *prometheus.CounterVec
}

// New creates a recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiment_import",
			Name:      "runs_total",
			Help:      "Experiment import runs by workflow, mode and outcome.",
		}, []string{"workflow", "mode", "outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiment_import",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage name.",
		}, []string{"stage"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiment_import",
			Name:      "compensations_total",
			Help:      "Compensating actions by stage and result.",
		}, []string{"stage", "result"}),
		brapiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "experiment_import",
			Name:      "brapi_batch_seconds",
			Help:      "Latency of batched BrAPI calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation", "entity"}),
		pendingTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiment_import",
			Name:      "pending_objects_total",
			Help:      "Classified pending objects by entity and state.",
		}, []string{"entity", "state"}),
	}

	r.registry.MustRegister(r.imports, r.stageFailures, r.compensations, r.brapiLatency, r.pendingTotals)
	return r
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ImportFinished counts one finished import run.
func (r *Recorder) ImportFinished(workflow string, commit bool, outcome string) {
	if r == nil {
		return
	}
	mode := "preview"
	if commit {
		mode = "commit"
	}
	r.imports.WithLabelValues(workflow, mode, outcome).Inc()
}

// StageFailed counts a failure raised by a pipeline stage.
func (r *Recorder) StageFailed(stage string) {
	if r == nil {
		return
	}
	r.stageFailures.WithLabelValues(stage).Inc()
}

// Compensated counts one compensating action.
func (r *Recorder) Compensated(stage string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	r.compensations.WithLabelValues(stage, result).Inc()
}

// ObserveBrAPI records the latency of one batched BrAPI call.
func (r *Recorder) ObserveBrAPI(operation, entity string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.brapiLatency.WithLabelValues(operation, entity).Observe(elapsed.Seconds())
}

// PendingClassified adds classified pending objects for one entity and state.
func (r *Recorder) PendingClassified(entity, state string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.pendingTotals.WithLabelValues(entity, state).Add(float64(count))
}
