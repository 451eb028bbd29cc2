// Package metrics exposes workflow counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

const namespace = "budget"

// Recorder implements port.WorkflowMetrics on its own registry
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

var _ port.WorkflowMetrics = (*Recorder)(nil)

// NewRecorder creates the workflow counters and registers them together with
// the Go runtime and process collectors
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Committed workflow transitions by action and the stage they left.",
		}, []string{"action", "stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "failures_total",
			Help:      "Rejected workflow commands by operation and failure kind.",
		}, []string{"op", "kind"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "submitted_total",
			Help:      "Budget requests submitted by project category.",
		}, []string{"category"}),
	}

	r.registry.MustRegister(
		r.transitions,
		r.failures,
		r.submissions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveSubmission counts a new request
func (r *Recorder) ObserveSubmission(category entity.ProjectCategory) {
	r.submissions.WithLabelValues(string(category)).Inc()
}

// ObserveTransition counts a committed transition
func (r *Recorder) ObserveTransition(from workflow.Stage, action workflow.Action) {
	r.transitions.WithLabelValues(action.String(), from.String()).Inc()
}

// ObserveFailure counts a rejected command
func (r *Recorder) ObserveFailure(op string, err error) {
	r.failures.WithLabelValues(op, workflow.Kind(err)).Inc()
}

// Registry returns the registry holding the workflow metrics
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
