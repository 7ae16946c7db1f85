// Package metrics provides observability counters for the deploy
// engine. The Recorder interface keeps the engine testable; the
// Prometheus implementation registers collectors on a provided (or the
// default) registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes pipeline activity. Use NoopRecorder when metrics
// collection is not needed.
type Recorder interface {
	// PipelineStarted counts a pipeline run beginning for an action.
	PipelineStarted(action string)

	// PipelineFinished counts a pipeline run ending with a result
	// ("success" or "failure") and its total duration.
	PipelineFinished(action, result string, elapsed time.Duration)

	// StageCompleted observes one stage's duration.
	StageCompleted(stage string, elapsed time.Duration)

	// RollbackAttempted counts an auto or operator rollback attempt with
	// its outcome.
	RollbackAttempted(trigger, result string)
}

// NoopRecorder discards all observations.
type NoopRecorder struct{}

// PipelineStarted implements Recorder.
func (NoopRecorder) PipelineStarted(string) {}

// PipelineFinished implements Recorder.
func (NoopRecorder) PipelineFinished(string, string, time.Duration) {}

// StageCompleted implements Recorder.
func (NoopRecorder) StageCompleted(string, time.Duration) {}

// RollbackAttempted implements Recorder.
func (NoopRecorder) RollbackAttempted(string, string) {}

// PromRecorder implements Recorder with Prometheus collectors.
type PromRecorder struct {
	pipelinesStarted  *prometheus.CounterVec
	pipelinesFinished *prometheus.CounterVec
	pipelineDuration  *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	rollbacks         *prometheus.CounterVec
}

// NewPromRecorder creates and registers the collectors. A nil registerer
// uses the default registry.
func NewPromRecorder(registerer prometheus.Registerer) *PromRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	r := &PromRecorder{
		pipelinesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "pipelines_started_total",
			Help:      "Pipeline runs started, by action.",
		}, []string{"action"}),
		pipelinesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "pipelines_finished_total",
			Help:      "Pipeline runs finished, by action and result.",
		}, []string{"action", "result"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "switchyard",
			Name:      "pipeline_duration_seconds",
			Help:      "Total pipeline duration.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"action"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "switchyard",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline duration.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"stage"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "rollbacks_total",
			Help:      "Rollback attempts, by trigger and result.",
		}, []string{"trigger", "result"}),
	}

	registerer.MustRegister(
		r.pipelinesStarted,
		r.pipelinesFinished,
		r.pipelineDuration,
		r.stageDuration,
		r.rollbacks,
	)
	return r
}

// PipelineStarted implements Recorder.
func (r *PromRecorder) PipelineStarted(action string) {
	r.pipelinesStarted.WithLabelValues(action).Inc()
}

// PipelineFinished implements Recorder.
func (r *PromRecorder) PipelineFinished(action, result string, elapsed time.Duration) {
	r.pipelinesFinished.WithLabelValues(action, result).Inc()
	r.pipelineDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// StageCompleted implements Recorder.
func (r *PromRecorder) StageCompleted(stage string, elapsed time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RollbackAttempted implements Recorder.
func (r *PromRecorder) RollbackAttempted(trigger, result string) {
	r.rollbacks.WithLabelValues(trigger, result).Inc()
}

// Compile-time checks.
var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PromRecorder)(nil)
)
