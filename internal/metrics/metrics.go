// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as label values.
const (
	StageTranscription = "transcription"
	StageHeuristic     = "heuristic"
	StageLLM           = "llm_analytics"
	StageCoaching      = "coaching"
)

var (
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starcoach_analysis_active_runs",
		Help: "Number of analysis runs in progress",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starcoach_analysis_runs_total",
		Help: "Total analysis runs by outcome",
	}, []string{"outcome"}) // complete, degraded, transcription_failed, aborted, duplicate

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "starcoach_analysis_run_duration_seconds",
		Help:    "Wall-clock duration of analysis runs in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	stageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starcoach_stage_results_total",
		Help: "Pipeline stage results",
	}, []string{"stage", "status"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starcoach_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starcoach_analysis_triggers_total",
		Help: "Analysis trigger requests by result",
	}, []string{"result"}) // accepted, not_found, already_analyzed, error
)

// Run tracks one analysis run.
type Run struct {
	start time.Time
}

// StartRun records the start of an analysis run.
func StartRun() *Run {
	activeRuns.Inc()
	return &Run{start: time.Now()}
}

// End records the run's outcome and duration.
func (r *Run) End(outcome string) {
	activeRuns.Dec()
	runDuration.Observe(time.Since(r.start).Seconds())
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records a stage result and its latency.
func ObserveStage(stage string, started time.Time, err error) {
	stageLatency.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	stageTotal.WithLabelValues(stage, status).Inc()
}

// RecordTrigger counts a trigger request by result.
func RecordTrigger(result string) {
	triggersTotal.WithLabelValues(result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
