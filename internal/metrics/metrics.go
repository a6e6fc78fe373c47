// Package metrics exports solver progress to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cwbudde/dualaccel/internal/lbfgs"
	"github.com/cwbudde/dualaccel/internal/solve"
)

// Emitter holds the registered collectors.
type Emitter struct {
	lowerBound        *prometheus.GaugeVec
	stepSize          *prometheus.GaugeVec
	historyLength     *prometheus.GaugeVec
	unsuccessful      *prometheus.GaugeVec
	iterations        *prometheus.CounterVec
	searchOutcomes    *prometheus.CounterVec
	iterationDuration *prometheus.HistogramVec
	jobs              *prometheus.CounterVec
	flushes           *prometheus.CounterVec

	mu        sync.Mutex
	seenFlush map[string]int // flushes already counted per job
}

// InitMetrics creates the collectors and registers them with registry.
func InitMetrics(registry prometheus.Registerer) *Emitter {
	e := &Emitter{
		seenFlush: make(map[string]int),
		lowerBound: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dualaccel_lower_bound",
				Help: "Current dual lower bound of each job",
			},
			[]string{"job_id"},
		),
		stepSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dualaccel_step_size",
				Help: "Current step size of the accelerated update",
			},
			[]string{"job_id"},
		),
		historyLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dualaccel_history_length",
				Help: "Number of curvature pairs held by the accelerator",
			},
			[]string{"job_id"},
		),
		unsuccessful: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dualaccel_unsuccessful_updates",
				Help: "Consecutive step size searches that were rolled back",
			},
			[]string{"job_id"},
		),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualaccel_iterations_total",
				Help: "Outer iterations by method",
			},
			[]string{"job_id", "method"},
		),
		searchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualaccel_search_outcomes_total",
				Help: "Step size search results of accelerated iterations",
			},
			[]string{"outcome"},
		),
		iterationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualaccel_iteration_duration_seconds",
				Help:    "Wall time of one outer iteration",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"method"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualaccel_jobs_total",
				Help: "Jobs that reached each state",
			},
			[]string{"state"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualaccel_flushes_total",
				Help: "Curvature history flushes caused by cost updates",
			},
			[]string{"job_id"},
		),
	}

	registry.MustRegister(
		e.lowerBound,
		e.stepSize,
		e.historyLength,
		e.unsuccessful,
		e.iterations,
		e.searchOutcomes,
		e.iterationDuration,
		e.jobs,
		e.flushes,
	)
	return e
}

// EmitProgress records one iteration of a job.
func (e *Emitter) EmitProgress(jobID string, p solve.Progress) {
	job := prometheus.Labels{"job_id": jobID}
	e.lowerBound.With(job).Set(p.LowerBound)
	e.stepSize.With(job).Set(p.StepSize)
	e.historyLength.With(job).Set(float64(p.HistoryLen))
	e.unsuccessful.With(job).Set(float64(p.Unsuccessful))

	method := p.Method.String()
	e.iterations.WithLabelValues(jobID, method).Inc()
	e.iterationDuration.WithLabelValues(method).Observe(p.Elapsed.Seconds())
	if p.Method == lbfgs.MethodAccelerated {
		e.searchOutcomes.WithLabelValues(p.Search.String()).Inc()
	}

	e.mu.Lock()
	if d := p.Flushes - e.seenFlush[jobID]; d > 0 {
		e.flushes.With(job).Add(float64(d))
		e.seenFlush[jobID] = p.Flushes
	}
	e.mu.Unlock()
}

// Hook returns a progress hook that emits under jobID.
func (e *Emitter) Hook(jobID string) solve.Hook {
	return func(p solve.Progress) { e.EmitProgress(jobID, p) }
}

// EmitJobState counts a job state transition.
func (e *Emitter) EmitJobState(state string) {
	e.jobs.WithLabelValues(state).Inc()
}

// Forget drops the per-job series of a finished job.
func (e *Emitter) Forget(jobID string) {
	job := prometheus.Labels{"job_id": jobID}
	e.lowerBound.Delete(job)
	e.stepSize.Delete(job)
	e.historyLength.Delete(job)
	e.unsuccessful.Delete(job)
	e.iterations.DeletePartialMatch(job)
	e.flushes.Delete(job)

	e.mu.Lock()
	delete(e.seenFlush, jobID)
	e.mu.Unlock()
}
