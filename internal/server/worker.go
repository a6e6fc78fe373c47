package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/dualaccel/internal/metrics"
	"github.com/cwbudde/dualaccel/internal/solve"
	"github.com/cwbudde/dualaccel/internal/store"
)

// worker runs jobs. Store and emitter are optional.
type worker struct {
	jm              *JobManager
	checkpointStore store.Store
	emitter         *metrics.Emitter
}

// traceDir returns the directory traces are written below, or "" when the
// store has no filesystem layout.
func (wk *worker) traceDir() string {
	if fs, ok := wk.checkpointStore.(interface{ BaseDir() string }); ok {
		return fs.BaseDir()
	}
	return ""
}

// runJob executes a solve job in the background. A non-nil from continues
// the run from that checkpoint.
// If checkpointStore is not nil and job has checkpointInterval > 0, periodic checkpoints are saved.
func (wk *worker) runJob(ctx context.Context, jobID string, from *store.Checkpoint) error {
	defer wk.jm.clearCancel(jobID)

	job, exists := wk.jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := wk.jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	wk.emitState(StateRunning)

	slog.Info("Starting job", "job_id", jobID, "instance", instanceName(job.Config), "resumed", from != nil)

	var state solve.State
	initialLowerBound := 0.0
	if from != nil {
		state = solve.State{Costs: from.Costs, Iteration: from.Iteration}
		initialLowerBound = from.InitialLowerBound
	}

	var trace *store.TraceWriter
	if dir := wk.traceDir(); dir != "" {
		trace, err = store.NewTraceWriter(dir, jobID, from != nil)
		if err != nil {
			slog.Warn("Trace disabled", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
		}
	}

	hooks := []solve.Hook{
		func(p solve.Progress) {
			wk.jm.UpdateJob(jobID, func(j *Job) {
				if j.Iterations == 0 && from == nil {
					j.InitialLowerBound = p.InitialLowerBound
				}
				j.Iterations = p.Iteration
				j.LowerBound = p.LowerBound
				j.Method = p.Method.String()
				j.StepSize = p.StepSize
			})
		},
	}
	if from == nil {
		hooks = append(hooks, func(p solve.Progress) { initialLowerBound = p.InitialLowerBound })
	}
	if trace != nil {
		hooks = append(hooks, trace.Hook())
	}
	if wk.emitter != nil {
		hooks = append(hooks, wk.emitter.Hook(jobID))
		defer wk.emitter.Forget(jobID)
	}
	if wk.checkpointStore != nil && job.Config.Run.CheckpointInterval > 0 {
		interval := time.Duration(job.Config.Run.CheckpointInterval) * time.Second
		last := time.Now()
		hooks = append(hooks, func(p solve.Progress) {
			if time.Since(last) < interval {
				return
			}
			last = time.Now()
			wk.saveCheckpoint(jobID, job.Config, p.Costs(), p.LowerBound, initialLowerBound, p.Iteration)
		})
	}

	// Start progress monitoring goroutine
	progressDone := make(chan struct{})
	go monitorProgress(ctx, wk.jm, jobID, progressDone)

	result, err := solve.Resume(ctx, job.Config, state, hooks...)
	close(progressDone)
	if result != nil && from == nil {
		initialLowerBound = result.InitialLowerBound
	}

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if result != nil && wk.checkpointStore != nil {
			wk.saveCheckpoint(jobID, job.Config, result.Costs, result.LowerBound, initialLowerBound, result.Iterations)
		}
		wk.markJobCancelled(jobID)
		return err
	}
	if err != nil {
		wk.markJobFailed(jobID, err)
		return err
	}

	if wk.checkpointStore != nil {
		wk.saveCheckpoint(jobID, job.Config, result.Costs, result.LowerBound, initialLowerBound, result.Iterations)
	}

	endTime := time.Now()
	err = wk.jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.LowerBound = result.LowerBound
		j.Iterations = result.Iterations
		j.Converged = result.Converged
		if from == nil {
			j.InitialLowerBound = result.InitialLowerBound
		}
		if result.PrimalFeasible {
			cost := result.PrimalCost
			j.PrimalCost = &cost
		}
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}
	wk.emitState(StateCompleted)

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", result.Elapsed,
		"iterations", result.Iterations,
		"initial_lower_bound", result.InitialLowerBound,
		"lower_bound", result.LowerBound,
		"converged", result.Converged,
	)

	// Broadcast final completion event
	if final, ok := wk.jm.GetJob(jobID); ok {
		wk.jm.broadcaster.Broadcast(eventFromJob(final))
	}

	return nil
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(eventFromJob(job))
		}
	}
}

func (wk *worker) emitState(state JobState) {
	if wk.emitter != nil {
		wk.emitter.EmitJobState(string(state))
	}
}

// markJobFailed marks a job as failed with an error message
func (wk *worker) markJobFailed(jobID string, err error) {
	endTime := time.Now()
	wk.jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	wk.emitState(StateFailed)
	if job, ok := wk.jm.GetJob(jobID); ok {
		wk.jm.broadcaster.Broadcast(eventFromJob(job))
	}
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func (wk *worker) markJobCancelled(jobID string) {
	endTime := time.Now()
	wk.jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	wk.emitState(StateCancelled)
	if job, ok := wk.jm.GetJob(jobID); ok {
		wk.jm.broadcaster.Broadcast(eventFromJob(job))
	}
	slog.Info("Job cancelled", "job_id", jobID)
}

// saveCheckpoint stores the dual vector of a job. Failures are logged only.
func (wk *worker) saveCheckpoint(jobID string, cfg JobConfig, costs []float64, lowerBound, initialLowerBound float64, iteration int) {
	if len(costs) == 0 {
		slog.Debug("Skipping checkpoint, no dual state yet", "job_id", jobID)
		return
	}
	checkpoint := store.NewCheckpoint(jobID, costs, lowerBound, initialLowerBound, iteration, cfg)
	if err := wk.checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
		return
	}
	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", iteration,
		"lower_bound", lowerBound,
	)
}

func instanceName(cfg JobConfig) string {
	if cfg.Instance.Path != "" {
		return cfg.Instance.Path
	}
	g := cfg.Instance.Generate
	return fmt.Sprintf("generated(vars=%d, constraints=%d, seed=%d)", g.NumVars, g.NumConstraints, g.Seed)
}
