package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/mlpfit/internal/metrics"
	"github.com/cwbudde/mlpfit/internal/nn"
	"github.com/cwbudde/mlpfit/internal/opt"
	"github.com/cwbudde/mlpfit/internal/params"
	"github.com/cwbudde/mlpfit/internal/store"
)

// Run trains the job synchronously. checkpointStore may be nil.
func (jm *JobManager) Run(ctx context.Context, checkpointStore store.Store, jobID string) error {
	return runJob(ctx, jm, checkpointStore, jobID)
}

// runJob executes a training job.
// If checkpointStore is not nil, a checkpoint is written when the run ends and,
// with checkpointInterval > 0, periodically while it runs. Stores exposing
// BaseDir also receive the per-step trace.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var resume *store.Checkpoint
	var job *Job
	err := jm.UpdateJob(jobID, func(j *Job) {
		if j.State.Done() {
			return
		}
		j.State = StateRunning
		j.cancel = cancel
		resume = j.resume
		job = j.snapshot()
	})
	if err != nil {
		return err
	}
	if job == nil {
		slog.Info("Job not started", "job_id", jobID)
		return nil
	}
	cfg := job.Config
	logger := slog.Default().With("job_id", jobID)

	logger.Info("Starting job", "train", cfg.TrainPath, "algorithm", cfg.Algorithm, "resume", resume != nil)

	if err := cfg.Validate(); err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	train, val, err := cfg.LoadData()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	logger.Info("Loaded dataset", "samples", train.Len(), "features", train.Features(), "validation", val.Len())

	model, err := cfg.NewModel()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	if resume != nil {
		if err := restoreWeights(model, resume); err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
	}

	shapes := model.Shapes()
	initialLoss := metrics.MSEReg(train.Y, model.Predict(train.X), model.Weights(), model.Regularizers())
	if resume != nil {
		initialLoss = resume.InitialLoss
	}

	if cfg.WarmStartIters > 0 && resume == nil {
		if _, _, err := cfg.WarmStart().Apply(model, train); err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
	}

	best, err := params.Flatten(model.Weights())
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	bestLoss := metrics.MSEReg(train.Y, model.Predict(train.X), model.Weights(), model.Regularizers())
	if resume != nil && resume.BestLoss < bestLoss {
		bestLoss = resume.BestLoss
	}

	jm.UpdateJob(jobID, func(j *Job) {
		j.InitialLoss = initialLoss
		j.Shapes = shapes
		j.BestWeights = best
		j.BestLoss = bestLoss
		j.Loss = bestLoss
	})

	alg, err := cfg.NewAlgorithm()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	optimizer, err := opt.New(alg, cfg.OptimizerConfig(logger))
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	var trace *store.TraceWriter
	if fs, ok := checkpointStore.(interface{ BaseDir() string }); ok {
		trace, err = store.NewTraceWriter(fs.BaseDir(), jobID, resume != nil)
		if err != nil {
			logger.Warn("Trace disabled", "error", err)
		} else {
			defer trace.Close()
		}
	}

	epochOffset, stepOffset := job.Epoch, job.Step
	optimizer.OnStep = func(rec opt.Record) {
		rec.Epoch += epochOffset
		rec.Step += stepOffset

		// rec.Loss is a batch loss on mini-batch runs; best weights are
		// chosen on the whole training set.
		var improved []float64
		if rec.TrainLoss < bestLoss {
			bestLoss = rec.TrainLoss
			if w, err := params.Flatten(model.Weights()); err == nil {
				improved = w
			}
		}

		var snap *Job
		jm.UpdateJob(jobID, func(j *Job) {
			j.Epoch, j.Step = rec.Epoch, rec.Step
			j.Loss, j.GradNorm = rec.Loss, rec.GradNorm
			j.History = append(j.History, rec)
			if improved != nil {
				j.BestWeights = improved
				j.BestLoss = bestLoss
			}
			snap = j.snapshot()
		})
		jm.broadcaster.Broadcast(progressEvent(snap))

		if trace != nil {
			if err := trace.Write(store.NewTraceEntry(rec)); err != nil {
				logger.Warn("Failed to write trace entry", "step", rec.Step, "error", err)
			}
		}
	}

	checkpointDone := make(chan struct{})
	if checkpointStore != nil && cfg.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, checkpointStore, jobID, checkpointDone)
	}

	start := time.Now()
	res, fitErr := optimizer.Fit(ctx, model, train, val)
	close(checkpointDone)

	if trace != nil {
		if err := trace.Flush(); err != nil {
			logger.Warn("Failed to flush trace", "error", err)
		}
	}

	switch {
	case fitErr != nil && errors.Is(fitErr, context.Canceled):
		markJobCancelled(jm, jobID, res)
	case fitErr != nil:
		markJobFailed(jm, jobID, fitErr)
		jm.UpdateJob(jobID, func(j *Job) { j.Status = res.Status.String() })
	default:
		endTime := time.Now()
		jm.UpdateJob(jobID, func(j *Job) {
			j.State = StateCompleted
			j.Status = res.Status.String()
			j.Reason = res.Reason
			j.EndTime = &endTime
		})
	}

	if checkpointStore != nil {
		if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
			logger.Error("Failed to save final checkpoint", "error", err)
		}
	}

	final, _ := jm.GetJob(jobID)
	logger.Info("Job finished",
		"state", final.State,
		"status", final.Status,
		"reason", final.Reason,
		"elapsed", time.Since(start),
		"steps", res.Steps,
		"initial_loss", final.InitialLoss,
		"best_loss", final.BestLoss,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(progressEvent(final))

	if fitErr != nil && !errors.Is(fitErr, context.Canceled) {
		return fitErr
	}
	return nil
}

// restoreWeights installs the checkpoint's weights into m.
func restoreWeights(m *nn.MLP, cp *store.Checkpoint) error {
	ws, err := params.Restore(cp.Shapes, cp.Weights)
	if err != nil {
		return fmt.Errorf("restoring checkpoint weights: %w", err)
	}
	if err := m.SetWeights(ws); err != nil {
		return fmt.Errorf("restoring checkpoint weights: %w", err)
	}
	m.MarkFitted()
	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var snap *Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Status = opt.StatusFailed.String()
		j.Error = err.Error()
		j.EndTime = &endTime
		snap = j.snapshot()
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	if snap != nil {
		jm.broadcaster.Broadcast(progressEvent(snap))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string, res opt.Result) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.Status = res.Status.String()
		j.Reason = res.Reason
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID, "steps", res.Steps)
}

// monitorCheckpoints periodically saves checkpoints during training
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves the job's best weights so far
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Skip if the model was never built
	if len(job.BestWeights) == 0 {
		slog.Debug("Skipping checkpoint, no weights yet", "job_id", jobID)
		return nil
	}

	status := job.Status
	if status == "" {
		status = opt.StatusRunning.String()
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestWeights,
		job.Shapes,
		job.BestLoss,
		job.InitialLoss,
		job.Epoch,
		job.Step,
		status,
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"epoch", job.Epoch,
		"step", job.Step,
		"best_loss", job.BestLoss,
	)
	return nil
}
