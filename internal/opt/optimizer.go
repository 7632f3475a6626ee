// Package opt trains a Model by minimising the regularised mean squared
// error with a pluggable Algorithm (SGD, nonlinear conjugate gradient or
// L-BFGS).
//
// An Optimizer runs epochs over the training data in contiguous batches,
// asks the Algorithm for one update per batch, writes the weights back to
// the model, records a History entry and evaluates the stopping criteria.
package opt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/mlpfit/internal/dataset"
	"github.com/cwbudde/mlpfit/internal/metrics"
	"github.com/cwbudde/mlpfit/internal/params"
	"gonum.org/v1/gonum/mat"
)

// Status is the state of an Optimizer run.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusConverged
	StatusMaxEpochsReached
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusConverged:
		return "converged"
	case StatusMaxEpochsReached:
		return "max_epochs_reached"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the run parameters of an Optimizer.
type Config struct {
	Epochs    int // required, at least 1
	BatchSize int // <= 0 trains on the full dataset each step

	Tol           float64 // <= 0 disables the tolerance criterion
	NIterNoChange int     // stale steps before the tolerance criterion fires, default 1
	NormGEps      float64 // <= 0 disables the gradient norm criterion
	LEps          float64 // <= 0 disables the loss criterion

	// Verbose: 0 silent, 1 per epoch, 2 per step, 3 per line-search trial.
	Verbose int
	Logger  *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Epochs < 1 {
		return fmt.Errorf("%w: epochs must be at least 1, got %d", ErrInvalidConfig, c.Epochs)
	}
	if c.Verbose < 0 || c.Verbose > 3 {
		return fmt.Errorf("%w: verbose must be 0-3, got %d", ErrInvalidConfig, c.Verbose)
	}
	if c.NIterNoChange < 0 {
		return fmt.Errorf("%w: n_iter_no_change must be non-negative, got %d", ErrInvalidConfig, c.NIterNoChange)
	}
	return nil
}

// Result is the outcome of a run.
type Result struct {
	Status  Status        `json:"status"`
	Reason  string        `json:"reason"`
	Epochs  int           `json:"epochs"`
	Steps   int           `json:"steps"`
	Elapsed time.Duration `json:"elapsed"`
	History History       `json:"history"`
	// BestLoss is the lowest step loss. With mini-batches it is the loss of
	// a single batch; Record.TrainLoss holds the full-set value.
	BestLoss float64 `json:"bestLoss"`
}

// Optimizer drives an Algorithm over a Model.
type Optimizer struct {
	alg    Algorithm
	cfg    Config
	logger *slog.Logger
	status Status

	// OnStep, when set, is called after every recorded step.
	OnStep func(Record)
}

// New returns an Optimizer in the Idle state.
func New(alg Algorithm, cfg Config) (*Optimizer, error) {
	if alg == nil {
		return nil, fmt.Errorf("%w: algorithm is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if v, ok := alg.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.NIterNoChange == 0 {
		cfg.NIterNoChange = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{alg: alg, cfg: cfg, logger: logger}, nil
}

// Status returns the current run state.
func (o *Optimizer) Status() Status { return o.status }

// Algorithm returns the update rule in use.
func (o *Optimizer) Algorithm() Algorithm { return o.alg }

// Fit trains m on train. val may be nil. The returned Result always carries
// the history recorded so far; the error is non-nil exactly when the run
// ends in StatusFailed.
func (o *Optimizer) Fit(ctx context.Context, m Model, train *dataset.Dataset, val *dataset.Dataset) (Result, error) {
	start := time.Now()
	res := Result{}

	fail := func(err error) (Result, error) {
		o.status = StatusFailed
		res.Status = o.status
		res.Reason = err.Error()
		res.Elapsed = time.Since(start)
		o.logger.Error("Training failed", "algorithm", o.alg.Name(), "step", res.Steps, "error", err)
		return res, err
	}

	if train.Len() == 0 {
		return fail(errors.New("training set is empty"))
	}

	shapes := params.ShapesOf(m.Weights())
	x, err := params.Flatten(m.Weights())
	if err != nil {
		return fail(fmt.Errorf("flattening weights: %w", err))
	}

	info := RunInfo{Dim: len(x)}
	if o.cfg.Verbose >= 2 {
		info.Logger = o.logger
	}
	if o.cfg.Verbose >= 3 {
		info.TrialLogger = o.logger
	}
	o.alg.Init(info)
	o.status = StatusRunning

	if o.cfg.Verbose >= 1 {
		o.logger.Info("Training started",
			"algorithm", o.alg.Name(),
			"parameters", len(x),
			"samples", train.Len(),
			"batch_size", o.cfg.BatchSize,
			"epochs", o.cfg.Epochs,
			"warm", m.Fitted(),
		)
	}

	tracker := newStopTracker(o.cfg.Tol, o.cfg.NIterNoChange)
	tracker.logger = info.Logger
	batches := train.Batches(o.cfg.BatchSize)

	for epoch := 1; epoch <= o.cfg.Epochs; epoch++ {
		for b, batch := range batches {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}

			obj := newBatchObjective(m, shapes, batch.X, batch.Y)
			step, err := o.alg.Step(obj, x)
			if err != nil {
				return fail(fmt.Errorf("step %d: %w", res.Steps+1, err))
			}
			if math.IsNaN(step.Loss) || math.IsInf(step.Loss, 0) {
				return fail(fmt.Errorf("step %d: %w (%g)", res.Steps+1, ErrNonFinite, step.Loss))
			}

			ws, err := params.Restore(shapes, step.X)
			if err != nil {
				return fail(fmt.Errorf("step %d: %w", res.Steps+1, err))
			}
			if err := m.SetWeights(ws); err != nil {
				return fail(fmt.Errorf("step %d: %w", res.Steps+1, err))
			}
			x = step.X
			res.Steps++

			rec := o.record(m, ws, train, val, step)
			rec.Epoch, rec.Batch, rec.Step = epoch, b, res.Steps
			res.History = append(res.History, rec)
			if res.Steps == 1 || rec.Loss < res.BestLoss {
				res.BestLoss = rec.Loss
			}
			if o.OnStep != nil {
				o.OnStep(rec)
			}
			if o.cfg.Verbose >= 2 {
				o.logStep(rec)
			}

			tracker.Seed(rec.Phi0)
			if reason, ok := o.converged(rec, tracker); ok {
				res.Epochs = epoch
				return o.finish(res, StatusConverged, reason, start, m), nil
			}
		}

		res.Epochs = epoch
		if o.cfg.Verbose >= 1 {
			last, _ := res.History.Last()
			attrs := []any{"epoch", epoch, "loss", last.Loss, "train_mse", last.TrainMSE, "train_accuracy", last.TrainAccuracy}
			if last.ValMSE != nil {
				attrs = append(attrs, "val_mse", *last.ValMSE, "val_accuracy", *last.ValAccuracy)
			}
			o.logger.Info("Epoch complete", attrs...)
		}
	}

	return o.finish(res, StatusMaxEpochsReached, fmt.Sprintf("reached %d epochs", o.cfg.Epochs), start, m), nil
}

// converged evaluates the stopping criteria after a step.
func (o *Optimizer) converged(rec Record, tracker *stopTracker) (string, bool) {
	if o.cfg.LEps > 0 && rec.Loss <= o.cfg.LEps {
		return fmt.Sprintf("loss %g <= %g", rec.Loss, o.cfg.LEps), true
	}
	if o.cfg.NormGEps > 0 && rec.GradNorm <= o.cfg.NormGEps {
		return fmt.Sprintf("gradient norm %g <= %g", rec.GradNorm, o.cfg.NormGEps), true
	}
	if tracker.Update(rec.Loss) {
		return fmt.Sprintf("loss improved by less than %g for %d steps", o.cfg.Tol, tracker.StaleCount()), true
	}
	return "", false
}

func (o *Optimizer) finish(res Result, status Status, reason string, start time.Time, m Model) Result {
	o.status = status
	res.Status = status
	res.Reason = reason
	res.Elapsed = time.Since(start)
	if f, ok := m.(interface{ MarkFitted() }); ok {
		f.MarkFitted()
	}
	if o.cfg.Verbose >= 1 {
		o.logger.Info("Training finished",
			"algorithm", o.alg.Name(),
			"status", status.String(),
			"reason", reason,
			"steps", res.Steps,
			"best_loss", res.BestLoss,
			"restarts", res.History.Restarts(),
			"unconverged_searches", res.History.UnconvergedSearches(),
			"elapsed", res.Elapsed,
		)
	}
	return res
}

func (o *Optimizer) record(m Model, ws []*mat.Dense, train, val *dataset.Dataset, step StepResult) Record {
	rec := Record{
		Loss:       step.Loss,
		Phi0:       step.Phi0,
		GradNorm:   step.GradNorm,
		Alpha:      step.Alpha,
		Restarted:  step.Restarted,
		Curvature:  step.Curvature,
		LineSearch: step.LineSearch,
	}
	out := m.Forward(ws, train.X)
	rec.TrainMSE = metrics.MSE(train.Y, out)
	rec.TrainLoss = metrics.MSEReg(train.Y, out, ws, m.Regularizers())
	rec.TrainAccuracy = metrics.Accuracy(train.Y, out)

	if val != nil && val.Len() > 0 {
		vout := m.Forward(ws, val.X)
		mse := metrics.MSE(val.Y, vout)
		acc := metrics.Accuracy(val.Y, vout)
		rec.ValMSE, rec.ValAccuracy = &mse, &acc
	}
	return rec
}

func (o *Optimizer) logStep(rec Record) {
	o.logger.Info("Step",
		"epoch", rec.Epoch,
		"batch", rec.Batch,
		"step", rec.Step,
		"loss", rec.Loss,
		"grad_norm", rec.GradNorm,
		"alpha", rec.Alpha,
		"ls_converged", rec.LineSearch.Converged,
		"ls_iterations", rec.LineSearch.Iterations,
		"zoom", rec.LineSearch.ZoomUsed,
		"curvature", rec.Curvature,
		"restarted", rec.Restarted,
	)
}
