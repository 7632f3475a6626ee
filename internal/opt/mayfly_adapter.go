package opt

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
	"github.com/cwbudde/mlpfit/internal/dataset"
	"github.com/cwbudde/mlpfit/internal/metrics"
	"github.com/cwbudde/mlpfit/internal/params"
)

// MayflyWarmStart searches for initial weights with the derivative-free
// Mayfly algorithm before gradient training starts.
type MayflyWarmStart struct {
	Iterations int
	Population int     // at least 20
	Bound      float64 // weights are searched in [-Bound, Bound], default 1
	Seed       int64
}

// Validate checks the search parameters.
func (w MayflyWarmStart) Validate() error {
	if w.Iterations < 1 {
		return fmt.Errorf("%w: warm start iterations must be positive, got %d", ErrInvalidConfig, w.Iterations)
	}
	// mayfly v0.1.0 needs at least 20 individuals.
	if w.Population < 20 {
		return fmt.Errorf("%w: warm start population must be at least 20, got %d", ErrInvalidConfig, w.Population)
	}
	if w.Bound < 0 {
		return fmt.Errorf("%w: warm start bound must be non-negative, got %g", ErrInvalidConfig, w.Bound)
	}
	return nil
}

// Apply runs the search on the full dataset and installs the best weights
// found when they beat the model's current loss. It returns the loss before
// and after.
func (w MayflyWarmStart) Apply(m Model, data *dataset.Dataset) (before, after float64, err error) {
	if err := w.Validate(); err != nil {
		return 0, 0, err
	}

	shapes := params.ShapesOf(m.Weights())
	lambdas := m.Regularizers()
	loss := func(v []float64) float64 {
		ws, err := params.Restore(shapes, v)
		if err != nil {
			return 1e300
		}
		return metrics.MSEReg(data.Y, m.Forward(ws, data.X), ws, lambdas)
	}

	x0, err := params.Flatten(m.Weights())
	if err != nil {
		return 0, 0, err
	}
	before = loss(x0)

	best, cost, err := w.search(loss, len(x0))
	if err != nil {
		return before, before, fmt.Errorf("mayfly warm start: %w", err)
	}
	if cost >= before {
		slog.Debug("Warm start kept initial weights", "initial_loss", before, "mayfly_loss", cost)
		return before, before, nil
	}

	ws, err := params.Restore(shapes, best)
	if err != nil {
		return before, before, err
	}
	if err := m.SetWeights(ws); err != nil {
		return before, before, err
	}
	slog.Info("Warm start applied", "initial_loss", before, "loss", cost, "iterations", w.Iterations)
	return before, cost, nil
}

// search minimises f over [-Bound, Bound]^dim.
func (w MayflyWarmStart) search(f func([]float64) float64, dim int) ([]float64, float64, error) {
	bound := w.Bound
	if bound == 0 {
		bound = 1
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = f
	config.ProblemSize = dim
	config.MaxIterations = w.Iterations
	config.NPop = w.Population
	config.LowerBound = -bound
	config.UpperBound = bound
	config.Rand = rand.New(rand.NewSource(w.Seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, err
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
