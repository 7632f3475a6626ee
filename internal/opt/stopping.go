package opt

import (
	"log/slog"
	"math"
)

// stopTracker detects when the loss has stopped improving by at least tol
// for patience consecutive steps.
type stopTracker struct {
	tol        float64
	patience   int
	best       float64
	staleCount int
	seeded     bool
	logger     *slog.Logger
}

func newStopTracker(tol float64, patience int) *stopTracker {
	if patience < 1 {
		patience = 1
	}
	return &stopTracker{tol: tol, patience: patience, best: math.Inf(1)}
}

// Seed sets the reference loss before the first step.
func (t *stopTracker) Seed(loss float64) {
	if !t.seeded {
		t.best = loss
		t.seeded = true
	}
}

// Update records the loss after a step and reports whether the run has
// converged. A non-positive tolerance never converges.
func (t *stopTracker) Update(loss float64) bool {
	if t.tol <= 0 {
		return false
	}
	t.seeded = true

	improvement := t.best - loss
	if loss < t.best {
		t.best = loss
	}

	if improvement >= t.tol {
		t.staleCount = 0
		return false
	}

	t.staleCount++
	if t.logger != nil {
		t.logger.Debug("No significant loss improvement",
			"loss", loss,
			"best", t.best,
			"improvement", improvement,
			"stale_count", t.staleCount,
			"patience", t.patience,
		)
	}
	return t.staleCount >= t.patience
}

func (t *stopTracker) StaleCount() int { return t.staleCount }

func (t *stopTracker) Best() float64 { return t.best }
