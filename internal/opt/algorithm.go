package opt

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/mlpfit/internal/linesearch"
	"gonum.org/v1/gonum/floats"
)

// Objective evaluates the training loss and its gradient at a flat
// parameter vector.
type Objective interface {
	Evaluate(w []float64) (loss float64, grad []float64, err error)
}

// LossEvaluator is implemented by objectives that can compute the loss
// without a gradient.
type LossEvaluator interface {
	Loss(w []float64) (float64, error)
}

// lossAt returns the loss at w, skipping the gradient when obj allows it.
func lossAt(obj Objective, w []float64) (float64, error) {
	if le, ok := obj.(LossEvaluator); ok {
		return le.Loss(w)
	}
	loss, _, err := obj.Evaluate(w)
	return loss, err
}

// ObjectiveFunc adapts a plain function to Objective.
type ObjectiveFunc func(w []float64) (float64, []float64, error)

// Evaluate calls f(w).
func (f ObjectiveFunc) Evaluate(w []float64) (float64, []float64, error) { return f(w) }

// RunInfo is passed to Algorithm.Init at the start of every run.
type RunInfo struct {
	Dim int
	// Logger receives per-step diagnostics such as direction restarts. Nil
	// below step verbosity.
	Logger *slog.Logger
	// TrialLogger receives line-search trial records. Nil unless the run is
	// at the highest verbosity.
	TrialLogger *slog.Logger
}

// Algorithm computes one parameter update.
type Algorithm interface {
	Name() string
	// Init clears all buffers carried between steps.
	Init(info RunInfo)
	// Step returns the parameters after one update starting from x. x is
	// not modified.
	Step(obj Objective, x []float64) (StepResult, error)
}

// StepResult describes one accepted update.
type StepResult struct {
	X          []float64
	Phi0       float64 // loss at the start of the step
	Loss       float64 // loss at X
	GradNorm   float64 // gradient norm at the start of the step
	Alpha      float64
	LineSearch linesearch.Result
	Restarted  bool
	Curvature  float64 // sᵀy of the newest L-BFGS pair
}

// stationary is the result of a step taken at a point with zero gradient.
func stationary(x []float64, loss float64) StepResult {
	return StepResult{
		X:          append([]float64(nil), x...),
		Phi0:       loss,
		Loss:       loss,
		LineSearch: linesearch.Result{Converged: true, Phi: loss},
	}
}

// lineProblem evaluates the merit function φ(α) = f(x + α·d) and its
// derivative, sharing one objective evaluation between φ and φ' at the same α.
type lineProblem struct {
	obj  Objective
	x, d []float64

	xt     []float64
	alpha  float64
	loss   float64
	grad   []float64
	cached bool
	err    error
}

func newLineProblem(obj Objective, x, d []float64) *lineProblem {
	return &lineProblem{obj: obj, x: x, d: d, xt: make([]float64, len(x))}
}

func (lp *lineProblem) eval(alpha float64) {
	if lp.cached && lp.alpha == alpha {
		return
	}
	floats.AddScaledTo(lp.xt, lp.x, alpha, lp.d)
	loss, grad, err := lp.obj.Evaluate(lp.xt)
	if err != nil && lp.err == nil {
		lp.err = err
	}
	lp.alpha, lp.loss, lp.grad, lp.cached = alpha, loss, grad, err == nil
}

func (lp *lineProblem) phi(alpha float64) float64 {
	lp.eval(alpha)
	return lp.loss
}

func (lp *lineProblem) derphi(alpha float64) float64 {
	lp.eval(alpha)
	if lp.grad == nil {
		return 0
	}
	return floats.Dot(lp.grad, lp.d)
}

// search runs the strong Wolfe line search along d and returns the step
// result. g is the gradient at x.
func search(obj Objective, x, g, d []float64, phi0 float64, oldPhi0 *float64, opts linesearch.Options) (StepResult, error) {
	lp := newLineProblem(obj, x, d)
	p := linesearch.Problem{
		Phi:     lp.phi,
		Derphi:  lp.derphi,
		Phi0:    phi0,
		Derphi0: floats.Dot(g, d),
	}
	if oldPhi0 != nil {
		p.OldPhi0, p.HasOldPhi0 = *oldPhi0, true
	}

	res, err := linesearch.StrongWolfe(p, opts)
	if err != nil {
		return StepResult{}, err
	}
	if lp.err != nil {
		return StepResult{}, fmt.Errorf("evaluating line search trial: %w", lp.err)
	}

	x1 := make([]float64, len(x))
	floats.AddScaledTo(x1, x, res.Alpha, d)
	return StepResult{
		X:          x1,
		Phi0:       phi0,
		Loss:       res.Phi,
		GradNorm:   floats.Norm(g, 2),
		Alpha:      res.Alpha,
		LineSearch: res,
	}, nil
}
