package opt

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/mlpfit/internal/linesearch"
	"gonum.org/v1/gonum/floats"
)

// BetaMethod selects the conjugate gradient update formula.
type BetaMethod string

const (
	FletcherReeves  BetaMethod = "fr"
	PolakRibiere    BetaMethod = "pr"
	HestenesStiefel BetaMethod = "hs"
	DaiYuan         BetaMethod = "dy"
)

// ParseBetaMethod accepts the short names fr, pr, hs and dy.
func ParseBetaMethod(s string) (BetaMethod, error) {
	switch m := BetaMethod(s); m {
	case FletcherReeves, PolakRibiere, HestenesStiefel, DaiYuan:
		return m, nil
	case "":
		return PolakRibiere, nil
	default:
		return "", fmt.Errorf("%w: unknown beta method %q", ErrInvalidConfig, s)
	}
}

// beta returns the raw β for gradient g given the previous gradient and
// direction. A zero denominator yields 0.
func (m BetaMethod) beta(g, prevG, prevD []float64) float64 {
	var num, den float64
	switch m {
	case FletcherReeves:
		num = floats.Dot(g, g)
		den = floats.Dot(prevG, prevG)
	case HestenesStiefel:
		num = floats.Dot(g, g) - floats.Dot(g, prevG)
		den = floats.Dot(prevD, g) - floats.Dot(prevD, prevG)
	case DaiYuan:
		num = floats.Dot(g, g)
		den = floats.Dot(prevD, g) - floats.Dot(prevD, prevG)
	default:
		num = floats.Dot(g, g) - floats.Dot(g, prevG)
		den = floats.Dot(prevG, prevG)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// conjugate writes d = -g + β·prevD into dst and reports whether the result
// had to be reset to -g, either because β was negative or because the
// direction was not a descent direction.
func conjugate(dst []float64, m BetaMethod, g, prevG, prevD []float64) (beta float64, restarted bool) {
	beta = m.beta(g, prevG, prevD)
	if beta < 0 {
		beta, restarted = 0, true
	}
	floats.ScaleTo(dst, -1, g)
	if beta != 0 {
		floats.AddScaled(dst, beta, prevD)
	}
	if floats.Dot(dst, g) >= 0 {
		floats.ScaleTo(dst, -1, g)
		beta, restarted = 0, true
	}
	return beta, restarted
}

// NCG is nonlinear conjugate gradient with a strong Wolfe line search.
type NCG struct {
	Method     BetaMethod
	LineSearch linesearch.Options

	d, prevG, prevD []float64
	hasPrev         bool
	oldPhi0         *float64
	restarts        int
	logger          *slog.Logger
	stepLogger      *slog.Logger
}

// NewNCG returns a conjugate gradient algorithm using the given β formula.
func NewNCG(m BetaMethod) *NCG {
	return &NCG{Method: m}
}

func (c *NCG) Name() string { return "ncg-" + string(c.Method) }

func (c *NCG) Init(info RunInfo) {
	if c.Method == "" {
		c.Method = PolakRibiere
	}
	c.d = make([]float64, info.Dim)
	c.prevG = make([]float64, info.Dim)
	c.prevD = make([]float64, info.Dim)
	c.hasPrev = false
	c.oldPhi0 = nil
	c.restarts = 0
	c.logger = info.TrialLogger
	c.stepLogger = info.Logger
}

// Restarts returns the number of direction resets since Init.
func (c *NCG) Restarts() int { return c.restarts }

func (c *NCG) Step(obj Objective, x []float64) (StepResult, error) {
	if c.d == nil {
		c.Init(RunInfo{Dim: len(x)})
	}

	phi0, g, err := obj.Evaluate(x)
	if err != nil {
		return StepResult{}, err
	}
	if floats.Norm(g, 2) == 0 {
		c.hasPrev = false
		return stationary(x, phi0), nil
	}

	restarted := false
	if c.hasPrev {
		var beta float64
		beta, restarted = conjugate(c.d, c.Method, g, c.prevG, c.prevD)
		if restarted {
			c.restarts++
			if c.stepLogger != nil {
				c.stepLogger.Debug("Conjugate gradient restart", "method", string(c.Method), "beta", beta, "restarts", c.restarts)
			}
		}
	} else {
		floats.ScaleTo(c.d, -1, g)
	}

	opts := c.LineSearch
	opts.Logger = c.logger
	res, err := search(obj, x, g, c.d, phi0, c.oldPhi0, opts)
	if err != nil {
		return StepResult{}, err
	}
	res.Restarted = restarted

	copy(c.prevG, g)
	copy(c.prevD, c.d)
	c.hasPrev = true
	c.oldPhi0 = &phi0
	return res, nil
}
