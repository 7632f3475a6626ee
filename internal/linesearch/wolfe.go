// Package linesearch implements an inexact line search that returns step
// lengths satisfying the strong Wolfe conditions.
//
// Given φ(α) = f(x + α·d) and φ'(α) = ∇f(x + α·d)·d, the accepted α* satisfies
//   - sufficient decrease: φ(α*) ≤ φ(0) + c1·α*·φ'(0)
//   - curvature:           |φ'(α*)| ≤ c2·|φ'(0)|
//
// The search first brackets an interval known to contain such a point by
// growing α geometrically, then shrinks the bracket ("zoom") using cubic or
// quadratic interpolation with a bisection fallback.
package linesearch

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Func is a scalar function of the step length.
type Func func(alpha float64) float64

var (
	// ErrNotDescent is returned when φ'(0) ≥ 0.
	ErrNotDescent = errors.New("linesearch: direction is not a descent direction")
	// ErrInvalidParameters is returned for constants outside 0 < c1 < c2 < 1
	// or non-positive iteration budgets.
	ErrInvalidParameters = errors.New("linesearch: invalid parameters")
)

const (
	defaultC1          = 1e-4
	defaultC2          = 0.9
	defaultMaxIter     = 10
	defaultZoomMaxIter = 10
	defaultAlphaMax    = 50.0

	// Safeguards keeping interpolated trials away from the bracket ends.
	cubicDelta = 0.2
	quadDelta  = 0.1
)

// Options configures a line search. Zero values select the defaults.
type Options struct {
	C1          float64 // Armijo constant, default 1e-4
	C2          float64 // curvature constant, default 0.9
	MaxIter     int     // bracketing iterations, default 10
	ZoomMaxIter int     // zoom iterations, default 10
	AlphaMax    float64 // largest trial step, default 50

	// Logger receives one Debug record per trial step when non-nil.
	Logger *slog.Logger
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		C1:          defaultC1,
		C2:          defaultC2,
		MaxIter:     defaultMaxIter,
		ZoomMaxIter: defaultZoomMaxIter,
		AlphaMax:    defaultAlphaMax,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.C1 == 0 {
		o.C1 = d.C1
	}
	if o.C2 == 0 {
		o.C2 = d.C2
	}
	if o.MaxIter == 0 {
		o.MaxIter = d.MaxIter
	}
	if o.ZoomMaxIter == 0 {
		o.ZoomMaxIter = d.ZoomMaxIter
	}
	if o.AlphaMax == 0 {
		o.AlphaMax = d.AlphaMax
	}
	return o
}

// Validate reports whether the options describe a well-posed search.
func (o Options) Validate() error {
	o = o.withDefaults()
	if !(0 < o.C1 && o.C1 < o.C2 && o.C2 < 1) {
		return fmt.Errorf("%w: need 0 < c1 < c2 < 1, got c1=%g c2=%g", ErrInvalidParameters, o.C1, o.C2)
	}
	if o.MaxIter < 1 || o.ZoomMaxIter < 1 {
		return fmt.Errorf("%w: iteration budgets must be positive", ErrInvalidParameters)
	}
	if !(o.AlphaMax > 0) {
		return fmt.Errorf("%w: alpha max must be positive, got %g", ErrInvalidParameters, o.AlphaMax)
	}
	return nil
}

// Problem is the one-dimensional merit function along a search direction.
type Problem struct {
	Phi    Func
	Derphi Func

	Phi0    float64 // φ(0)
	Derphi0 float64 // φ'(0), must be negative

	// OldPhi0 is φ(0) of the previous outer iteration. It seeds the first
	// trial step when HasOldPhi0 is set.
	OldPhi0    float64
	HasOldPhi0 bool
}

// Result carries the accepted step and the search diagnostics.
type Result struct {
	Alpha float64 `json:"alpha"`
	Phi   float64 `json:"phi"`

	Converged      bool          `json:"converged"`
	Iterations     int           `json:"iterations"`
	ZoomUsed       bool          `json:"zoomUsed"`
	ZoomConverged  bool          `json:"zoomConverged"`
	ZoomIterations int           `json:"zoomIterations"`
	Evaluations    int           `json:"evaluations"`
	Elapsed        time.Duration `json:"elapsed"`
}

// search holds the per-call state: the options, the problem and the best
// trial seen so far, used when the budget runs out.
type search struct {
	opts Options
	p    Problem
	res  *Result

	bestAlpha float64
	bestPhi   float64
}

// StrongWolfe searches for a step length satisfying the strong Wolfe
// conditions.
//
// A search that exhausts its iteration budget is not an error: the returned
// Result has Converged == false and Alpha is the trial with the lowest φ seen.
// Errors are reserved for ill-posed calls (non-descent direction, invalid
// options).
func StrongWolfe(p Problem, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()

	if !(p.Derphi0 < 0) {
		return Result{}, fmt.Errorf("%w: derphi(0) = %g", ErrNotDescent, p.Derphi0)
	}

	start := time.Now()
	res := Result{}
	s := &search{opts: opts, p: p, res: &res, bestPhi: math.Inf(1)}
	s.run()
	res.Elapsed = time.Since(start)
	return res, nil
}

func (s *search) phi(alpha float64, phase string) float64 {
	v := s.p.Phi(alpha)
	s.res.Evaluations++
	if v < s.bestPhi {
		s.bestAlpha, s.bestPhi = alpha, v
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Debug("line search trial", "phase", phase, "alpha", alpha, "phi", v)
	}
	return v
}

func (s *search) accept(alpha, phi float64) {
	s.res.Alpha = alpha
	s.res.Phi = phi
	s.res.Converged = true
}

func (s *search) fallback() {
	s.res.Converged = false
	s.res.Alpha = s.bestAlpha
	s.res.Phi = s.bestPhi
	if s.opts.Logger != nil {
		s.opts.Logger.Debug("line search did not converge, using best trial",
			"alpha", s.bestAlpha, "phi", s.bestPhi,
			"iterations", s.res.Iterations, "zoom_iterations", s.res.ZoomIterations)
	}
}

func (s *search) initialStep() float64 {
	alpha := 1.0
	if s.p.HasOldPhi0 && s.p.Derphi0 != 0 {
		guess := math.Min(1.0, 1.01*2*(s.p.Phi0-s.p.OldPhi0)/s.p.Derphi0)
		if guess > 0 && !math.IsNaN(guess) {
			alpha = guess
		}
	}
	return math.Min(alpha, s.opts.AlphaMax)
}

func (s *search) run() {
	phi0, derphi0 := s.p.Phi0, s.p.Derphi0
	c1, c2 := s.opts.C1, s.opts.C2

	alpha0, phiA0, derphiA0 := 0.0, phi0, derphi0
	alpha1 := s.initialStep()
	phiA1 := s.phi(alpha1, "bracket")

	for i := 0; i < s.opts.MaxIter; i++ {
		s.res.Iterations = i + 1
		if alpha1 <= 0 || alpha0 >= s.opts.AlphaMax {
			break
		}

		if phiA1 > phi0+c1*alpha1*derphi0 || (i > 0 && phiA1 >= phiA0) {
			s.zoom(alpha0, alpha1, phiA0, phiA1, derphiA0)
			return
		}

		derphiA1 := s.p.Derphi(alpha1)
		if math.Abs(derphiA1) <= -c2*derphi0 {
			s.accept(alpha1, phiA1)
			return
		}

		if derphiA1 >= 0 {
			s.zoom(alpha1, alpha0, phiA1, phiA0, derphiA1)
			return
		}

		alpha2 := math.Min(2*alpha1, s.opts.AlphaMax)
		alpha0, alpha1 = alpha1, alpha2
		phiA0, derphiA0 = phiA1, derphiA1
		phiA1 = s.phi(alpha1, "bracket")
	}

	s.fallback()
}

// zoom narrows the bracket [aLo, aHi] (in either order) until a point
// satisfying both conditions is found. aLo always has the lowest φ among the
// points that satisfy sufficient decrease.
func (s *search) zoom(aLo, aHi, phiLo, phiHi, derphiLo float64) {
	s.res.ZoomUsed = true
	phi0, derphi0 := s.p.Phi0, s.p.Derphi0
	c1, c2 := s.opts.C1, s.opts.C2

	// Previous value of aHi, kept for the cubic interpolant.
	aRec, phiRec := 0.0, phi0

	for j := 0; j < s.opts.ZoomMaxIter; j++ {
		s.res.ZoomIterations = j + 1

		dalpha := aHi - aLo
		a, b := aLo, aHi
		if dalpha < 0 {
			a, b = aHi, aLo
		}

		var aj float64
		ok := false
		if j > 0 {
			cchk := cubicDelta * math.Abs(dalpha)
			aj, ok = cubicMin(aLo, phiLo, derphiLo, aHi, phiHi, aRec, phiRec)
			ok = ok && aj <= b-cchk && aj >= a+cchk
		}
		if !ok {
			qchk := quadDelta * math.Abs(dalpha)
			aj, ok = quadMin(aLo, phiLo, derphiLo, aHi, phiHi)
			if !ok || aj > b-qchk || aj < a+qchk {
				aj = aLo + 0.5*dalpha
			}
		}

		phiJ := s.phi(aj, "zoom")
		if phiJ > phi0+c1*aj*derphi0 || phiJ >= phiLo {
			aRec, phiRec = aHi, phiHi
			aHi, phiHi = aj, phiJ
			continue
		}

		derphiJ := s.p.Derphi(aj)
		if math.Abs(derphiJ) <= -c2*derphi0 {
			s.res.ZoomConverged = true
			s.accept(aj, phiJ)
			return
		}

		if derphiJ*(aHi-aLo) >= 0 {
			aRec, phiRec = aHi, phiHi
			aHi, phiHi = aLo, phiLo
		} else {
			aRec, phiRec = aLo, phiLo
		}
		aLo, phiLo, derphiLo = aj, phiJ, derphiJ
	}

	s.fallback()
}

// cubicMin returns the minimiser of the cubic through (a, fa) with slope fpa
// at a, and through (b, fb) and (c, fc).
func cubicMin(a, fa, fpa, b, fb, c, fc float64) (float64, bool) {
	C := fpa
	db := b - a
	dc := c - a
	denom := (db * dc) * (db * dc) * (db - dc)
	if denom == 0 {
		return 0, false
	}

	r1 := fb - fa - C*db
	r2 := fc - fa - C*dc
	A := (dc*dc*r1 - db*db*r2) / denom
	B := (-dc*dc*dc*r1 + db*db*db*r2) / denom

	radical := B*B - 3*A*C
	if math.Abs(A) <= 1e-10*math.Max(1, math.Abs(B)) || radical < 0 {
		return 0, false
	}
	xmin := a + (-B+math.Sqrt(radical))/(3*A)
	if math.IsNaN(xmin) || math.IsInf(xmin, 0) {
		return 0, false
	}
	return xmin, true
}

// quadMin returns the minimiser of the parabola through (a, fa) with slope
// fpa at a, and through (b, fb).
func quadMin(a, fa, fpa, b, fb float64) (float64, bool) {
	db := b - a
	if db == 0 {
		return 0, false
	}
	B := (fb - fa - fpa*db) / (db * db)
	if B <= 0 {
		return 0, false
	}
	xmin := a - fpa/(2*B)
	if math.IsNaN(xmin) || math.IsInf(xmin, 0) {
		return 0, false
	}
	return xmin, true
}
