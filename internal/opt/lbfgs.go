package opt

import (
	"log/slog"

	"github.com/cwbudde/mlpfit/internal/linesearch"
	"gonum.org/v1/gonum/floats"
)

// DefaultCurvatureEps is the smallest sᵀy accepted for a curvature pair.
const DefaultCurvatureEps = 1e-12

// window is a fixed-capacity ring of curvature pairs. Pushing into a full
// window overwrites the oldest pair.
type window struct {
	s, y [][]float64
	rho  []float64
	head int // index of the oldest pair
	n    int
}

func newWindow(m, dim int) *window {
	w := &window{
		s:   make([][]float64, m),
		y:   make([][]float64, m),
		rho: make([]float64, m),
	}
	for i := range w.s {
		w.s[i] = make([]float64, dim)
		w.y[i] = make([]float64, dim)
	}
	return w
}

func (w *window) Len() int { return w.n }

func (w *window) Cap() int { return len(w.s) }

// Push copies s and y into the window.
func (w *window) Push(s, y []float64) {
	m := len(w.s)
	var i int
	if w.n < m {
		i = (w.head + w.n) % m
		w.n++
	} else {
		i = w.head
		w.head = (w.head + 1) % m
	}
	copy(w.s[i], s)
	copy(w.y[i], y)
	w.rho[i] = 1 / floats.Dot(y, s)
}

// at returns the k-th pair, 0 being the oldest.
func (w *window) at(k int) (s, y []float64, rho float64) {
	i := (w.head + k) % len(w.s)
	return w.s[i], w.y[i], w.rho[i]
}

func (w *window) Reset() {
	w.head, w.n = 0, 0
}

// direction returns -H·g using the two-loop recursion. With an empty window
// the result is -g.
func (w *window) direction(dst, g []float64, alpha []float64) {
	copy(dst, g)
	if w.n == 0 {
		floats.Scale(-1, dst)
		return
	}

	for k := w.n - 1; k >= 0; k-- {
		s, y, rho := w.at(k)
		alpha[k] = rho * floats.Dot(s, dst)
		floats.AddScaled(dst, -alpha[k], y)
	}

	s, y, _ := w.at(w.n - 1)
	floats.Scale(floats.Dot(s, y)/floats.Dot(y, y), dst)

	for k := 0; k < w.n; k++ {
		s, y, rho := w.at(k)
		beta := rho * floats.Dot(y, dst)
		floats.AddScaled(dst, alpha[k]-beta, s)
	}
	floats.Scale(-1, dst)
}

// LBFGS is the limited-memory BFGS method with a strong Wolfe line search.
type LBFGS struct {
	// Store is the number of curvature pairs kept, default 3.
	Store int
	// CurvatureEps is the smallest accepted sᵀy, default 1e-12.
	CurvatureEps float64
	LineSearch   linesearch.Options

	win     *window
	alpha   []float64
	s, y    []float64
	d       []float64
	prevX   []float64
	prevG   []float64
	hasPrev bool
	oldPhi0 *float64
	steps   int
	logger  *slog.Logger
}

// NewLBFGS returns an L-BFGS algorithm keeping m curvature pairs.
func NewLBFGS(m int) *LBFGS {
	return &LBFGS{Store: m}
}

func (l *LBFGS) Name() string { return "lbfgs" }

func (l *LBFGS) Init(info RunInfo) {
	if l.Store <= 0 {
		l.Store = 3
	}
	if l.CurvatureEps <= 0 {
		l.CurvatureEps = DefaultCurvatureEps
	}
	l.win = newWindow(l.Store, info.Dim)
	l.alpha = make([]float64, l.Store)
	l.s = make([]float64, info.Dim)
	l.y = make([]float64, info.Dim)
	l.d = make([]float64, info.Dim)
	l.prevX = make([]float64, info.Dim)
	l.prevG = make([]float64, info.Dim)
	l.hasPrev = false
	l.oldPhi0 = nil
	l.steps = 0
	l.logger = info.TrialLogger
}

func (l *LBFGS) Step(obj Objective, x []float64) (StepResult, error) {
	if l.win == nil {
		l.Init(RunInfo{Dim: len(x)})
	}
	l.steps++

	phi0, g, err := obj.Evaluate(x)
	if err != nil {
		return StepResult{}, err
	}

	var sy float64
	if l.hasPrev {
		floats.SubTo(l.s, x, l.prevX)
		floats.SubTo(l.y, g, l.prevG)
		sy = floats.Dot(l.s, l.y)
		if !(sy > l.CurvatureEps) {
			return StepResult{}, &CurvatureError{Step: l.steps, SY: sy, Eps: l.CurvatureEps}
		}
		l.win.Push(l.s, l.y)
	}

	if floats.Norm(g, 2) == 0 {
		l.hasPrev = false
		return stationary(x, phi0), nil
	}

	l.win.direction(l.d, g, l.alpha)

	opts := l.LineSearch
	opts.Logger = l.logger
	res, err := search(obj, x, g, l.d, phi0, l.oldPhi0, opts)
	if err != nil {
		return StepResult{}, err
	}
	res.Curvature = sy

	copy(l.prevX, x)
	copy(l.prevG, g)
	l.hasPrev = true
	l.oldPhi0 = &phi0
	return res, nil
}
