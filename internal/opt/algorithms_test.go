package opt

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLBFGSFirstStepIsSteepestDescent(t *testing.T) {
	obj := quadratic(1, 10)
	x := []float64{1, 1}
	_, g, _ := obj.Evaluate(x)

	l := NewLBFGS(3)
	l.Init(RunInfo{Dim: 2})
	res, err := l.Step(obj, x)
	require.NoError(t, err)
	require.Greater(t, res.Alpha, 0.0)

	for i := range x {
		assert.InDelta(t, -g[i], (res.X[i]-x[i])/res.Alpha, 1e-9)
	}
	assert.Equal(t, []float64{1, 1}, x, "input must not be modified")
}

func TestWindowEmptyDirectionIsNegativeGradient(t *testing.T) {
	w := newWindow(3, 3)
	d := make([]float64, 3)
	w.direction(d, []float64{1, -2, 0.5}, make([]float64, 3))
	assert.Equal(t, []float64{-1, 2, -0.5}, d)
}

func TestTwoLoopSinglePair(t *testing.T) {
	// s = [1 0], y = [2 0]: ρ = 1/2 and H0 = sᵀy/yᵀy = 1/2.
	w := newWindow(3, 2)
	w.Push([]float64{1, 0}, []float64{2, 0})

	d := make([]float64, 2)
	w.direction(d, []float64{1, 1}, make([]float64, 3))
	assert.InDeltaSlice(t, []float64{-0.5, -0.5}, d, 1e-15)
}

func TestWindowEvictsOldest(t *testing.T) {
	w := newWindow(2, 1)
	for k := 1.0; k <= 3; k++ {
		w.Push([]float64{k}, []float64{k})
	}
	require.Equal(t, 2, w.Len())
	assert.Equal(t, 2, w.Cap())

	s, _, _ := w.at(0)
	assert.Equal(t, 2.0, s[0])
	s, y, rho := w.at(1)
	assert.Equal(t, 3.0, s[0])
	assert.Equal(t, 3.0, y[0])
	assert.InDelta(t, 1.0/9, rho, 1e-15)

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestWindowCopiesPairs(t *testing.T) {
	w := newWindow(1, 2)
	s, y := []float64{1, 2}, []float64{3, 4}
	w.Push(s, y)
	s[0], y[0] = 100, 100

	gotS, gotY, _ := w.at(0)
	assert.Equal(t, []float64{1, 2}, gotS)
	assert.Equal(t, []float64{3, 4}, gotY)
}

func TestLBFGSNegativeCurvatureIsFatal(t *testing.T) {
	l := NewLBFGS(3)
	l.Init(RunInfo{Dim: 2})

	res, err := l.Step(linear(), []float64{0, 0})
	require.NoError(t, err)
	assert.False(t, res.LineSearch.Converged, "a linear merit never meets the curvature condition")

	_, err = l.Step(linear(), res.X)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNegativeCurvature)

	var ce *CurvatureError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Step)
	assert.Equal(t, 0.0, ce.SY)
	assert.Equal(t, DefaultCurvatureEps, ce.Eps)
}

func TestLBFGSConvergesOnQuadratic(t *testing.T) {
	obj := quadratic(1, 10)
	l := NewLBFGS(3)
	l.Init(RunInfo{Dim: 2})

	x := []float64{3, -2}
	converged := false
	for i := 0; i < 50; i++ {
		res, err := l.Step(obj, x)
		require.NoError(t, err, "step %d", i+1)
		assert.LessOrEqual(t, res.Loss, res.Phi0)
		x = res.X
		if norm(x) < 1e-5 {
			converged = true
			break
		}
	}
	assert.True(t, converged, "final x = %v", x)
}

func TestLBFGSStationaryPoint(t *testing.T) {
	l := NewLBFGS(3)
	l.Init(RunInfo{Dim: 2})

	for i := 0; i < 3; i++ {
		res, err := l.Step(quadratic(1, 1), []float64{0, 0})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, res.X)
		assert.Equal(t, 0.0, res.GradNorm)
	}
}

func TestConjugateBetaVariants(t *testing.T) {
	g := []float64{0, 1}
	prevG := []float64{1, 0}
	prevD := []float64{-1, 0}

	for _, m := range []BetaMethod{FletcherReeves, PolakRibiere, HestenesStiefel, DaiYuan} {
		t.Run(string(m), func(t *testing.T) {
			d := make([]float64, 2)
			beta, restarted := conjugate(d, m, g, prevG, prevD)
			assert.False(t, restarted)
			assert.InDelta(t, 1, beta, 1e-15)
			assert.Equal(t, []float64{-1, -1}, d)
		})
	}
}

func TestConjugateRestartsOnNonDescent(t *testing.T) {
	// β_FR = 100 turns d uphill.
	d := make([]float64, 2)
	beta, restarted := conjugate(d, FletcherReeves, []float64{1, 0}, []float64{0.1, 0}, []float64{1, 0})
	assert.True(t, restarted)
	assert.Equal(t, 0.0, beta)
	assert.Equal(t, []float64{-1, 0}, d)
}

func TestNCGLogsRestartToRunLogger(t *testing.T) {
	step := func(logger *slog.Logger) *NCG {
		c := NewNCG(FletcherReeves)
		c.Init(RunInfo{Dim: 2, Logger: logger})
		// g = (-1, 0) at x, so β_FR = 100 and the previous direction turns d uphill.
		c.hasPrev = true
		copy(c.prevG, []float64{0.1, 0})
		copy(c.prevD, []float64{-1, 0})
		_, err := c.Step(quadratic(1, 1), []float64{-0.5, 0})
		require.NoError(t, err)
		return c
	}

	var buf bytes.Buffer
	c := step(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).With("job_id", "j1"))
	assert.Equal(t, 1, c.Restarts())
	assert.Contains(t, buf.String(), "Conjugate gradient restart")
	assert.Contains(t, buf.String(), "job_id=j1")

	assert.Equal(t, 1, step(nil).Restarts())
}

func TestConjugateClampsNegativeBeta(t *testing.T) {
	// β_PR = gᵀ(g-g⁻)/‖g⁻‖² = -1/4.
	d := make([]float64, 2)
	beta, restarted := conjugate(d, PolakRibiere, []float64{1, 0}, []float64{2, 0}, []float64{-2, 0})
	assert.True(t, restarted)
	assert.Equal(t, 0.0, beta)
	assert.Equal(t, []float64{-1, 0}, d)
}

func TestParseBetaMethod(t *testing.T) {
	m, err := ParseBetaMethod("")
	require.NoError(t, err)
	assert.Equal(t, PolakRibiere, m)

	m, err = ParseBetaMethod("dy")
	require.NoError(t, err)
	assert.Equal(t, DaiYuan, m)

	_, err = ParseBetaMethod("cd")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNCGConvergesOnQuadratic(t *testing.T) {
	for _, m := range []BetaMethod{FletcherReeves, PolakRibiere, HestenesStiefel, DaiYuan} {
		t.Run(string(m), func(t *testing.T) {
			obj := quadratic(1, 10)
			c := NewNCG(m)
			c.Init(RunInfo{Dim: 2})

			x := []float64{3, -2}
			for i := 0; i < 200 && norm(x) >= 1e-4; i++ {
				res, err := c.Step(obj, x)
				require.NoError(t, err)
				x = res.X
			}
			assert.Less(t, norm(x), 1e-4)
			assert.GreaterOrEqual(t, c.Restarts(), 0)
		})
	}
}

func TestSGDMomentum(t *testing.T) {
	obj := quadratic(1, 1)

	s := NewSGD(0.1)
	require.NoError(t, s.Validate())
	s.Init(RunInfo{Dim: 2})
	res, err := s.Step(obj, []float64{1, -2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, -1.6}, res.X, 1e-15)
	assert.Equal(t, 0.1, res.Alpha)
	assert.True(t, res.LineSearch.Converged)
	assert.InDelta(t, 5.0, res.Phi0, 1e-15)
	assert.InDelta(t, 0.64+2.56, res.Loss, 1e-12)

	n := &SGD{LearningRate: 0.1, Momentum: 0.5, Nesterov: true}
	n.Init(RunInfo{Dim: 2})
	x := []float64{1, -2}
	for i := 0; i < 2; i++ {
		res, err = n.Step(obj, x)
		require.NoError(t, err)
		x = res.X
	}
	// v1 = -0.2x, lookahead 0.7x, v2 = 0.5·v1 - 0.1·1.4x = -0.24x.
	assert.InDeltaSlice(t, []float64{0.56, -1.12}, x, 1e-12)
}

func TestSGDLossSkipsGradient(t *testing.T) {
	obj := &countingObjective{Objective: quadratic(1, 1)}
	s := NewSGD(0.1)
	s.Init(RunInfo{Dim: 2})

	res, err := s.Step(obj, []float64{1, -2})
	require.NoError(t, err)
	assert.Equal(t, 1, obj.evals)
	assert.Equal(t, 1, obj.losses)
	assert.InDelta(t, 0.64+2.56, res.Loss, 1e-12)

	n := &SGD{LearningRate: 0.1, Momentum: 0.5, Nesterov: true}
	n.Init(RunInfo{Dim: 2})
	obj = &countingObjective{Objective: quadratic(1, 1)}
	_, err = n.Step(obj, []float64{1, -2})
	require.NoError(t, err)
	assert.Equal(t, 2, obj.evals, "Nesterov evaluates the gradient at the lookahead point")
	assert.Equal(t, 1, obj.losses)
}

func TestSGDValidate(t *testing.T) {
	assert.ErrorIs(t, (&SGD{}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&SGD{LearningRate: 0.1, Momentum: 1}).Validate(), ErrInvalidConfig)
	assert.NoError(t, (&SGD{LearningRate: 0.1, Momentum: 0.9}).Validate())
}

func TestStopTracker(t *testing.T) {
	tr := newStopTracker(0.1, 2)
	tr.Seed(10)
	assert.False(t, tr.Update(5))
	assert.False(t, tr.Update(4.95))
	assert.Equal(t, 1, tr.StaleCount())
	assert.True(t, tr.Update(4.94))
	assert.Equal(t, 4.94, tr.Best())

	off := newStopTracker(0, 1)
	off.Seed(1)
	for i := 0; i < 5; i++ {
		assert.False(t, off.Update(1))
	}
}
