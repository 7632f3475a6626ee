package opt

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linearModel predicts X·W with a single layer and no bias.
type linearModel struct {
	ws     []*mat.Dense
	lambda []float64
	fitted bool
}

func newLinearModel(w *mat.Dense) *linearModel {
	return &linearModel{ws: []*mat.Dense{w}}
}

func (m *linearModel) Weights() []*mat.Dense { return m.ws }

func (m *linearModel) SetWeights(ws []*mat.Dense) error {
	m.ws = ws
	return nil
}

func (m *linearModel) Forward(ws []*mat.Dense, x mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(x, ws[0])
	return &out
}

func (m *linearModel) Backpropagate(ws []*mat.Dense, x, y mat.Matrix) []*mat.Dense {
	var r mat.Dense
	r.Mul(x, ws[0])
	r.Sub(&r, y)
	r.Scale(2, &r)
	var g mat.Dense
	g.Mul(x.T(), &r)
	return []*mat.Dense{&g}
}

func (m *linearModel) Regularizers() []float64 { return m.lambda }
func (m *linearModel) Fitted() bool            { return m.fitted }
func (m *linearModel) MarkFitted()             { m.fitted = true }

// quadratic returns f(x) = Σ c_i x_i² as an Objective.
func quadratic(c ...float64) Objective {
	return ObjectiveFunc(func(x []float64) (float64, []float64, error) {
		f := 0.0
		g := make([]float64, len(x))
		for i, v := range x {
			f += c[i] * v * v
			g[i] = 2 * c[i] * v
		}
		return f, g, nil
	})
}

// linear returns f(x) = -x_0, which has a constant gradient.
func linear() Objective {
	return ObjectiveFunc(func(x []float64) (float64, []float64, error) {
		g := make([]float64, len(x))
		g[0] = -1
		return -x[0], g, nil
	})
}

// countingObjective counts gradient and loss-only evaluations.
type countingObjective struct {
	Objective
	evals, losses int
}

func (c *countingObjective) Evaluate(w []float64) (float64, []float64, error) {
	c.evals++
	return c.Objective.Evaluate(w)
}

func (c *countingObjective) Loss(w []float64) (float64, error) {
	c.losses++
	f, _, err := c.Objective.Evaluate(w)
	return f, err
}

func norm(x []float64) float64 { return floats.Norm(x, 2) }
