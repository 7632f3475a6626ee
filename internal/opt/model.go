package opt

import (
	"fmt"

	"github.com/cwbudde/mlpfit/internal/metrics"
	"github.com/cwbudde/mlpfit/internal/params"
	"gonum.org/v1/gonum/mat"
)

// Model is the network being trained. Forward and Backpropagate take the
// weights explicitly so trial points can be evaluated without changing the
// model.
type Model interface {
	Weights() []*mat.Dense
	SetWeights(ws []*mat.Dense) error
	Forward(ws []*mat.Dense, x mat.Matrix) *mat.Dense
	// Backpropagate returns the gradient of Σ‖ŷ−y‖² over all rows of x.
	Backpropagate(ws []*mat.Dense, x, y mat.Matrix) []*mat.Dense
	Regularizers() []float64
	// Fitted reports whether the weights come from an earlier run. It is
	// informational: Fit resets the algorithm buffers, so the first step is
	// always steepest descent whether or not the model was fitted.
	Fitted() bool
}

// batchObjective is the regularised MSE of a model on one batch.
type batchObjective struct {
	model   Model
	shapes  []params.Shape
	x, y    mat.Matrix
	n       float64
	lambdas []float64
}

func newBatchObjective(m Model, shapes []params.Shape, x, y mat.Matrix) *batchObjective {
	r, _ := x.Dims()
	return &batchObjective{model: m, shapes: shapes, x: x, y: y, n: float64(r), lambdas: m.Regularizers()}
}

// Loss returns MSE + Σ λ‖W‖² without backpropagating.
func (b *batchObjective) Loss(w []float64) (float64, error) {
	ws, err := params.Restore(b.shapes, w)
	if err != nil {
		return 0, err
	}
	return metrics.MSEReg(b.y, b.model.Forward(ws, b.x), ws, b.lambdas), nil
}

// Evaluate returns MSE + Σ λ‖W‖² and its gradient raw/N + 2λW.
func (b *batchObjective) Evaluate(w []float64) (float64, []float64, error) {
	ws, err := params.Restore(b.shapes, w)
	if err != nil {
		return 0, nil, err
	}

	loss := metrics.MSEReg(b.y, b.model.Forward(ws, b.x), ws, b.lambdas)

	grads := b.model.Backpropagate(ws, b.x, b.y)
	if err := sameShapes(b.shapes, grads); err != nil {
		return 0, nil, fmt.Errorf("gradient: %w", err)
	}
	for l, g := range grads {
		g.Scale(1/b.n, g)
		if l < len(b.lambdas) && b.lambdas[l] > 0 {
			g.Add(g, scaled(2*b.lambdas[l], ws[l]))
		}
	}

	grad, err := params.Flatten(grads)
	if err != nil {
		return 0, nil, err
	}
	return loss, grad, nil
}

func sameShapes(want []params.Shape, ws []*mat.Dense) error {
	got := params.ShapesOf(ws)
	if len(got) != len(want) {
		return &params.ShapeMismatchError{Want: params.TotalSize(want), Got: params.TotalSize(got)}
	}
	for i := range want {
		if got[i] != want[i] {
			return &params.ShapeMismatchError{Want: params.TotalSize(want), Got: params.TotalSize(got)}
		}
	}
	return nil
}

func scaled(f float64, a mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Scale(f, a)
	return &out
}
