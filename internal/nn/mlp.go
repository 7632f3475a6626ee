// Package nn provides the multi-layer perceptron trained by the optimizers.
//
// Each layer l holds a weight matrix of shape (inputs+1, units); the last row
// is the bias. Forward and Backpropagate take the weights explicitly so the
// optimizers can evaluate trial points without touching the model state.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mlpfit/internal/params"
	"gonum.org/v1/gonum/mat"
)

// LayerSpec describes one dense layer. It is JSON-serialisable so a model
// architecture can be stored next to its weights.
type LayerSpec struct {
	Inputs     int     `json:"inputs"`
	Units      int     `json:"units"`
	Activation string  `json:"activation"`
	KernelInit float64 `json:"kernelInit"`  // weights drawn uniformly from [-KernelInit, KernelInit]
	Lambda     float64 `json:"regularizer"` // L2 coefficient
}

// LayerOption customises a layer added with MLP.Add.
type LayerOption func(*LayerSpec)

// WithInput sets the input size. Required for the first layer only.
func WithInput(n int) LayerOption {
	return func(s *LayerSpec) { s.Inputs = n }
}

// WithKernelInit sets the half-width of the uniform weight initialiser.
func WithKernelInit(k float64) LayerOption {
	return func(s *LayerSpec) { s.KernelInit = k }
}

// WithRegularizer sets the layer's L2 coefficient.
func WithRegularizer(lambda float64) LayerOption {
	return func(s *LayerSpec) { s.Lambda = lambda }
}

// WithActivation sets the layer's activation by name.
func WithActivation(name string) LayerOption {
	return func(s *LayerSpec) { s.Activation = name }
}

// MLP is a fully connected feed-forward network.
type MLP struct {
	specs   []LayerSpec
	acts    []Activation
	weights []*mat.Dense
	fitted  bool
	rng     *rand.Rand
}

// NewMLP returns an empty network whose weights will be initialised from seed.
func NewMLP(seed int64) *MLP {
	return &MLP{rng: rand.New(rand.NewSource(seed))}
}

// FromSpecs builds a network with the given architecture.
func FromSpecs(specs []LayerSpec, seed int64) (*MLP, error) {
	m := NewMLP(seed)
	for i, s := range specs {
		opts := []LayerOption{
			WithKernelInit(s.KernelInit),
			WithRegularizer(s.Lambda),
			WithActivation(s.Activation),
		}
		if i == 0 {
			opts = append(opts, WithInput(s.Inputs))
		}
		if err := m.Add(s.Units, opts...); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return m, nil
}

// Add appends a dense layer with the given number of units.
func (m *MLP) Add(units int, opts ...LayerOption) error {
	if units <= 0 {
		return fmt.Errorf("units must be positive, got %d", units)
	}

	spec := LayerSpec{Units: units}
	if n := len(m.specs); n > 0 {
		spec.Inputs = m.specs[n-1].Units
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if n := len(m.specs); n > 0 && spec.Inputs != m.specs[n-1].Units {
		return fmt.Errorf("input size %d does not match previous layer units %d", spec.Inputs, m.specs[n-1].Units)
	}
	if spec.Inputs <= 0 {
		return errors.New("first layer needs a positive input size")
	}
	if spec.KernelInit <= 0 {
		spec.KernelInit = 1 / math.Sqrt(float64(spec.Inputs))
	}
	if spec.Lambda < 0 {
		return fmt.Errorf("regularizer must be non-negative, got %g", spec.Lambda)
	}

	act, err := ActivationByName(spec.Activation)
	if err != nil {
		return err
	}
	spec.Activation = act.Name()

	w := mat.NewDense(spec.Inputs+1, units, nil)
	w.Apply(func(_, _ int, _ float64) float64 {
		return (2*m.rng.Float64() - 1) * spec.KernelInit
	}, w)

	m.specs = append(m.specs, spec)
	m.acts = append(m.acts, act)
	m.weights = append(m.weights, w)
	return nil
}

// Specs returns the architecture.
func (m *MLP) Specs() []LayerSpec {
	return append([]LayerSpec(nil), m.specs...)
}

// Weights returns the live weight matrices.
func (m *MLP) Weights() []*mat.Dense {
	return m.weights
}

// Shapes returns the weight shape template.
func (m *MLP) Shapes() []params.Shape {
	return params.ShapesOf(m.weights)
}

// SetWeights replaces the weights. Shapes must match the architecture.
func (m *MLP) SetWeights(ws []*mat.Dense) error {
	if len(ws) != len(m.weights) {
		return fmt.Errorf("%w: got %d layers, model has %d", params.ErrShapeMismatch, len(ws), len(m.weights))
	}
	for i, w := range ws {
		r, c := w.Dims()
		wr, wc := m.weights[i].Dims()
		if r != wr || c != wc {
			return fmt.Errorf("%w: layer %d is %dx%d, want %dx%d", params.ErrShapeMismatch, i, r, c, wr, wc)
		}
	}
	m.weights = ws
	return nil
}

// Regularizers returns the per-layer L2 coefficients.
func (m *MLP) Regularizers() []float64 {
	l := make([]float64, len(m.specs))
	for i, s := range m.specs {
		l[i] = s.Lambda
	}
	return l
}

// Fitted reports whether the network has completed a training run.
func (m *MLP) Fitted() bool { return m.fitted }

// MarkFitted records that a training run finished.
func (m *MLP) MarkFitted() { m.fitted = true }

// InputSize is the number of features expected by the first layer.
func (m *MLP) InputSize() int {
	if len(m.specs) == 0 {
		return 0
	}
	return m.specs[0].Inputs
}

// OutputSize is the number of units of the last layer.
func (m *MLP) OutputSize() int {
	if len(m.specs) == 0 {
		return 0
	}
	return m.specs[len(m.specs)-1].Units
}

// Predict runs the network on X with its current weights.
func (m *MLP) Predict(x mat.Matrix) *mat.Dense {
	return m.Forward(m.weights, x)
}

// Forward runs the network on X with the given weights.
func (m *MLP) Forward(ws []*mat.Dense, x mat.Matrix) *mat.Dense {
	a := mat.DenseCopyOf(x)
	for l, w := range ws {
		a, _ = m.layerForward(l, w, a)
	}
	return a
}

// layerForward returns the activation and pre-activation of layer l.
func (m *MLP) layerForward(l int, w *mat.Dense, in *mat.Dense) (a, z *mat.Dense) {
	z = new(mat.Dense)
	z.Mul(withBias(in), w)
	act := m.acts[l]
	a = new(mat.Dense)
	a.Apply(func(_, _ int, v float64) float64 { return act.Apply(v) }, z)
	return a, z
}

// Backpropagate returns, per layer, the gradient of the summed squared error
// Σ‖ŷ−y‖² over all rows of X with respect to ws. Batch averaging and
// regularisation are applied by the caller.
func (m *MLP) Backpropagate(ws []*mat.Dense, x, y mat.Matrix) []*mat.Dense {
	n := len(ws)
	inputs := make([]*mat.Dense, n)
	acts := make([]*mat.Dense, n)
	pre := make([]*mat.Dense, n)

	a := mat.DenseCopyOf(x)
	for l, w := range ws {
		inputs[l] = a
		acts[l], pre[l] = m.layerForward(l, w, a)
		a = acts[l]
	}

	// dE/dA of the output layer.
	delta := new(mat.Dense)
	delta.Sub(acts[n-1], y)
	delta.Scale(2, delta)

	grads := make([]*mat.Dense, n)
	for l := n - 1; l >= 0; l-- {
		act := m.acts[l]
		z, out := pre[l], acts[l]
		delta.Apply(func(i, j int, v float64) float64 {
			return v * act.Derivative(z.At(i, j), out.At(i, j))
		}, delta)

		g := new(mat.Dense)
		g.Mul(withBias(inputs[l]).T(), delta)
		grads[l] = g

		if l > 0 {
			r, _ := ws[l].Dims()
			noBias := ws[l].Slice(0, r-1, 0, m.specs[l].Units)
			next := new(mat.Dense)
			next.Mul(delta, noBias.T())
			delta = next
		}
	}
	return grads
}

// withBias appends a column of ones to a.
func withBias(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c+1, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(a)
	for i := 0; i < r; i++ {
		out.Set(i, c, 1)
	}
	return out
}
