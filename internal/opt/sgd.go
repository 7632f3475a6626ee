package opt

import (
	"fmt"

	"github.com/cwbudde/mlpfit/internal/linesearch"
	"gonum.org/v1/gonum/floats"
)

// SGD is gradient descent with optional momentum and Nesterov lookahead.
// It takes a fixed step and does not use the line search.
type SGD struct {
	LearningRate float64
	Momentum     float64
	Nesterov     bool

	v, xt []float64
}

// NewSGD returns plain gradient descent with the given learning rate.
func NewSGD(eta float64) *SGD {
	return &SGD{LearningRate: eta}
}

func (s *SGD) Name() string {
	if s.Nesterov {
		return "sgd-nesterov"
	}
	return "sgd"
}

// Validate checks the hyper-parameters.
func (s *SGD) Validate() error {
	if !(s.LearningRate > 0) {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, s.LearningRate)
	}
	if s.Momentum < 0 || s.Momentum >= 1 {
		return fmt.Errorf("%w: momentum must be in [0, 1), got %g", ErrInvalidConfig, s.Momentum)
	}
	return nil
}

func (s *SGD) Init(info RunInfo) {
	s.v = make([]float64, info.Dim)
	s.xt = make([]float64, info.Dim)
}

func (s *SGD) Step(obj Objective, x []float64) (StepResult, error) {
	if s.v == nil {
		s.Init(RunInfo{Dim: len(x)})
	}

	phi0, g, err := obj.Evaluate(x)
	if err != nil {
		return StepResult{}, err
	}
	if s.Nesterov && s.Momentum > 0 {
		floats.AddScaledTo(s.xt, x, s.Momentum, s.v)
		if _, g, err = obj.Evaluate(s.xt); err != nil {
			return StepResult{}, err
		}
	}

	floats.Scale(s.Momentum, s.v)
	floats.AddScaled(s.v, -s.LearningRate, g)

	x1 := make([]float64, len(x))
	floats.AddTo(x1, x, s.v)
	loss, err := lossAt(obj, x1)
	if err != nil {
		return StepResult{}, err
	}

	return StepResult{
		X:          x1,
		Phi0:       phi0,
		Loss:       loss,
		GradNorm:   floats.Norm(g, 2),
		Alpha:      s.LearningRate,
		LineSearch: linesearch.Result{Alpha: s.LearningRate, Phi: loss, Converged: true},
	}, nil
}
