package nn

import (
	"fmt"
	"math"
)

// Activation is an element-wise transfer function. Derivative receives the
// pre-activation z and the activation value a = Apply(z), so implementations
// can use whichever is cheaper.
type Activation interface {
	Name() string
	Apply(z float64) float64
	Derivative(z, a float64) float64
}

// Sigmoid is the logistic function.
type Sigmoid struct{}

func (Sigmoid) Name() string                    { return "sigmoid" }
func (Sigmoid) Apply(z float64) float64         { return 1 / (1 + math.Exp(-z)) }
func (Sigmoid) Derivative(_, a float64) float64 { return a * (1 - a) }

// Tanh is the hyperbolic tangent.
type Tanh struct{}

func (Tanh) Name() string                    { return "tanh" }
func (Tanh) Apply(z float64) float64         { return math.Tanh(z) }
func (Tanh) Derivative(_, a float64) float64 { return 1 - a*a }

// ReLU is max(0, z).
type ReLU struct{}

func (ReLU) Name() string { return "relu" }

func (ReLU) Apply(z float64) float64 {
	if z > 0 {
		return z
	}
	return 0
}

func (ReLU) Derivative(z, _ float64) float64 {
	if z > 0 {
		return 1
	}
	return 0
}

// Linear is the identity.
type Linear struct{}

func (Linear) Name() string                    { return "linear" }
func (Linear) Apply(z float64) float64         { return z }
func (Linear) Derivative(_, _ float64) float64 { return 1 }

// ActivationByName resolves the names used in configuration files.
func ActivationByName(name string) (Activation, error) {
	switch name {
	case "", "sigmoid":
		return Sigmoid{}, nil
	case "tanh":
		return Tanh{}, nil
	case "relu":
		return ReLU{}, nil
	case "linear", "identity":
		return Linear{}, nil
	default:
		return nil, fmt.Errorf("unknown activation: %s", name)
	}
}
