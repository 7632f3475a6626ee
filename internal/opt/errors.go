package opt

import (
	"errors"
	"fmt"
)

// ErrNegativeCurvature is matched by every *CurvatureError.
var ErrNegativeCurvature = &CurvatureError{}

// CurvatureError is returned by L-BFGS when the newest curvature pair fails
// sᵀy > eps. The run cannot continue.
type CurvatureError struct {
	Step int
	SY   float64
	Eps  float64
}

func (e *CurvatureError) Error() string {
	if e.Eps == 0 && e.SY == 0 && e.Step == 0 {
		return "non-positive curvature"
	}
	return fmt.Sprintf("non-positive curvature at step %d: sᵀy = %g <= %g", e.Step, e.SY, e.Eps)
}

// Is makes errors.Is(err, ErrNegativeCurvature) match any CurvatureError.
func (e *CurvatureError) Is(target error) bool {
	_, ok := target.(*CurvatureError)
	return ok
}

// ErrNonFinite is returned when the loss or gradient becomes NaN or infinite.
var ErrNonFinite = errors.New("loss is not finite")

// ErrInvalidConfig is wrapped by configuration validation errors.
var ErrInvalidConfig = errors.New("invalid optimizer configuration")
