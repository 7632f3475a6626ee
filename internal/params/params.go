// Package params converts between per-layer weight matrices and the flat
// parameter vector the optimizers work on.
package params

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Shape is the (rows, cols) layout of one layer's weight matrix.
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Size returns the number of elements of a matrix with this shape.
func (s Shape) Size() int {
	return s.Rows * s.Cols
}

// ErrShapeMismatch is returned when a flat vector does not fit a shape template.
// Use errors.Is(err, ErrShapeMismatch) to check for it.
var ErrShapeMismatch = &ShapeMismatchError{}

// ShapeMismatchError reports a vector whose length differs from the total
// element count of the template it is restored into.
type ShapeMismatchError struct {
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	if e.Want == 0 && e.Got == 0 {
		return "shape mismatch"
	}
	return fmt.Sprintf("shape mismatch: template holds %d elements, vector has %d", e.Want, e.Got)
}

func (e *ShapeMismatchError) Is(target error) bool {
	_, ok := target.(*ShapeMismatchError)
	return ok
}

// ErrEmptyLayer is returned by Flatten for a nil or zero-sized layer.
var ErrEmptyLayer = errors.New("empty layer matrix")

// ShapesOf returns the shape template of the given layers.
func ShapesOf(ws []*mat.Dense) []Shape {
	shapes := make([]Shape, len(ws))
	for i, w := range ws {
		if w == nil || w.IsEmpty() {
			continue
		}
		r, c := w.Dims()
		shapes[i] = Shape{Rows: r, Cols: c}
	}
	return shapes
}

// TotalSize is the length of the vector described by shapes.
func TotalSize(shapes []Shape) int {
	n := 0
	for _, s := range shapes {
		n += s.Size()
	}
	return n
}

// Flatten concatenates all layers in order, row-major within a layer.
// The result never aliases the input matrices.
func Flatten(ws []*mat.Dense) ([]float64, error) {
	n := 0
	for i, w := range ws {
		if w == nil || w.IsEmpty() {
			return nil, fmt.Errorf("layer %d: %w", i, ErrEmptyLayer)
		}
		r, c := w.Dims()
		n += r * c
	}

	v := make([]float64, 0, n)
	for _, w := range ws {
		r, c := w.Dims()
		for i := 0; i < r; i++ {
			v = append(v, w.RawRowView(i)[:c]...)
		}
	}
	return v, nil
}

// Restore slices v back into matrices matching shapes. The matrices own
// fresh storage, so later writes to v do not leak into them.
func Restore(shapes []Shape, v []float64) ([]*mat.Dense, error) {
	want := TotalSize(shapes)
	if len(v) != want {
		return nil, &ShapeMismatchError{Want: want, Got: len(v)}
	}

	ws := make([]*mat.Dense, len(shapes))
	offset := 0
	for i, s := range shapes {
		if s.Rows <= 0 || s.Cols <= 0 {
			return nil, fmt.Errorf("layer %d: %w", i, ErrEmptyLayer)
		}
		data := make([]float64, s.Size())
		copy(data, v[offset:offset+s.Size()])
		ws[i] = mat.NewDense(s.Rows, s.Cols, data)
		offset += s.Size()
	}
	return ws, nil
}
