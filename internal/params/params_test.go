package params

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomLayers(rng *rand.Rand, shapes ...Shape) []*mat.Dense {
	ws := make([]*mat.Dense, len(shapes))
	for i, s := range shapes {
		data := make([]float64, s.Size())
		for j := range data {
			data[j] = rng.NormFloat64()
		}
		ws[i] = mat.NewDense(s.Rows, s.Cols, data)
	}
	return ws
}

func TestFlattenRestoreRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := [][]Shape{
		{{Rows: 1, Cols: 1}},
		{{Rows: 18, Cols: 4}, {Rows: 5, Cols: 1}},
		{{Rows: 3, Cols: 7}, {Rows: 8, Cols: 2}, {Rows: 3, Cols: 3}},
	}

	for _, shapes := range cases {
		ws := randomLayers(rng, shapes...)

		v, err := Flatten(ws)
		require.NoError(t, err)
		assert.Len(t, v, TotalSize(shapes))

		restored, err := Restore(ShapesOf(ws), v)
		require.NoError(t, err)
		require.Len(t, restored, len(ws))
		for i := range ws {
			assert.True(t, mat.Equal(ws[i], restored[i]), "layer %d differs after round trip", i)
		}
	}
}

func TestFlattenOrder(t *testing.T) {
	ws := []*mat.Dense{
		mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
		mat.NewDense(1, 3, []float64{5, 6, 7}),
	}

	v, err := Flatten(ws)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, v)
}

func TestFlattenDoesNotAlias(t *testing.T) {
	w := mat.NewDense(1, 2, []float64{1, 2})
	v, err := Flatten([]*mat.Dense{w})
	require.NoError(t, err)

	v[0] = 100
	assert.Equal(t, 1.0, w.At(0, 0))

	restored, err := Restore([]Shape{{Rows: 1, Cols: 2}}, v)
	require.NoError(t, err)
	v[1] = 200
	assert.Equal(t, 2.0, restored[0].At(0, 1))
}

func TestFlattenRejectsEmptyLayer(t *testing.T) {
	_, err := Flatten([]*mat.Dense{mat.NewDense(1, 1, []float64{1}), nil})
	assert.ErrorIs(t, err, ErrEmptyLayer)

	_, err = Flatten([]*mat.Dense{{}})
	assert.ErrorIs(t, err, ErrEmptyLayer)
}

func TestRestoreShapeMismatch(t *testing.T) {
	shapes := []Shape{{Rows: 2, Cols: 3}, {Rows: 4, Cols: 1}}

	for _, n := range []int{0, 9, 11} {
		_, err := Restore(shapes, make([]float64, n))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrShapeMismatch))

		var sm *ShapeMismatchError
		require.True(t, errors.As(err, &sm))
		assert.Equal(t, 10, sm.Want)
		assert.Equal(t, n, sm.Got)
	}
}
