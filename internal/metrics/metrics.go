// Package metrics computes the losses and scores used to train and report
// on a model.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MSE is the mean over samples of the summed squared error of each row.
func MSE(y, yHat mat.Matrix) float64 {
	r, c := y.Dims()
	if r == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := y.At(i, j) - yHat.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(r)
}

// Penalty is the L2 regularisation term Σ λ_l ‖W_l‖²_F.
func Penalty(ws []*mat.Dense, lambdas []float64) float64 {
	var p float64
	for l, w := range ws {
		if l >= len(lambdas) || lambdas[l] == 0 {
			continue
		}
		p += lambdas[l] * sumSquares(w)
	}
	return p
}

func sumSquares(w *mat.Dense) float64 {
	r, c := w.Dims()
	var s float64
	for i := 0; i < r; i++ {
		for _, v := range w.RawRowView(i)[:c] {
			s += v * v
		}
	}
	return s
}

// MSEReg is the regularised loss minimised during training.
func MSEReg(y, yHat mat.Matrix, ws []*mat.Dense, lambdas []float64) float64 {
	return MSE(y, yHat) + Penalty(ws, lambdas)
}

// MEE is the mean Euclidean distance between target and output rows.
func MEE(y, yHat mat.Matrix) float64 {
	r, c := y.Dims()
	if r == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r; i++ {
		var sq float64
		for j := 0; j < c; j++ {
			d := y.At(i, j) - yHat.At(i, j)
			sq += d * d
		}
		sum += math.Sqrt(sq)
	}
	return sum / float64(r)
}

// Accuracy is the fraction of rows whose outputs, thresholded at 0.5, all
// match the binary targets.
func Accuracy(y, yHat mat.Matrix) float64 {
	r, c := y.Dims()
	if r == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < r; i++ {
		ok := true
		for j := 0; j < c; j++ {
			pred := 0.0
			if yHat.At(i, j) >= 0.5 {
				pred = 1
			}
			if pred != math.Round(y.At(i, j)) {
				ok = false
				break
			}
		}
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(r)
}
