package opt

import "github.com/cwbudde/mlpfit/internal/linesearch"

// Record is the snapshot appended to the history after every step.
type Record struct {
	Epoch int `json:"epoch"`
	Batch int `json:"batch"`
	Step  int `json:"step"`

	Loss      float64 `json:"loss"`
	Phi0      float64 `json:"phi0"`
	GradNorm  float64 `json:"gradNorm"`
	Alpha     float64 `json:"alpha"`
	Restarted bool    `json:"restarted,omitempty"`
	Curvature float64 `json:"curvature,omitempty"`

	LineSearch linesearch.Result `json:"lineSearch"`

	// TrainLoss is the regularised MSE over the whole training set after
	// the step. Equal to Loss for full-batch runs.
	TrainLoss     float64  `json:"trainLoss"`
	TrainMSE      float64  `json:"trainMSE"`
	TrainAccuracy float64  `json:"trainAccuracy"`
	ValMSE        *float64 `json:"valMSE,omitempty"`
	ValAccuracy   *float64 `json:"valAccuracy,omitempty"`
}

// History is the ordered list of step records of one run.
type History []Record

// Losses returns the loss of every record.
func (h History) Losses() []float64 {
	out := make([]float64, len(h))
	for i, r := range h {
		out[i] = r.Loss
	}
	return out
}

// Last returns the newest record, or false when the history is empty.
func (h History) Last() (Record, bool) {
	if len(h) == 0 {
		return Record{}, false
	}
	return h[len(h)-1], true
}

// Restarts counts the steps whose search direction was reset.
func (h History) Restarts() int {
	n := 0
	for _, r := range h {
		if r.Restarted {
			n++
		}
	}
	return n
}

// UnconvergedSearches counts the steps whose line search hit its budget.
func (h History) UnconvergedSearches() int {
	n := 0
	for _, r := range h {
		if !r.LineSearch.Converged {
			n++
		}
	}
	return n
}
