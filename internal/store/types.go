package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/mlpfit/internal/params"
)

// Checkpoint is the saved state of a training run.
//
// Only the weights are saved. Algorithm buffers (the L-BFGS curvature window,
// the previous conjugate direction, SGD velocity) are rebuilt from scratch on
// resume, so a resumed run restarts its first step from steepest descent.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Weights is the flat parameter vector with the lowest loss seen so far,
	// laid out by Shapes.
	Weights []float64      `json:"weights"`
	Shapes  []params.Shape `json:"shapes"`

	BestLoss    float64 `json:"bestLoss"`
	InitialLoss float64 `json:"initialLoss"`

	Epoch int `json:"epoch"`
	Step  int `json:"step"`

	// Status is the optimizer status when the checkpoint was written.
	Status string `json:"status"`

	Timestamp time.Time `json:"timestamp"`
	Config    RunConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the weights.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	BestLoss  float64   `json:"bestLoss"`
	Epoch     int       `json:"epoch"`
	Step      int       `json:"step"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Algorithm string    `json:"algorithm"`
	TrainPath string    `json:"trainPath"`
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(jobID string, weights []float64, shapes []params.Shape, bestLoss, initialLoss float64, epoch, step int, status string, config RunConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		Weights:     weights,
		Shapes:      shapes,
		BestLoss:    bestLoss,
		InitialLoss: initialLoss,
		Epoch:       epoch,
		Step:        step,
		Status:      status,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		BestLoss:  c.BestLoss,
		Epoch:     c.Epoch,
		Step:      c.Step,
		Status:    c.Status,
		Timestamp: c.Timestamp,
		Algorithm: c.Config.Algorithm,
		TrainPath: c.Config.TrainPath,
	}
}

// Validate checks that the checkpoint can be restored into the network its
// config describes.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Weights) == 0 {
		return &ValidationError{Field: "Weights", Reason: "cannot be empty"}
	}
	if n := params.TotalSize(c.Shapes); n != len(c.Weights) {
		return &ValidationError{
			Field:  "Weights",
			Reason: fmt.Sprintf("length mismatch: shapes hold %d values, got %d", n, len(c.Weights)),
		}
	}
	if c.BestLoss < 0 {
		return &ValidationError{Field: "BestLoss", Reason: "cannot be negative"}
	}
	if c.InitialLoss < 0 {
		return &ValidationError{Field: "InitialLoss", Reason: "cannot be negative"}
	}
	if c.Epoch < 0 || c.Step < 0 {
		return &ValidationError{Field: "Epoch/Step", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}

	want := LayerShapes(c.Config)
	if len(want) != len(c.Shapes) {
		return &ValidationError{
			Field:  "Shapes",
			Reason: fmt.Sprintf("%d layers, config describes %d", len(c.Shapes), len(want)),
		}
	}
	for i := range want {
		if want[i] != c.Shapes[i] {
			return &ValidationError{
				Field:  fmt.Sprintf("Shapes[%d]", i),
				Reason: fmt.Sprintf("%dx%d, config describes %dx%d", c.Shapes[i].Rows, c.Shapes[i].Cols, want[i].Rows, want[i].Cols),
			}
		}
	}
	return nil
}

// LayerShapes returns the weight shapes of the network described by config.
func LayerShapes(config RunConfig) []params.Shape {
	shapes := make([]params.Shape, len(config.Layers))
	inputs := 0
	for i, l := range config.Layers {
		if i == 0 {
			inputs = l.Inputs
		}
		shapes[i] = params.Shape{Rows: inputs + 1, Cols: l.Units}
		inputs = l.Units
	}
	return shapes
}

// ValidationError represents a checkpoint or config validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// The dataset and the architecture must match; the algorithm and stopping
// criteria may change between runs.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.TrainPath != config.TrainPath {
		return &CompatibilityError{
			Field:    "TrainPath",
			Expected: c.Config.TrainPath,
			Actual:   config.TrainPath,
		}
	}
	if c.Config.Format != config.Format {
		return &CompatibilityError{
			Field:    "Format",
			Expected: c.Config.Format,
			Actual:   config.Format,
		}
	}
	if len(c.Config.Layers) != len(config.Layers) {
		return &CompatibilityError{
			Field:    "Layers",
			Expected: fmt.Sprintf("%d layers", len(c.Config.Layers)),
			Actual:   fmt.Sprintf("%d layers", len(config.Layers)),
		}
	}
	for i, want := range c.Config.Layers {
		got := config.Layers[i]
		if want.Units != got.Units || want.Activation != got.Activation || (i == 0 && want.Inputs != got.Inputs) {
			return &CompatibilityError{
				Field:    fmt.Sprintf("Layers[%d]", i),
				Expected: fmt.Sprintf("%d %s units", want.Units, want.Activation),
				Actual:   fmt.Sprintf("%d %s units", got.Units, got.Activation),
			}
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
