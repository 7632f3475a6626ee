package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/cwbudde/mlpfit/internal/dataset"
	"github.com/cwbudde/mlpfit/internal/linesearch"
	"github.com/cwbudde/mlpfit/internal/nn"
	"github.com/cwbudde/mlpfit/internal/opt"
)

// Dataset formats accepted by RunConfig.Format.
const (
	FormatMonk = "monk"
	FormatCSV  = "csv"
)

// Algorithm names accepted by RunConfig.Algorithm.
const (
	AlgorithmLBFGS = "lbfgs"
	AlgorithmNCG   = "ncg"
	AlgorithmSGD   = "sgd"
)

// RunConfig describes a training run. It is stored inside every checkpoint
// so a run can be resumed, and is the request body of the job API.
type RunConfig struct {
	TrainPath  string `json:"trainPath"`
	ValPath    string `json:"valPath,omitempty"`
	Format     string `json:"format"`               // monk, csv
	TargetCols []int  `json:"targetCols,omitempty"` // csv only
	HasHeader  bool   `json:"hasHeader,omitempty"`  // csv only

	Layers []nn.LayerSpec `json:"layers"`

	Algorithm string `json:"algorithm"` // lbfgs, ncg, sgd
	Memory    int    `json:"m,omitempty"`
	Beta      string `json:"beta,omitempty"`

	LearningRate float64 `json:"learningRate,omitempty"`
	Momentum     float64 `json:"momentum,omitempty"`
	Nesterov     bool    `json:"nesterov,omitempty"`

	C1        float64 `json:"c1"`
	C2        float64 `json:"c2"`
	LnMaxIter int     `json:"lnMaxIter"`

	Epochs        int     `json:"epochs"`
	BatchSize     int     `json:"batchSize"`
	Tol           float64 `json:"tol"`
	NIterNoChange int     `json:"nIterNoChange"`
	NormGEps      float64 `json:"normGEps"`
	LEps          float64 `json:"lEps"`

	Seed    int64 `json:"seed"`
	Verbose int   `json:"verbose"`

	WarmStartIters int `json:"warmStartIters,omitempty"`
	WarmStartPop   int `json:"warmStartPop,omitempty"`

	CheckpointInterval int `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// DefaultRunConfig returns an L-BFGS run on a MONK problem with one hidden
// layer of four sigmoid units.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Format: FormatMonk,
		Layers: []nn.LayerSpec{
			{Inputs: dataset.MonkFeatures, Units: 4, Activation: "sigmoid"},
			{Units: 1, Activation: "sigmoid"},
		},
		Algorithm:     AlgorithmLBFGS,
		Memory:        3,
		Beta:          string(opt.PolakRibiere),
		LearningRate:  0.1,
		C1:            1e-4,
		C2:            0.9,
		LnMaxIter:     10,
		Epochs:        500,
		Tol:           1e-8,
		NIterNoChange: 1,
		NormGEps:      1e-6,
		Seed:          1,
	}
}

// LoadRunConfig reads a JSON run description. Fields missing from the file
// keep their DefaultRunConfig values.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the run description without touching the filesystem.
func (c RunConfig) Validate() error {
	if c.TrainPath == "" {
		return &ValidationError{Field: "TrainPath", Reason: "cannot be empty"}
	}
	switch c.Format {
	case FormatMonk:
	case FormatCSV:
		if len(c.TargetCols) == 0 {
			return &ValidationError{Field: "TargetCols", Reason: "required for csv datasets"}
		}
	default:
		return &ValidationError{Field: "Format", Reason: fmt.Sprintf("unknown format %q", c.Format)}
	}

	if len(c.Layers) == 0 {
		return &ValidationError{Field: "Layers", Reason: "cannot be empty"}
	}
	if c.Layers[0].Inputs <= 0 {
		return &ValidationError{Field: "Layers[0].Inputs", Reason: "must be positive"}
	}
	for i, l := range c.Layers {
		if l.Units <= 0 {
			return &ValidationError{Field: fmt.Sprintf("Layers[%d].Units", i), Reason: "must be positive"}
		}
		if _, err := nn.ActivationByName(l.Activation); err != nil {
			return &ValidationError{Field: fmt.Sprintf("Layers[%d].Activation", i), Reason: err.Error()}
		}
		if l.Lambda < 0 {
			return &ValidationError{Field: fmt.Sprintf("Layers[%d].Regularizer", i), Reason: "cannot be negative"}
		}
	}

	switch c.Algorithm {
	case AlgorithmLBFGS:
		if c.Memory < 1 {
			return &ValidationError{Field: "Memory", Reason: "must be at least 1"}
		}
	case AlgorithmNCG:
		if _, err := opt.ParseBetaMethod(c.Beta); err != nil {
			return &ValidationError{Field: "Beta", Reason: err.Error()}
		}
	case AlgorithmSGD:
		if err := c.sgd().Validate(); err != nil {
			return &ValidationError{Field: "LearningRate/Momentum", Reason: err.Error()}
		}
	default:
		return &ValidationError{Field: "Algorithm", Reason: fmt.Sprintf("unknown algorithm %q", c.Algorithm)}
	}

	if c.Algorithm != AlgorithmSGD {
		if err := c.LineSearchOptions().Validate(); err != nil {
			return &ValidationError{Field: "C1/C2/LnMaxIter", Reason: err.Error()}
		}
	}
	if err := c.OptimizerConfig(nil).Validate(); err != nil {
		return &ValidationError{Field: "Epochs/Verbose", Reason: err.Error()}
	}
	if c.WarmStartIters > 0 {
		if err := c.WarmStart().Validate(); err != nil {
			return &ValidationError{Field: "WarmStart", Reason: err.Error()}
		}
	}
	if c.CheckpointInterval < 0 {
		return &ValidationError{Field: "CheckpointInterval", Reason: "cannot be negative"}
	}
	return nil
}

// LineSearchOptions returns the strong Wolfe parameters.
func (c RunConfig) LineSearchOptions() linesearch.Options {
	return linesearch.Options{C1: c.C1, C2: c.C2, MaxIter: c.LnMaxIter}
}

func (c RunConfig) sgd() *opt.SGD {
	return &opt.SGD{LearningRate: c.LearningRate, Momentum: c.Momentum, Nesterov: c.Nesterov}
}

// NewAlgorithm builds the configured update rule.
func (c RunConfig) NewAlgorithm() (opt.Algorithm, error) {
	switch c.Algorithm {
	case AlgorithmLBFGS:
		l := opt.NewLBFGS(c.Memory)
		l.LineSearch = c.LineSearchOptions()
		return l, nil
	case AlgorithmNCG:
		m, err := opt.ParseBetaMethod(c.Beta)
		if err != nil {
			return nil, err
		}
		n := opt.NewNCG(m)
		n.LineSearch = c.LineSearchOptions()
		return n, nil
	case AlgorithmSGD:
		return c.sgd(), nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", opt.ErrInvalidConfig, c.Algorithm)
	}
}

// OptimizerConfig converts the stopping and batching fields.
func (c RunConfig) OptimizerConfig(logger *slog.Logger) opt.Config {
	return opt.Config{
		Epochs:        c.Epochs,
		BatchSize:     c.BatchSize,
		Tol:           c.Tol,
		NIterNoChange: c.NIterNoChange,
		NormGEps:      c.NormGEps,
		LEps:          c.LEps,
		Verbose:       c.Verbose,
		Logger:        logger,
	}
}

// WarmStart returns the Mayfly warm-start settings.
func (c RunConfig) WarmStart() opt.MayflyWarmStart {
	return opt.MayflyWarmStart{
		Iterations: c.WarmStartIters,
		Population: c.WarmStartPop,
		Seed:       c.Seed,
	}
}

// NewModel builds a freshly initialised network.
func (c RunConfig) NewModel() (*nn.MLP, error) {
	return nn.FromSpecs(c.Layers, c.Seed)
}

// LoadData reads the training set and, when configured, the validation set.
func (c RunConfig) LoadData() (train, val *dataset.Dataset, err error) {
	load := func(path string) (*dataset.Dataset, error) {
		if c.Format == FormatCSV {
			return dataset.LoadCSV(path, c.TargetCols, c.HasHeader)
		}
		return dataset.LoadMonk(path)
	}

	train, err = load(c.TrainPath)
	if err != nil {
		return nil, nil, fmt.Errorf("training set %s: %w", c.TrainPath, err)
	}
	if c.ValPath != "" {
		val, err = load(c.ValPath)
		if err != nil {
			return nil, nil, fmt.Errorf("validation set %s: %w", c.ValPath, err)
		}
	}

	if train.Features() != c.Layers[0].Inputs {
		return nil, nil, fmt.Errorf("training set has %d features, first layer expects %d", train.Features(), c.Layers[0].Inputs)
	}
	if out := c.Layers[len(c.Layers)-1].Units; train.Targets() != out {
		return nil, nil, fmt.Errorf("training set has %d targets, last layer has %d units", train.Targets(), out)
	}
	return train, val, nil
}
