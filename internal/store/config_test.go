package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/mlpfit/internal/opt"
)

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()

	if err := cfg.Validate(); err == nil {
		t.Fatal("Default config without a training path should not validate")
	}

	cfg.TrainPath = "data/monks-1.train"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate: %v", err)
	}

	if cfg.Memory != 3 || cfg.C1 != 1e-4 || cfg.C2 != 0.9 || cfg.LnMaxIter != 10 || cfg.NIterNoChange != 1 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}

func TestRunConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *RunConfig)
		field  string
	}{
		{"format", func(c *RunConfig) { c.Format = "arff" }, "Format"},
		{"csv without targets", func(c *RunConfig) { c.Format = FormatCSV }, "TargetCols"},
		{"no layers", func(c *RunConfig) { c.Layers = nil }, "Layers"},
		{"no inputs", func(c *RunConfig) { c.Layers[0].Inputs = 0 }, "Layers[0].Inputs"},
		{"zero units", func(c *RunConfig) { c.Layers[1].Units = 0 }, "Layers[1].Units"},
		{"activation", func(c *RunConfig) { c.Layers[0].Activation = "gelu" }, "Layers[0].Activation"},
		{"regularizer", func(c *RunConfig) { c.Layers[0].Lambda = -0.1 }, "Layers[0].Regularizer"},
		{"algorithm", func(c *RunConfig) { c.Algorithm = "adam" }, "Algorithm"},
		{"memory", func(c *RunConfig) { c.Memory = 0 }, "Memory"},
		{"beta", func(c *RunConfig) { c.Algorithm = AlgorithmNCG; c.Beta = "xx" }, "Beta"},
		{"learning rate", func(c *RunConfig) { c.Algorithm = AlgorithmSGD; c.LearningRate = 0 }, "LearningRate/Momentum"},
		{"wolfe constants", func(c *RunConfig) { c.C1 = 0.95 }, "C1/C2/LnMaxIter"},
		{"epochs", func(c *RunConfig) { c.Epochs = 0 }, "Epochs/Verbose"},
		{"warm start", func(c *RunConfig) { c.WarmStartIters = 10; c.WarmStartPop = 5 }, "WarmStart"},
		{"checkpoint interval", func(c *RunConfig) { c.CheckpointInterval = -1 }, "CheckpointInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testRunConfig()
			tt.modify(&cfg)

			var verr *ValidationError
			if err := cfg.Validate(); !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestRunConfig_NewAlgorithm(t *testing.T) {
	cfg := testRunConfig()

	for algo, want := range map[string]string{
		AlgorithmLBFGS: "lbfgs",
		AlgorithmNCG:   "ncg-pr",
		AlgorithmSGD:   "sgd",
	} {
		cfg.Algorithm = algo
		a, err := cfg.NewAlgorithm()
		if err != nil {
			t.Fatalf("%s: NewAlgorithm failed: %v", algo, err)
		}
		if a.Name() != want {
			t.Errorf("%s: expected name %s, got %s", algo, want, a.Name())
		}
	}

	cfg.Algorithm = AlgorithmLBFGS
	cfg.Memory = 7
	a, _ := cfg.NewAlgorithm()
	if l, ok := a.(*opt.LBFGS); !ok || l.Store != 7 || l.LineSearch.C2 != 0.9 {
		t.Errorf("Unexpected L-BFGS settings: %+v", a)
	}

	cfg.Algorithm = "newton"
	if _, err := cfg.NewAlgorithm(); !errors.Is(err, opt.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunConfig_OptimizerConfig(t *testing.T) {
	cfg := testRunConfig()
	cfg.BatchSize = 16
	cfg.Verbose = 2

	oc := cfg.OptimizerConfig(nil)
	if oc.Epochs != cfg.Epochs || oc.BatchSize != 16 || oc.Tol != cfg.Tol || oc.Verbose != 2 {
		t.Errorf("Unexpected optimizer config: %+v", oc)
	}
}

func TestLoadRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	content := `{"trainPath": "a.train", "algorithm": "ncg", "beta": "hs", "epochs": 25}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig failed: %v", err)
	}
	if cfg.Algorithm != AlgorithmNCG || cfg.Beta != "hs" || cfg.Epochs != 25 {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.C2 != 0.9 || len(cfg.Layers) != 2 {
		t.Errorf("Defaults not kept for missing fields: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Loaded config should validate: %v", err)
	}

	if _, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestRunConfig_LoadData(t *testing.T) {
	dir := t.TempDir()
	train := filepath.Join(dir, "monks.train")
	data := " 1 1 1 1 1 3 1 data_5\n 0 3 2 2 3 4 2 data_216\n"
	if err := os.WriteFile(train, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}

	cfg := DefaultRunConfig()
	cfg.TrainPath = train
	cfg.ValPath = train

	tr, val, err := cfg.LoadData()
	if err != nil {
		t.Fatalf("LoadData failed: %v", err)
	}
	if tr.Len() != 2 || val == nil || val.Len() != 2 {
		t.Errorf("Unexpected dataset sizes")
	}

	cfg.Layers[0].Inputs = 5
	if _, _, err := cfg.LoadData(); err == nil {
		t.Error("Expected feature count mismatch error")
	}

	m, err := DefaultRunConfig().NewModel()
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if m.InputSize() != 17 || m.OutputSize() != 1 {
		t.Errorf("Unexpected model dims %d -> %d", m.InputSize(), m.OutputSize())
	}
}
