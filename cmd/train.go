package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/cwbudde/mlpfit/internal/dataset"
	"github.com/cwbudde/mlpfit/internal/nn"
	"github.com/cwbudde/mlpfit/internal/server"
	"github.com/cwbudde/mlpfit/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath string
	dataDir    string

	trainFlags = struct {
		train, val, format string
		targetCols         []int
		header             bool

		hidden            []int
		activation        string
		outputActivation  string
		lambda            float64
		kernelInit        float64
		algorithm, beta   string
		memory            int
		lr, momentum      float64
		nesterov          bool
		c1, c2            float64
		lnMaxIter         int
		epochs, batchSize int
		tol               float64
		nIterNoChange     int
		normGEps, lEps    float64
		seed              int64
		verbose           int
		warmIters         int
		warmPop           int
		checkpointEvery   int
	}{}
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a network",
	Long: `Trains a network on a MONK or CSV dataset. The run description is read
from --config (JSON) when given; flags that are set explicitly override it.
The best weights are saved as a checkpoint under --data-dir and every step is
appended to the run's trace.`,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&configPath, "config", "", "JSON run config")
	f.StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")

	f.StringVar(&trainFlags.train, "train", "", "Training set path")
	f.StringVar(&trainFlags.val, "val", "", "Validation set path")
	f.StringVar(&trainFlags.format, "format", store.FormatMonk, "Dataset format: monk, csv")
	f.IntSliceVar(&trainFlags.targetCols, "target-cols", nil, "CSV target columns")
	f.BoolVar(&trainFlags.header, "header", false, "CSV file has a header row")

	f.IntSliceVar(&trainFlags.hidden, "hidden", []int{4}, "Hidden layer sizes")
	f.StringVar(&trainFlags.activation, "activation", "sigmoid", "Hidden activation: sigmoid, tanh, relu, linear")
	f.StringVar(&trainFlags.outputActivation, "output-activation", "sigmoid", "Output activation")
	f.Float64Var(&trainFlags.lambda, "lambda", 0, "L2 regularisation coefficient of every layer")
	f.Float64Var(&trainFlags.kernelInit, "kernel-init", 0, "Half-width of the uniform weight initialiser (0 = 1/sqrt(inputs))")

	f.StringVar(&trainFlags.algorithm, "algorithm", store.AlgorithmLBFGS, "Optimizer: lbfgs, ncg, sgd")
	f.IntVar(&trainFlags.memory, "m", 3, "L-BFGS memory")
	f.StringVar(&trainFlags.beta, "beta", "pr", "NCG beta: fr, pr, hs, dy")
	f.Float64Var(&trainFlags.lr, "lr", 0.1, "SGD learning rate")
	f.Float64Var(&trainFlags.momentum, "momentum", 0, "SGD momentum")
	f.BoolVar(&trainFlags.nesterov, "nesterov", false, "SGD Nesterov momentum")
	f.Float64Var(&trainFlags.c1, "c1", 1e-4, "Wolfe sufficient decrease constant")
	f.Float64Var(&trainFlags.c2, "c2", 0.9, "Wolfe curvature constant")
	f.IntVar(&trainFlags.lnMaxIter, "ln-max-iter", 10, "Line search iterations")

	f.IntVar(&trainFlags.epochs, "epochs", 500, "Maximum epochs")
	f.IntVar(&trainFlags.batchSize, "batch-size", 0, "Batch size (0 = full batch)")
	f.Float64Var(&trainFlags.tol, "tol", 1e-8, "Minimum loss improvement (0 = disabled)")
	f.IntVar(&trainFlags.nIterNoChange, "n-iter-no-change", 1, "Steps without improvement before stopping")
	f.Float64Var(&trainFlags.normGEps, "norm-g-eps", 1e-6, "Gradient norm threshold (0 = disabled)")
	f.Float64Var(&trainFlags.lEps, "l-eps", 0, "Loss threshold (0 = disabled)")
	f.Int64Var(&trainFlags.seed, "seed", 1, "Weight initialisation seed")
	f.IntVarP(&trainFlags.verbose, "verbose", "v", 1, "Verbosity: 0 silent, 1 epochs, 2 steps, 3 line search trials")
	f.IntVar(&trainFlags.warmIters, "warm-start-iters", 0, "Mayfly warm-start iterations (0 = disabled)")
	f.IntVar(&trainFlags.warmPop, "warm-start-pop", 20, "Mayfly warm-start population")
	f.IntVar(&trainFlags.checkpointEvery, "checkpoint-interval", 0, "Checkpoint every N seconds (0 = only at the end)")

	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg := store.DefaultRunConfig()
	if configPath != "" {
		var err error
		cfg, err = store.LoadRunConfig(configPath)
		if err != nil {
			return err
		}
	}

	if err := applyTrainFlags(&cfg, cmd.Flags()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}

	checkpointStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	jm := server.NewJobManager()
	job := jm.CreateJob(cfg)
	return runAndReport(jm, checkpointStore, job.ID)
}

// runAndReport trains the job until it finishes or the process is
// interrupted, then prints a summary.
func runAndReport(jm *server.JobManager, checkpointStore store.Store, jobID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runErr := jm.Run(ctx, checkpointStore, jobID)

	job, _ := jm.GetJob(jobID)
	fmt.Printf("Run %s: %s", job.ID, job.State)
	if job.Status != "" {
		fmt.Printf(" (%s)", job.Status)
	}
	fmt.Printf(" after %d epochs, %d steps; loss %.6g -> %.6g in %s\n",
		job.Epoch, job.Step, job.InitialLoss, job.BestLoss, job.Elapsed())
	if job.Reason != "" {
		fmt.Printf("  %s\n", job.Reason)
	}

	if runErr != nil {
		return runErr
	}
	if job.State == server.StateFailed {
		return fmt.Errorf("run failed: %s", job.Error)
	}
	return nil
}

// applyTrainFlags copies the explicitly set flags into cfg. Without a config
// file every flag applies, so the flag defaults describe the run.
func applyTrainFlags(cfg *store.RunConfig, flags *pflag.FlagSet) error {
	set := func(name string) bool {
		return configPath == "" || flags.Changed(name)
	}
	tf := trainFlags

	if set("train") {
		cfg.TrainPath = tf.train
	}
	if set("val") {
		cfg.ValPath = tf.val
	}
	if set("format") {
		cfg.Format = tf.format
	}
	if set("target-cols") {
		cfg.TargetCols = tf.targetCols
	}
	if set("header") {
		cfg.HasHeader = tf.header
	}
	if set("algorithm") {
		cfg.Algorithm = tf.algorithm
	}
	if set("m") {
		cfg.Memory = tf.memory
	}
	if set("beta") {
		cfg.Beta = tf.beta
	}
	if set("lr") {
		cfg.LearningRate = tf.lr
	}
	if set("momentum") {
		cfg.Momentum = tf.momentum
	}
	if set("nesterov") {
		cfg.Nesterov = tf.nesterov
	}
	if set("c1") {
		cfg.C1 = tf.c1
	}
	if set("c2") {
		cfg.C2 = tf.c2
	}
	if set("ln-max-iter") {
		cfg.LnMaxIter = tf.lnMaxIter
	}
	if set("epochs") {
		cfg.Epochs = tf.epochs
	}
	if set("batch-size") {
		cfg.BatchSize = tf.batchSize
	}
	if set("tol") {
		cfg.Tol = tf.tol
	}
	if set("n-iter-no-change") {
		cfg.NIterNoChange = tf.nIterNoChange
	}
	if set("norm-g-eps") {
		cfg.NormGEps = tf.normGEps
	}
	if set("l-eps") {
		cfg.LEps = tf.lEps
	}
	if set("seed") {
		cfg.Seed = tf.seed
	}
	if set("verbose") {
		cfg.Verbose = tf.verbose
	}
	if set("warm-start-iters") {
		cfg.WarmStartIters = tf.warmIters
	}
	if set("warm-start-pop") {
		cfg.WarmStartPop = tf.warmPop
	}
	if set("checkpoint-interval") {
		cfg.CheckpointInterval = tf.checkpointEvery
	}

	layerFlags := []string{"hidden", "activation", "output-activation", "lambda", "kernel-init"}
	for _, name := range layerFlags {
		if set(name) {
			layers, err := buildLayers(*cfg, tf.hidden, tf.activation, tf.outputActivation, tf.lambda, tf.kernelInit)
			if err != nil {
				return err
			}
			cfg.Layers = layers
			break
		}
	}
	return nil
}

// buildLayers describes a network with the given hidden sizes. The input and
// output sizes follow the training set: 17 features and one target for MONK
// files, the CSV column counts otherwise.
func buildLayers(cfg store.RunConfig, hidden []int, activation, outputActivation string, lambda, kernelInit float64) ([]nn.LayerSpec, error) {
	inputs, outputs := dataset.MonkFeatures, 1
	if cfg.Format == store.FormatCSV {
		if cfg.TrainPath == "" {
			return nil, fmt.Errorf("--train is required to size a csv network")
		}
		train, err := dataset.LoadCSV(cfg.TrainPath, cfg.TargetCols, cfg.HasHeader)
		if err != nil {
			return nil, err
		}
		inputs, outputs = train.Features(), train.Targets()
	}

	layers := make([]nn.LayerSpec, 0, len(hidden)+1)
	for i, units := range hidden {
		spec := nn.LayerSpec{Units: units, Activation: activation, KernelInit: kernelInit, Lambda: lambda}
		if i == 0 {
			spec.Inputs = inputs
		}
		layers = append(layers, spec)
	}
	out := nn.LayerSpec{Units: outputs, Activation: outputActivation, KernelInit: kernelInit, Lambda: lambda}
	if len(layers) == 0 {
		out.Inputs = inputs
	}
	layers = append(layers, out)

	slog.Debug("Network layout", "inputs", inputs, "hidden", hidden, "outputs", outputs)
	return layers, nil
}
