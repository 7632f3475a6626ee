package main

import (
	"errors"
	"fmt"

	"github.com/cwbudde/mlpfit/internal/server"
	"github.com/cwbudde/mlpfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir    string
	resumeConfigPath string
	resumeEpochs     int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Continues a run from the best weights of its checkpoint. The optimizer
state (curvature pairs, search direction, velocity) is rebuilt, so the first
resumed step is a steepest descent step.

--config swaps in a new run description, for example another algorithm; it
must keep the dataset and the network architecture of the checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	resumeCmd.Flags().StringVar(&resumeConfigPath, "config", "", "Replacement JSON run config")
	resumeCmd.Flags().IntVar(&resumeEpochs, "epochs", 0, "Epochs to run (0 = keep the checkpoint's setting)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	cp, err := checkpointStore.LoadCheckpoint(runID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for run %s in %s", runID, resumeDataDir)
	}
	if err != nil {
		return err
	}

	if resumeConfigPath != "" {
		cfg, err := store.LoadRunConfig(resumeConfigPath)
		if err != nil {
			return err
		}
		if err := cp.IsCompatible(cfg); err != nil {
			return err
		}
		cp.Config = cfg
	}
	if resumeEpochs > 0 {
		cp.Config.Epochs = resumeEpochs
	}

	jm := server.NewJobManager()
	job, err := jm.ResumeJob(cp)
	if err != nil {
		return err
	}

	fmt.Printf("Resuming run %s at epoch %d (best loss %.6g)\n", job.ID, cp.Epoch, cp.BestLoss)
	return runAndReport(jm, checkpointStore, job.ID)
}
