package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL), cmd.OutOrStdout())
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID, cmd.OutOrStdout())
}

// jobSummary is the subset of a job the list view prints.
type jobSummary struct {
	ID          string  `json:"id"`
	State       string  `json:"state"`
	Status      string  `json:"status"`
	Epoch       int     `json:"epoch"`
	Step        int     `json:"step"`
	BestLoss    float64 `json:"bestLoss"`
	InitialLoss float64 `json:"initialLoss"`
	Config      struct {
		TrainPath string `json:"trainPath"`
		Algorithm string `json:"algorithm"`
	} `json:"config"`
}

// jobStatus mirrors the server's status response.
type jobStatus struct {
	jobSummary
	Reason         string  `json:"reason"`
	GradNorm       float64 `json:"gradNorm"`
	Loss           float64 `json:"loss"`
	Restarts       int     `json:"restarts"`
	Elapsed        float64 `json:"elapsed"`
	StepsPerSecond float64 `json:"stepsPerSecond"`
	Error          string  `json:"error"`
}

func listJobs(url string, out io.Writer) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []jobSummary
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Dataset: %s\n", job.Config.TrainPath)
		fmt.Fprintf(out, "  Algorithm: %s\n", job.Config.Algorithm)
		if job.Step > 0 {
			fmt.Fprintf(out, "  Progress: epoch %d, step %d\n", job.Epoch, job.Step)
			fmt.Fprintf(out, "  Loss: %.6g -> %.6g\n", job.InitialLoss, job.BestLoss)
		}
		fmt.Fprintln(out)
	}

	return nil
}

func getJobStatus(url, jobID string, out io.Writer) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Display status
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	if status.Status != "" {
		fmt.Fprintf(out, "Optimizer: %s\n", status.Status)
	}
	if status.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", status.Reason)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Dataset: %s\n", status.Config.TrainPath)
	fmt.Fprintf(out, "  Algorithm: %s\n", status.Config.Algorithm)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Epoch: %d\n", status.Epoch)
	fmt.Fprintf(out, "  Step: %d\n", status.Step)
	if status.InitialLoss > 0 {
		fmt.Fprintf(out, "  Initial Loss: %.6g\n", status.InitialLoss)
		fmt.Fprintf(out, "  Best Loss: %.6g\n", status.BestLoss)
		improvement := status.InitialLoss - status.BestLoss
		fmt.Fprintf(out, "  Improvement: %.6g (%.1f%%)\n", improvement, improvement/status.InitialLoss*100)
	}
	if status.Step > 0 {
		fmt.Fprintf(out, "  Gradient Norm: %.3g\n", status.GradNorm)
		fmt.Fprintf(out, "  Restarts: %d\n", status.Restarts)
	}

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.StepsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.1f steps/sec\n", status.StepsPerSecond)
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}

	return nil
}
