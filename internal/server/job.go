package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/mlpfit/internal/opt"
	"github.com/cwbudde/mlpfit/internal/params"
	"github.com/cwbudde/mlpfit/internal/store"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Done reports whether the state is terminal.
func (s JobState) Done() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job represents a training run
type Job struct {
	ID     string          `json:"id"`
	State  JobState        `json:"state"`
	Config store.RunConfig `json:"config"`

	// Status and Reason mirror the optimizer outcome (converged,
	// max_epochs_reached, failed) once the run has finished.
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	BestWeights []float64      `json:"-"`
	Shapes      []params.Shape `json:"shapes,omitempty"`
	BestLoss    float64        `json:"bestLoss"`
	InitialLoss float64        `json:"initialLoss"`
	Loss        float64        `json:"loss"`
	GradNorm    float64        `json:"gradNorm"`
	Epoch       int            `json:"epoch"`
	Step        int            `json:"step"`

	History opt.History `json:"-"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	// resume holds the checkpoint a resumed job starts from.
	resume *store.Checkpoint
	cancel context.CancelFunc
}

// Elapsed is the wall time of the run so far.
func (j *Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config store.RunConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.snapshot()
}

// ResumeJob registers a pending job that continues the run saved in cp.
// The job keeps the checkpoint's ID so its trace is appended to.
func (jm *JobManager) ResumeJob(cp *store.Checkpoint) (*Job, error) {
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()

	if j, exists := jm.jobs[cp.JobID]; exists && !j.State.Done() {
		return nil, fmt.Errorf("job %s is still %s", cp.JobID, j.State)
	}

	job := &Job{
		ID:          cp.JobID,
		State:       StatePending,
		Config:      cp.Config,
		BestWeights: cp.Weights,
		Shapes:      cp.Shapes,
		BestLoss:    cp.BestLoss,
		InitialLoss: cp.InitialLoss,
		Epoch:       cp.Epoch,
		Step:        cp.Step,
		StartTime:   time.Now(),
		resume:      cp,
	}
	jm.jobs[job.ID] = job
	return job.snapshot(), nil
}

// GetJob returns a snapshot of the job with the given ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// CancelJob stops a pending or running job. The worker marks it cancelled
// once the optimizer has returned.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.State.Done() {
		return fmt.Errorf("job %s already %s", id, job.State)
	}
	if job.cancel != nil {
		job.cancel()
		return nil
	}
	// Not picked up by a worker yet.
	endTime := time.Now()
	job.State = StateCancelled
	job.EndTime = &endTime
	return nil
}

// Broadcaster returns the progress event hub of the manager's jobs.
func (jm *JobManager) Broadcaster() *EventBroadcaster {
	return jm.broadcaster
}

// snapshot copies the job so callers can read it without holding the lock.
// Slices are replaced, never mutated in place, by the worker.
func (j *Job) snapshot() *Job {
	c := *j
	c.cancel = nil
	c.resume = nil
	return &c
}
