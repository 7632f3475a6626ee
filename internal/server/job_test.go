package server

import (
	"testing"
	"time"

	"github.com/cwbudde/mlpfit/internal/opt"
	"github.com/cwbudde/mlpfit/internal/store"
)

func jobConfig(trainPath string) store.RunConfig {
	cfg := store.DefaultRunConfig()
	cfg.TrainPath = trainPath
	return cfg
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(jobConfig("data/monks-1.train"))

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.TrainPath != "data/monks-1.train" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(jobConfig("data/monks-1.train"))

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(jobConfig("data/monks-1.train"))

	snap, _ := jm.GetJob(job.ID)
	snap.State = StateFailed
	snap.Step = 99

	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending || again.Step != 0 {
		t.Error("Mutating a snapshot should not change the managed job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(jobConfig("data/monks-1.train"))
	time.Sleep(2 * time.Millisecond)
	second := jm.CreateJob(jobConfig("data/monks-2.train"))

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(jobConfig("data/monks-1.train"))

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Step = 10
		j.BestLoss = 0.125
		j.History = append(j.History, opt.Record{Step: 10, Restarted: true})
	})

	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Step != 10 {
		t.Error("Step should be updated")
	}
	if updated.BestLoss != 0.125 {
		t.Error("BestLoss should be updated")
	}
	if updated.History.Restarts() != 1 {
		t.Error("History should be updated")
	}

	if running := jm.GetRunningJobs(); len(running) != 1 || running[0].ID != job.ID {
		t.Errorf("Expected one running job, got %d", len(running))
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelPendingJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(jobConfig("data/monks-1.train"))

	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Pending job should be cancelled, got %s", updated.State)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a finished job should fail")
	}
	if err := jm.CancelJob("nonexistent"); err == nil {
		t.Error("Cancelling a nonexistent job should fail")
	}
}

func TestJobState_Done(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Done(); got != tt.want {
			t.Errorf("%s.Done() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(jobConfig("data/monks-1.train"))

	// Simulate concurrent updates and reads
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(step int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Step = step
				j.History = append(j.History, opt.Record{Step: step})
				time.Sleep(1 * time.Millisecond)
			})
			jm.ListJobs()
			done <- true
		}(i)
	}

	// Wait for all updates
	for i := 0; i < 10; i++ {
		<-done
	}

	updated, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should still exist after concurrent updates")
	}
	if len(updated.History) != 10 {
		t.Errorf("Expected 10 history records, got %d", len(updated.History))
	}
}
