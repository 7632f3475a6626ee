package server

import (
	"net/http"

	"github.com/cwbudde/mlpfit/internal/ui"
)

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	jobs := s.jobManager.ListJobs()

	jobItems := make([]ui.JobListItem, len(jobs))
	for i, job := range jobs {
		jobItems[i] = ui.JobListItem{
			ID:          job.ID,
			State:       string(job.State),
			Status:      job.Status,
			TrainPath:   job.Config.TrainPath,
			Algorithm:   job.Config.Algorithm,
			Layers:      len(job.Config.Layers),
			Epoch:       job.Epoch,
			Step:        job.Step,
			BestLoss:    job.BestLoss,
			InitialLoss: job.InitialLoss,
			StartTime:   job.StartTime,
			EndTime:     job.EndTime,
			Error:       job.Error,
		}
	}

	// Render the job list page using templ
	if err := ui.JobList(jobItems).Render(r.Context(), w); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
}
