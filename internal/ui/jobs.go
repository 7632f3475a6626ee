// Package ui renders the HTML pages of the job server.
package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// JobListItem is one row of the job list page.
type JobListItem struct {
	ID          string
	State       string
	Status      string
	TrainPath   string
	Algorithm   string
	Layers      int
	Epoch       int
	Step        int
	BestLoss    float64
	InitialLoss float64
	StartTime   time.Time
	EndTime     *time.Time
	Error       string
}

// Elapsed is the run time, or the time since start for running jobs.
func (j JobListItem) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime).Round(time.Millisecond)
	}
	return time.Since(j.StartTime).Round(time.Second)
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>mlpfit jobs</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { padding: 0.3em 0.8em; border-bottom: 1px solid #ddd; text-align: left; }
.badge { padding: 0.1em 0.5em; border-radius: 0.3em; color: #fff; }
.pending { background: #888; }
.running { background: #1f6feb; }
.completed { background: #2da44e; }
.failed { background: #cf222e; }
.cancelled { background: #9a6700; }
</style>
</head>
<body>
<h1>Training jobs</h1>
`

const pageFoot = `</body>
</html>
`

// stateLabels maps job states to badge captions.
var stateLabels = map[string]string{
	"pending":   "Pending",
	"running":   "Running",
	"completed": "Completed",
	"failed":    "Failed",
	"cancelled": "Cancelled",
}

// JobList renders the job table. Every user-controlled value is escaped.
func JobList(jobs []JobListItem) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, pageHead); err != nil {
			return err
		}
		if len(jobs) == 0 {
			if _, err := io.WriteString(w, "<p>No jobs yet. POST a run config to /api/v1/jobs to start one.</p>\n"); err != nil {
				return err
			}
			_, err := io.WriteString(w, pageFoot)
			return err
		}

		if _, err := io.WriteString(w, "<table>\n<tr><th>Job</th><th>State</th><th>Dataset</th><th>Algorithm</th><th>Layers</th><th>Epoch</th><th>Step</th><th>Initial loss</th><th>Best loss</th><th>Elapsed</th></tr>\n"); err != nil {
			return err
		}
		for _, j := range jobs {
			if err := jobRow(j).Render(ctx, w); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</table>\n"); err != nil {
			return err
		}
		_, err := io.WriteString(w, pageFoot)
		return err
	})
}

func jobRow(j JobListItem) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		label, ok := stateLabels[j.State]
		if !ok {
			label = j.State
		}
		state := fmt.Sprintf(`<span class="badge %s">%s</span>`, templ.EscapeString(j.State), templ.EscapeString(label))
		if j.Status != "" {
			state += " " + templ.EscapeString(j.Status)
		}
		if j.Error != "" {
			state += fmt.Sprintf(`<br><small>%s</small>`, templ.EscapeString(j.Error))
		}

		_, err := fmt.Fprintf(w,
			"<tr><td><a href=\"/api/v1/jobs/%s\">%s</a></td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%d</td><td>%.6g</td><td>%.6g</td><td>%s</td></tr>\n",
			templ.EscapeString(j.ID), templ.EscapeString(shortID(j.ID)),
			state,
			templ.EscapeString(j.TrainPath),
			templ.EscapeString(j.Algorithm),
			j.Layers, j.Epoch, j.Step,
			j.InitialLoss, j.BestLoss,
			j.Elapsed(),
		)
		return err
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
