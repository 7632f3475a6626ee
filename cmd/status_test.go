package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestListJobs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"abc","state":"running","epoch":3,"step":3,"bestLoss":0.1,"initialLoss":0.25,
			"config":{"trainPath":"monks-1.train","algorithm":"lbfgs"}}]`)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	if err := listJobs(ts.URL, &buf); err != nil {
		t.Fatalf("listJobs failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Job ID: abc", "State: running", "monks-1.train", "lbfgs", "epoch 3, step 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestListJobs_Empty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	if err := listJobs(ts.URL, &buf); err != nil {
		t.Fatalf("listJobs failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No jobs found") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}

func TestGetJobStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/abc/status") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"id":"abc","state":"completed","status":"converged","reason":"gradient norm below threshold",
			"epoch":12,"step":12,"initialLoss":0.25,"bestLoss":0.05,"gradNorm":1e-7,"restarts":2,
			"elapsed":1.5,"stepsPerSecond":8,"config":{"trainPath":"monks-1.train","algorithm":"ncg"}}`)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	if err := getJobStatus(ts.URL+"/api/v1/jobs/abc/status", "abc", &buf); err != nil {
		t.Fatalf("getJobStatus failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Job: abc", "Optimizer: converged", "Improvement: 0.2 (80.0%)", "Restarts: 2", "Elapsed: 1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}

	if err := getJobStatus(ts.URL+"/api/v1/jobs/zzz/status", "zzz", &buf); err == nil {
		t.Error("Expected an error for an unknown job")
	}
}
