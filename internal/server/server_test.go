package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/dualaccel/internal/store"
)

// waitForState polls the job manager until the job reaches a finished state.
func waitForState(t *testing.T, s *Server, jobID string) *Job {
	t.Helper()
	for i := 0; i < 200; i++ {
		job, ok := s.jobManager.GetJob(jobID)
		if !ok {
			t.Fatalf("Job %s disappeared", jobID)
		}
		if job.State.Finished() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish in time", jobID)
	return nil
}

func newStoreServer(t *testing.T) *Server {
	t.Helper()
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return NewServer(":8080", fs)
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", nil)

	body, _ := json.Marshal(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}

	if final := waitForState(t, s, job.ID); final.State != StateCompleted {
		t.Errorf("Expected completed, got %s (%s)", final.State, final.Error)
	}
}

func TestServer_CreateJob_PartialBodyKeepsDefaults(t *testing.T) {
	s := NewServer(":8080", nil)

	body := `{"run": {"maxIterations": 3}, "instance": {"generate": {"numVars": 20, "numConstraints": 10, "minScope": 2, "maxScope": 3, "costScale": 1, "seed": 1}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	if job.Config.Run.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", job.Config.Run.MaxIterations)
	}
	if job.Config.Accelerator.HistorySize != 5 {
		t.Errorf("HistorySize should keep its default, got %d", job.Config.Accelerator.HistorySize)
	}
	waitForState(t, s, job.ID)
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	s := NewServer(":8080", nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"run": `},
		{"bad iterations", `{"run": {"maxIterations": -1}}`},
		{"bad history", `{"accelerator": {"historySize": 1}}`},
		{"bad backend", `{"run": {"backend": "gpu"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.handleCreateJob(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("Invalid requests should not create jobs, got %d", n)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)

	// Create two jobs
	s.jobManager.CreateJob(testConfig())
	s.jobManager.CreateJob(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil)

	job := s.jobManager.CreateJob(testConfig())

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}
	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
	if _, ok := response["lowerBound"]; !ok {
		t.Error("Response should contain lowerBound")
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newStoreServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(testConfig())
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	// Poll status until completed
	maxAttempts := 100
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			break
		}
		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}
		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(50 * time.Millisecond)
	}

	// Trace since iteration 15
	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/trace?since=15")
	if err != nil {
		t.Fatalf("Failed to get trace: %v", err)
	}
	var entries []store.TraceEntry
	json.NewDecoder(resp.Body).Decode(&entries)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for trace, got %d", resp.StatusCode)
	}
	if len(entries) != 5 {
		t.Errorf("Expected 5 trace entries after iteration 15, got %d", len(entries))
	}

	// Checkpoint listing
	resp, err = http.Get(srv.URL + "/api/v1/checkpoints")
	if err != nil {
		t.Fatalf("Failed to list checkpoints: %v", err)
	}
	var infos []store.CheckpointInfo
	json.NewDecoder(resp.Body).Decode(&infos)
	resp.Body.Close()
	if len(infos) != 1 || infos[0].JobID != job.ID {
		t.Errorf("Expected one checkpoint for %s, got %+v", job.ID, infos)
	}

	// Metrics
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	text, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !containsString(string(text), `dualaccel_jobs_total{state="completed"} 1`) {
		t.Error("Metrics should count the completed job")
	}
}

func TestServer_Trace_BadRequests(t *testing.T) {
	s := NewServer(":8080", nil)
	w := httptest.NewRecorder()
	s.handleGetTrace(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x/trace", nil), "x")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without store, got %d", w.Code)
	}

	s = newStoreServer(t)
	w = httptest.NewRecorder()
	s.handleGetTrace(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x/trace?since=-2", nil), "x")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative since, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.handleGetTrace(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x/trace", nil), "x")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing trace, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":8080", nil)
	handler := s.Handler()

	cfg := testConfig()
	cfg.Instance.Generate.NumVars = 400
	cfg.Instance.Generate.NumConstraints = 300
	cfg.Run.MaxIterations = 1000000
	job := s.startJob(cfg, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	if final := waitForState(t, s, job.ID); final.State != StateCancelled {
		t.Errorf("Expected cancelled, got %s", final.State)
	}

	// Give the worker time to release its cancel function
	time.Sleep(50 * time.Millisecond)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for finished job, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET cancel, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nonexistent/cancel", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestServer_ResumeJob(t *testing.T) {
	s := newStoreServer(t)
	handler := s.Handler()

	first := s.startJob(testConfig(), nil)
	waitForState(t, s, first.ID)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+first.ID+"/resume", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resumed Job
	json.NewDecoder(w.Body).Decode(&resumed)
	if resumed.ResumedFrom != first.ID {
		t.Errorf("ResumedFrom = %q, want %q", resumed.ResumedFrom, first.ID)
	}

	final := waitForState(t, s, resumed.ID)
	if final.State != StateCompleted {
		t.Fatalf("Resumed job ended %s: %s", final.State, final.Error)
	}
	if final.Iterations != 40 {
		t.Errorf("Expected 40 iterations in total, got %d", final.Iterations)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/unknown/resume", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown checkpoint, got %d", w.Code)
	}
}

func TestServer_Health(t *testing.T) {
	s := NewServer(":8080", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !containsString(w.Body.String(), `"status":"ok"`) {
		t.Errorf("Unexpected body %s", w.Body.String())
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	s := NewServer(":8080", nil)

	job := s.startJob(testConfig(), nil)
	waitForState(t, s, job.ID)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", job.ID), nil)
	w := httptest.NewRecorder()

	done := make(chan bool)
	go func() {
		s.handleJobStream(w, req, job.ID)
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stream of a finished job should close")
	}

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	body := w.Body.String()
	if !containsString(body, "data: {") {
		t.Fatal("Expected SSE data in response")
	}
	var event ProgressEvent
	line := strings.TrimPrefix(strings.SplitN(body, "\n", 2)[0], "data: ")
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("Failed to parse event: %v", err)
	}
	if event.State != StateCompleted || event.Iterations != 20 {
		t.Errorf("Unexpected event %+v", event)
	}
}

func TestServer_JobStream_Live(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	s := NewServer(":8080", nil)
	cfg := testConfig()
	cfg.Instance.Generate.NumVars = 400
	cfg.Instance.Generate.NumConstraints = 300
	cfg.Run.MaxIterations = 1000000
	job := s.startJob(cfg, nil)
	defer s.jobManager.CancelJob(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, job.ID)

	if n := strings.Count(w.Body.String(), "data: "); n < 2 {
		t.Errorf("Expected the initial event plus throttled updates, got %d events", n)
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:      "job1",
		State:      StateRunning,
		Iterations: 10,
		LowerBound: -100.5,
		Method:     "accelerated",
		Timestamp:  time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iterations != 10 {
			t.Errorf("Expected 10 iterations, got %d", received.Iterations)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers get the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.LowerBound != -100.5 {
			t.Errorf("Expected cached event, got %+v", received)
		}
	default:
		t.Error("Late subscriber should receive the cached event")
	}
	eb.Unsubscribe("job1", late)
}

func containsString(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}
