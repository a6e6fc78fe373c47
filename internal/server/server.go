package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/dualaccel/internal/config"
	"github.com/cwbudde/dualaccel/internal/metrics"
	"github.com/cwbudde/dualaccel/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	worker     *worker
	registry   *prometheus.Registry
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server. checkpointStore may be nil, which
// disables checkpoints, traces and resuming.
func NewServer(addr string, checkpointStore store.Store) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	jm := NewJobManager()
	return &Server{
		jobManager: jm,
		worker: &worker{
			jm:              jm,
			checkpointStore: checkpointStore,
			emitter:         metrics.InitMetrics(registry),
		},
		registry: registry,
		addr:     addr,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Register API routes
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleListCheckpoints)

	// Wrap with middleware
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.jobManager.CancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// startJob registers and launches a job.
func (s *Server) startJob(cfg JobConfig, from *store.Checkpoint) *Job {
	job := s.jobManager.CreateJob(cfg)
	if from != nil {
		s.jobManager.UpdateJob(job.ID, func(j *Job) {
			j.ResumedFrom = from.JobID
			j.InitialLowerBound = from.InitialLowerBound
			j.LowerBound = from.LowerBound
			j.Iterations = from.Iteration
		})
		job, _ = s.jobManager.GetJob(job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.jobManager.setCancel(job.ID, cancel)
	go func() {
		defer cancel()
		s.worker.runJob(ctx, job.ID, from)
	}()
	return job
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": len(s.jobManager.GetRunningJobs()),
	})
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	// Parse job ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	// Route based on subpath
	switch {
	case sub == "" || sub == "status":
		s.handleGetJobStatus(w, r, jobID)
	case sub == "trace":
		s.handleGetTrace(w, r, jobID)
	case sub == "stream":
		s.handleJobStream(w, r, jobID)
	case sub == "cancel" && r.Method == http.MethodPost:
		s.handleCancelJob(w, r, jobID)
	case sub == "resume" && r.Method == http.MethodPost:
		s.handleResumeJob(w, r, jobID)
	case sub == "cancel" || sub == "resume":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs. Fields missing from the body
// keep their defaults.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	cfg := config.Default()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.startJob(cfg, nil)
	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	rate := float64(0)
	if elapsed.Seconds() > 0 {
		rate = float64(job.Iterations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":                  job.ID,
		"state":               job.State,
		"config":              job.Config,
		"lowerBound":          job.LowerBound,
		"initialLowerBound":   job.InitialLowerBound,
		"iterations":          job.Iterations,
		"method":              job.Method,
		"stepSize":            job.StepSize,
		"converged":           job.Converged,
		"primalCost":          job.PrimalCost,
		"resumedFrom":         job.ResumedFrom,
		"elapsed":             elapsed.Seconds(),
		"iterationsPerSecond": rate,
		"startTime":           job.StartTime,
		"endTime":             job.EndTime,
		"error":               job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace?since=N
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	dir := s.worker.traceDir()
	if dir == "" {
		http.Error(w, "Traces not enabled", http.StatusNotFound)
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	entries, err := store.ReadTrace(dir, jobID, since)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleResumeJob handles POST /api/v1/jobs/:id/resume. The id names a
// checkpoint; the new job continues from it under its stored configuration.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.worker.checkpointStore == nil {
		http.Error(w, "Checkpoints not enabled", http.StatusNotFound)
		return
	}
	if job, exists := s.jobManager.GetJob(jobID); exists && !job.State.Finished() {
		http.Error(w, "Job is still active", http.StatusConflict)
		return
	}

	checkpoint, err := s.worker.checkpointStore.LoadCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	job := s.startJob(checkpoint.Config, checkpoint)
	writeJSON(w, http.StatusCreated, job)
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.worker.checkpointStore == nil {
		writeJSON(w, http.StatusOK, []store.CheckpointInfo{})
		return
	}
	infos, err := s.worker.checkpointStore.ListCheckpoints()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
