package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/dualaccel/internal/config"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

// createTestCheckpoint creates a valid checkpoint over the default configuration.
func createTestCheckpoint(jobID string) *Checkpoint {
	return &Checkpoint{
		JobID:             jobID,
		Costs:             []float64{0.5, -0.25, 1, 0},
		Layers:            4,
		LowerBound:        -12.5,
		InitialLowerBound: -20,
		Iteration:         150,
		Timestamp:         time.Now(),
		Config:            config.Default(),
	}
}

func TestNewFSStore(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(baseDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != baseDir {
		t.Errorf("Expected base dir %s, got %s", baseDir, store.BaseDir())
	}
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "test-job-123"
	if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "jobs", jobID, "checkpoint.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Checkpoint file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temp file should not exist after save: %s.tmp", expectedPath)
	}
}

func TestSaveCheckpoint_RejectsInvalid(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("", createTestCheckpoint("any-id")); err == nil {
		t.Error("Expected error for empty jobID")
	}
	if err := store.SaveCheckpoint("test-job", nil); err == nil {
		t.Error("Expected error for nil checkpoint")
	}

	bad := createTestCheckpoint("test-job")
	bad.Layers = 7
	err := store.SaveCheckpoint("test-job", bad)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %T: %v", err, err)
	}
}

func TestSaveCheckpoint_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "test-job-overwrite"
	first := createTestCheckpoint(jobID)
	first.LowerBound = -15
	second := createTestCheckpoint(jobID)
	second.LowerBound = -10

	if err := store.SaveCheckpoint(jobID, first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.SaveCheckpoint(jobID, second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LowerBound != -10 {
		t.Errorf("Expected LowerBound=-10, got %f", loaded.LowerBound)
	}
}

func TestLoadCheckpoint(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "test-job-load"
	original := createTestCheckpoint(jobID)
	if err := store.SaveCheckpoint(jobID, original); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.JobID != original.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", original.JobID, loaded.JobID)
	}
	if loaded.LowerBound != original.LowerBound {
		t.Errorf("LowerBound mismatch: expected %f, got %f", original.LowerBound, loaded.LowerBound)
	}
	if loaded.Iteration != original.Iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", original.Iteration, loaded.Iteration)
	}
	for i := range original.Costs {
		if loaded.Costs[i] != original.Costs[i] {
			t.Errorf("Costs[%d] mismatch: expected %v, got %v", i, original.Costs[i], loaded.Costs[i])
		}
	}
	if loaded.Config.Accelerator != original.Config.Accelerator {
		t.Errorf("Accelerator config mismatch: expected %+v, got %+v", original.Config.Accelerator, loaded.Config.Accelerator)
	}
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadCheckpoint("nonexistent-job")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %T: %v", err, err)
	}
	if _, err := store.LoadCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestLoadCheckpoint_Corrupted(t *testing.T) {
	store, tempDir := setupTestStore(t)

	dir := filepath.Join(tempDir, "jobs", "broken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create job directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte(`{"jobId": "broken"}`), 0644); err != nil {
		t.Fatalf("Failed to write checkpoint: %v", err)
	}

	if _, err := store.LoadCheckpoint("broken"); err == nil {
		t.Fatal("Expected error for checkpoint without costs")
	}
}

func TestListCheckpoints(t *testing.T) {
	store, tempDir := setupTestStore(t)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected empty list, got %d checkpoints", len(infos))
	}

	jobs := []string{"job-1", "job-2", "job-3"}
	for _, jobID := range jobs {
		if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
			t.Fatalf("Failed to save checkpoint %s: %v", jobID, err)
		}
	}

	// directories without checkpoint.json and loose files are skipped
	if err := os.MkdirAll(filepath.Join(tempDir, "jobs", "trace-only"), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "jobs", "dummy.txt"), []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create dummy file: %v", err)
	}

	infos, err = store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != len(jobs) {
		t.Fatalf("Expected %d checkpoints, got %d", len(jobs), len(infos))
	}
	found := make(map[string]bool)
	for _, info := range infos {
		found[info.JobID] = true
	}
	for _, jobID := range jobs {
		if !found[jobID] {
			t.Errorf("Job %s not found in list", jobID)
		}
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "test-job-delete"
	if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	tw, err := NewTraceWriter(tempDir, jobID, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Write(TraceEntry{Iteration: 1})
	tw.Close()

	if err := store.DeleteCheckpoint(jobID); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	if _, err := store.LoadCheckpoint(jobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError after delete, got %v", err)
	}
	if _, err := os.Stat(TracePath(tempDir, jobID)); !os.IsNotExist(err) {
		t.Error("Trace should be removed with the checkpoint")
	}

	if err := store.DeleteCheckpoint("nonexistent-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
	if err := store.DeleteCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numJobs = 10
	var wg sync.WaitGroup
	for i := 0; i < numJobs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			jobID := fmt.Sprintf("concurrent-job-%d", idx)
			if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
				t.Errorf("Concurrent save failed for job %s: %v", jobID, err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != numJobs {
		t.Errorf("Expected %d checkpoints, got %d", numJobs, len(infos))
	}
}
