package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/dualaccel/internal/lbfgs"
	"github.com/cwbudde/dualaccel/internal/solve"
)

const traceFile = "trace.jsonl"

// TraceEntry is one outer iteration, stored as a JSON line in trace.jsonl.
type TraceEntry struct {
	Iteration    int           `json:"iteration"`
	LowerBound   float64       `json:"lowerBound"`
	Method       string        `json:"method"`           // base or accelerated
	Search       string        `json:"search,omitempty"` // step size search outcome of accelerated iterations
	StepSize     float64       `json:"stepSize"`
	HistoryLen   int           `json:"historyLen"`
	Unsuccessful int           `json:"unsuccessful"`
	Flushes      int           `json:"flushes,omitempty"`
	Duration     time.Duration `json:"durationNs"`
	Timestamp    time.Time     `json:"timestamp"`
}

// TracePath returns the trace file of a job.
func TracePath(baseDir, jobID string) string {
	return filepath.Join(baseDir, "jobs", jobID, traceFile)
}

// TraceWriter appends entries to a job's trace. Writes are buffered; it is
// safe for concurrent use.
type TraceWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	path string
}

// NewTraceWriter opens the trace of jobID below baseDir, truncating it
// unless appendMode is set (resumed jobs keep their earlier iterations).
func NewTraceWriter(baseDir, jobID string, appendMode bool) (*TraceWriter, error) {
	path := TracePath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{file: file, buf: buf, enc: json.NewEncoder(buf), path: path}, nil
}

// Write buffers one entry. The encoder terminates each entry with a newline.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// EntryFromProgress converts one solver iteration.
func EntryFromProgress(p solve.Progress) TraceEntry {
	entry := TraceEntry{
		Iteration:    p.Iteration,
		LowerBound:   p.LowerBound,
		Method:       p.Method.String(),
		StepSize:     p.StepSize,
		HistoryLen:   p.HistoryLen,
		Unsuccessful: p.Unsuccessful,
		Flushes:      p.Flushes,
		Duration:     p.Elapsed,
		Timestamp:    time.Now(),
	}
	if p.Method == lbfgs.MethodAccelerated {
		entry.Search = p.Search.String()
	}
	return entry
}

// Hook returns a progress hook that writes every iteration. After the first
// failed write the hook logs and stops writing.
func (tw *TraceWriter) Hook() solve.Hook {
	failed := false
	return func(p solve.Progress) {
		if failed {
			return
		}
		if err := tw.Write(EntryFromProgress(p)); err != nil {
			slog.Warn("Failed to write trace, disabling", "path", tw.path, "error", err)
			failed = true
		}
	}
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	flushErr := tw.buf.Flush()
	closeErr := tw.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush on close: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close trace file: %w", closeErr)
	}
	return nil
}

// Path returns the filesystem path of the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader decodes trace entries one at a time.
type TraceReader struct {
	file *os.File
	dec  *json.Decoder
}

// NewTraceReader opens the trace of jobID. A missing trace is a *NotFoundError.
func NewTraceReader(baseDir, jobID string) (*TraceReader, error) {
	file, err := os.Open(TracePath(baseDir, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &TraceReader{file: file, dec: json.NewDecoder(bufio.NewReader(file))}, nil
}

// Read returns the next entry, or io.EOF at the end of the trace.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	var entry TraceEntry
	if err := tr.dec.Decode(&entry); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads the remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the underlying file.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// ReadTrace loads the whole trace of a job. When since > 0 only entries with
// a larger iteration number are returned.
func ReadTrace(baseDir, jobID string, since int) ([]TraceEntry, error) {
	tr, err := NewTraceReader(baseDir, jobID)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		return nil, err
	}
	if since <= 0 {
		return entries, nil
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Iteration > since {
			out = append(out, e)
		}
	}
	return out, nil
}

// DeleteTrace removes the trace file of a job. A missing file is not an error.
func DeleteTrace(baseDir, jobID string) error {
	err := os.Remove(TracePath(baseDir, jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
