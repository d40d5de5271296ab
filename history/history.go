// Package history keeps a bounded record of recent execution results and
// assembles diagnostic bundles from them. Recording and bundle assembly are
// purely in-memory and synchronous; Save and Load carry the retained results
// across process invocations so diagnostics can span one-shot commands.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stormcell-dev/stormcell/core/cell"
)

const (
	defaultLimit        = 10
	defaultSummaryLimit = 500
)

// Config bounds the recorder.
type Config struct {
	// Limit is the number of results retained; the oldest is evicted first.
	Limit int `json:"limit" yaml:"limit"`
	// SummaryLimit is the per-entry output summary length in runes.
	SummaryLimit int `json:"summary_limit" yaml:"summary_limit"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Limit: defaultLimit, SummaryLimit: defaultSummaryLimit}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Limit > 0 {
		c.Limit = source.Limit
	}
	if source.SummaryLimit > 0 {
		c.SummaryLimit = source.SummaryLimit
	}
}

// Entry is one history line in a diagnostic bundle: what ran, how it ended,
// and a truncated view of what it printed.
type Entry struct {
	Code    string      `json:"code"`
	Status  cell.Status `json:"status"`
	Summary string      `json:"summary,omitempty"`
}

// Bundle is the context handed to the diagnostic collaborator: recent
// executions in chronological order with truncated summaries, plus the
// failing result's error kept verbatim. Tracebacks are never truncated here;
// cutting them would drop exactly the lines a diagnosis needs.
type Bundle struct {
	Entries     []Entry      `json:"entries"`
	FailingCode string       `json:"failing_code"`
	Status      cell.Status  `json:"status"`
	Error       *cell.Output `json:"error,omitempty"`
}

// Recorder is a bounded FIFO of execution results. Safe for concurrent use.
type Recorder struct {
	cfg Config

	mu      sync.Mutex
	results []cell.Result
}

// NewRecorder creates a recorder, filling in defaults for zero config values.
func NewRecorder(cfg Config) *Recorder {
	merged := DefaultConfig()
	merged.Merge(&cfg)
	return &Recorder{cfg: merged}
}

// Record appends a result, evicting the oldest when the limit is reached.
func (r *Recorder) Record(result cell.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	if len(r.results) > r.cfg.Limit {
		r.results = r.results[len(r.results)-r.cfg.Limit:]
	}
}

// Recent returns up to n results, oldest first. n <= 0 returns everything
// retained.
func (r *Recorder) Recent(n int) []cell.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.results) {
		n = len(r.results)
	}
	out := make([]cell.Result, n)
	copy(out, r.results[len(r.results)-n:])
	return out
}

// Len returns the number of retained results.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// Save writes the retained results to path as one JSON document, renamed
// into place so readers never observe a partial file.
func (r *Recorder) Save(path string) error {
	data, err := json.MarshalIndent(r.Recent(0), "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save history: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Load replaces the retained results with the document at path, keeping only
// the newest Limit entries. A missing file leaves the recorder untouched.
func (r *Recorder) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	var results []cell.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parse history %s: %w", filepath.Base(path), err)
	}
	if len(results) > r.cfg.Limit {
		results = results[len(results)-r.cfg.Limit:]
	}

	r.mu.Lock()
	r.results = results
	r.mu.Unlock()
	return nil
}

// BuildDiagnostic assembles the bundle for a failing result: every retained
// result as a truncated entry, then the failure's code, status, and error
// output carried verbatim.
func (r *Recorder) BuildDiagnostic(failing cell.Result) Bundle {
	recent := r.Recent(0)

	bundle := Bundle{
		Entries:     make([]Entry, 0, len(recent)),
		FailingCode: failing.Unit.Code,
		Status:      failing.Status,
		Error:       failing.Err(),
	}
	for _, result := range recent {
		bundle.Entries = append(bundle.Entries, Entry{
			Code:    result.Unit.Code,
			Status:  result.Status,
			Summary: result.TextSummary(r.cfg.SummaryLimit),
		})
	}
	return bundle
}
