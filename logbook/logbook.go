// Package logbook durably records a session: an append-only events.jsonl, a
// notebook document replaying the executed cells with their outputs, and a
// markdown narrative. One Book corresponds to one session directory named
// after the session's timestamp stem.
package logbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stormcell-dev/stormcell/core/cell"
)

const stemLayout = "20060102-150405"

// Config locates the logbook on disk.
type Config struct {
	// Root is the directory holding one subdirectory per session.
	Root string `json:"root" yaml:"root"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Root: "stormcell-logs"}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Root != "" {
		c.Root = source.Root
	}
}

// Event kinds written to events.jsonl.
const (
	EventUnitSubmitted = "unit_submitted"
	EventResult        = "result"
	EventWorkflowStep  = "workflow_step"
	EventSessionReset  = "session_reset"
	EventPlan          = "plan"
)

// record is one events.jsonl line.
type record struct {
	Time time.Time `json:"time"`
	Kind string    `json:"kind"`
	Data any       `json:"data,omitempty"`
}

// sessionMeta is the session.json document written by Finish.
type sessionMeta struct {
	Stem       string    `json:"stem"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Events     int       `json:"events"`
	Results    int       `json:"results"`
}

// Book records one session. Safe for concurrent use.
type Book struct {
	dir       string
	stem      string
	startedAt time.Time

	mu         sync.Mutex
	events     *os.File
	eventCount int
	results    []cell.Result
	summary    string
	finished   bool
}

// Open creates the session directory under cfg.Root and starts the event
// log. The stem is the current timestamp; collisions within the same second
// get a numeric suffix.
func Open(cfg Config) (*Book, error) {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	now := time.Now()
	dir, stem, err := uniqueSessionDir(merged.Root, now.Format(stemLayout))
	if err != nil {
		return nil, err
	}

	events, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	return &Book{dir: dir, stem: stem, startedAt: now, events: events}, nil
}

// uniqueSessionDir creates root/<stem>, retrying with -2, -3, ... suffixes
// until a fresh directory is claimed.
func uniqueSessionDir(root, base string) (string, string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", fmt.Errorf("create logbook root: %w", err)
	}

	stem := base
	for i := 2; ; i++ {
		dir := filepath.Join(root, stem)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, stem, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("create session dir: %w", err)
		}
		stem = fmt.Sprintf("%s-%d", base, i)
	}
}

// Dir returns the session directory path.
func (b *Book) Dir() string { return b.dir }

// Stem returns the session's timestamp stem.
func (b *Book) Stem() string { return b.stem }

// LogUnitSubmitted records a unit entering the pipeline.
func (b *Book) LogUnitSubmitted(unit cell.Unit) error {
	return b.append(EventUnitSubmitted, map[string]any{
		"unit_id": unit.ID,
		"origin":  string(unit.Origin),
		"code":    unit.Code,
	})
}

// LogResult records an execution result and refreshes the notebook and
// markdown documents.
func (b *Book) LogResult(result cell.Result) error {
	if err := b.append(EventResult, map[string]any{
		"unit_id":         result.Unit.ID,
		"status":          string(result.Status),
		"duration_ms":     result.Duration.Milliseconds(),
		"execution_count": result.ExecutionCount,
		"outputs":         len(result.Outputs),
	}); err != nil {
		return err
	}

	b.mu.Lock()
	b.results = append(b.results, result)
	b.mu.Unlock()

	return b.render()
}

// LogWorkflowStep records one workflow step boundary.
func (b *Book) LogWorkflowStep(workflow string, step int, failed bool) error {
	return b.append(EventWorkflowStep, map[string]any{
		"workflow": workflow,
		"step":     step,
		"failed":   failed,
	})
}

// LogPlan records a plan expansion.
func (b *Book) LogPlan(goal string, units int) error {
	return b.append(EventPlan, map[string]any{"goal": goal, "units": units})
}

// LogSessionReset records a kernel reset; interpreter state before this
// point is gone.
func (b *Book) LogSessionReset() error {
	return b.append(EventSessionReset, nil)
}

// SetSummary sets the narrative's opening line.
func (b *Book) SetSummary(summary string) {
	b.mu.Lock()
	b.summary = summary
	b.mu.Unlock()
}

// Finish renders the final documents, writes session.json, and closes the
// event log. The book accepts no further records.
func (b *Book) Finish() error {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return nil
	}
	b.finished = true
	meta := sessionMeta{
		Stem:       b.stem,
		StartedAt:  b.startedAt,
		FinishedAt: time.Now(),
		Events:     b.eventCount,
		Results:    len(b.results),
	}
	events := b.events
	b.mu.Unlock()

	if err := b.render(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(b.dir, "session.json"), append(data, '\n')); err != nil {
		return err
	}
	return events.Close()
}

// append writes one events.jsonl line.
func (b *Book) append(kind string, data any) error {
	line, err := json.Marshal(record{Time: time.Now(), Kind: kind, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return fmt.Errorf("logbook %s already finished", b.stem)
	}
	if _, err := b.events.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	b.eventCount++
	return nil
}

// render rewrites the notebook and markdown documents from the recorded
// results.
func (b *Book) render() error {
	b.mu.Lock()
	results := append([]cell.Result(nil), b.results...)
	summary := b.summary
	b.mu.Unlock()

	nb, err := renderNotebook(results)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(b.dir, b.stem+".ipynb"), nb); err != nil {
		return err
	}

	md := renderMarkdown(b.stem, b.startedAt, summary, results)
	return writeAtomic(filepath.Join(b.dir, b.stem+".md"), md)
}

// writeAtomic writes data through a temp file rename so partially written
// documents are never observable.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
