package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stormcell-dev/stormcell/core/cell"
)

// pendingFile is the document name the store writes under its directory.
const pendingFile = "pending.json"

// Store persists the pending units as one JSON document so the queue
// survives across process invocations. Commands load it into a fresh Queue
// on startup and save whatever is still pending on exit.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, pendingFile)
}

// Load returns the persisted pending units in execution order. A missing
// document means an empty queue, not an error.
func (s *Store) Load() ([]cell.Unit, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending queue: %w", err)
	}

	var units []cell.Unit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("parse %s: %w", pendingFile, err)
	}
	return units, nil
}

// Save replaces the persisted document with the given units, renamed into
// place so readers never observe a partial file.
func (s *Store) Save(units []cell.Unit) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pending queue: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("save pending queue: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save pending queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save pending queue: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save pending queue: %w", err)
	}
	return nil
}
