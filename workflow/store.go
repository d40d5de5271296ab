package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists workflows as one JSON document per workflow under a
// directory, keyed by the slugified name.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) (string, error) {
	slug, err := Slugify(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, slug+".json"), nil
}

// Create stores a new workflow, failing if one with the same slug exists.
func (s *Store) Create(wf *Workflow) error {
	path, err := s.path(wf.Name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, wf.Name)
	}
	return s.write(path, wf)
}

// Save stores a workflow, overwriting any previous version.
func (s *Store) Save(wf *Workflow) error {
	path, err := s.path(wf.Name)
	if err != nil {
		return err
	}
	return s.write(path, wf)
}

// write serializes the document and renames it into place so readers never
// observe a partial file.
func (s *Store) write(path string, wf *Workflow) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create workflow dir: %w", err)
	}

	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow %q: %w", wf.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", wf.Name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save workflow %q: %w", wf.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save workflow %q: %w", wf.Name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save workflow %q: %w", wf.Name, err)
	}
	return nil
}

// Load reads the workflow stored under the given name.
func (s *Store) Load(name string) (*Workflow, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("load workflow %q: %w", name, err)
	}

	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %q: %w", name, err)
	}
	return &wf, nil
}

// List returns all stored workflows sorted by name. A missing directory is
// an empty store, not an error.
func (s *Store) List() ([]*Workflow, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var workflows []*Workflow
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		var wf Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		workflows = append(workflows, &wf)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Name < workflows[j].Name })
	return workflows, nil
}

// Delete removes the stored workflow.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	return nil
}
