// Package config composes the per-package configuration sections and loads
// them from JSON or YAML files. Each section keeps its own defaults and
// merge rules; this package only assembles them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stormcell-dev/stormcell/agent"
	"github.com/stormcell-dev/stormcell/history"
	"github.com/stormcell-dev/stormcell/kernel"
	"github.com/stormcell-dev/stormcell/logbook"
)

// Queue holds the execution queue's drain defaults.
type Queue struct {
	// ContinueOnError keeps a drain going past failing units.
	ContinueOnError bool `json:"continue_on_error" yaml:"continue_on_error"`
}

// Workflow locates the workflow store.
type Workflow struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Config is the root configuration document.
type Config struct {
	Kernel   kernel.Config  `json:"kernel" yaml:"kernel"`
	History  history.Config `json:"history" yaml:"history"`
	Queue    Queue          `json:"queue" yaml:"queue"`
	Agent    agent.Config   `json:"agent" yaml:"agent"`
	Workflow Workflow       `json:"workflow" yaml:"workflow"`
	Logbook  logbook.Config `json:"logbook" yaml:"logbook"`

	// StateDir holds the state carried across invocations: the pending
	// queue and the recent execution history.
	StateDir string `json:"state_dir" yaml:"state_dir"`
	// AutoExecute runs planned units immediately instead of only queueing
	// them. Defaults to true; nil means unset.
	AutoExecute *bool `json:"auto_execute,omitempty" yaml:"auto_execute,omitempty"`
	// Observer names the registered observer handling events.
	Observer string `json:"observer" yaml:"observer"`
}

// DefaultConfig returns the fully defaulted root configuration.
func DefaultConfig() Config {
	return Config{
		Kernel:   kernel.DefaultConfig(),
		History:  history.DefaultConfig(),
		Agent:    agent.DefaultConfig(),
		Workflow: Workflow{Dir: "stormcell-workflows"},
		Logbook:  logbook.DefaultConfig(),
		StateDir: "stormcell-state",
		Observer: "slog",
	}
}

// Merge applies set values from source into c, section by section.
func (c *Config) Merge(source *Config) {
	c.Kernel.Merge(&source.Kernel)
	c.History.Merge(&source.History)
	c.Agent.Merge(&source.Agent)
	c.Logbook.Merge(&source.Logbook)

	if source.Queue.ContinueOnError {
		c.Queue.ContinueOnError = true
	}
	if source.Workflow.Dir != "" {
		c.Workflow.Dir = source.Workflow.Dir
	}
	if source.StateDir != "" {
		c.StateDir = source.StateDir
	}
	if source.AutoExecute != nil {
		c.AutoExecute = source.AutoExecute
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// AutoExec reports the effective auto-execute setting.
func (c Config) AutoExec() bool {
	if c.AutoExecute == nil {
		return true
	}
	return *c.AutoExecute
}

// Load reads a config file and merges it over the defaults. The format is
// chosen by extension: .yaml/.yml for YAML, anything else JSON.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var file Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	}

	cfg := DefaultConfig()
	cfg.Merge(&file)
	return cfg, nil
}
