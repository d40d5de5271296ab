// Package workflow models reusable multi-step procedures: ordered sequences
// of plan and execute steps that can be edited, stored as JSON documents,
// and run against a kernel session.
package workflow

import (
	"fmt"
	"strings"
	"time"
)

// StepType tags the closed set of step variants.
type StepType string

const (
	// StepPlan asks the planning collaborator to expand a goal into units.
	StepPlan StepType = "plan"
	// StepExecute runs a fixed piece of code.
	StepExecute StepType = "execute"
)

// Step is one workflow step. Exactly one variant's fields are populated,
// selected by Type.
type Step struct {
	Type StepType `json:"type"`

	// StepPlan fields.
	Goal    string `json:"goal,omitempty"`
	Context string `json:"context,omitempty"`

	// StepExecute fields. Path names a file whose contents the caller
	// resolves into Code before the workflow runs.
	Code string `json:"code,omitempty"`
	Path string `json:"path,omitempty"`
}

// PlanStep builds a plan step.
func PlanStep(goal, context string) Step {
	return Step{Type: StepPlan, Goal: goal, Context: context}
}

// ExecuteStep builds an execute step with inline code.
func ExecuteStep(code string) Step {
	return Step{Type: StepExecute, Code: code}
}

// Validate checks that the step's variant fields are coherent.
func (s Step) Validate() error {
	switch s.Type {
	case StepPlan:
		if strings.TrimSpace(s.Goal) == "" {
			return fmt.Errorf("%w: plan step requires a goal", ErrInvalidStep)
		}
	case StepExecute:
		if s.Code == "" && s.Path == "" {
			return fmt.Errorf("%w: execute step requires code or a path", ErrInvalidStep)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidStep, s.Type)
	}
	return nil
}

// Workflow is a named, ordered sequence of steps.
type Workflow struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New creates an empty workflow.
func New(name, description string) (*Workflow, error) {
	if _, err := Slugify(name); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Workflow{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// AppendStep validates the step and adds it at the end.
func (w *Workflow) AppendStep(step Step) error {
	if err := step.Validate(); err != nil {
		return err
	}
	w.Steps = append(w.Steps, step)
	w.UpdatedAt = time.Now()
	return nil
}

// InsertStep validates the step and inserts it at index i, shifting later
// steps down. i == len(Steps) appends.
func (w *Workflow) InsertStep(i int, step Step) error {
	if i < 0 || i > len(w.Steps) {
		return fmt.Errorf("%w: insert at %d of %d", ErrIndexOutOfRange, i, len(w.Steps))
	}
	if err := step.Validate(); err != nil {
		return err
	}
	w.Steps = append(w.Steps, Step{})
	copy(w.Steps[i+1:], w.Steps[i:])
	w.Steps[i] = step
	w.UpdatedAt = time.Now()
	return nil
}

// MoveStep relocates the step at from to position to. Both indices address
// the current step list; an out-of-range index leaves the workflow untouched.
func (w *Workflow) MoveStep(from, to int) error {
	n := len(w.Steps)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d to %d of %d", ErrIndexOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}
	step := w.Steps[from]
	w.Steps = append(w.Steps[:from], w.Steps[from+1:]...)
	w.Steps = append(w.Steps[:to], append([]Step{step}, w.Steps[to:]...)...)
	w.UpdatedAt = time.Now()
	return nil
}

// RemoveStep deletes the step at index i.
func (w *Workflow) RemoveStep(i int) error {
	if i < 0 || i >= len(w.Steps) {
		return fmt.Errorf("%w: remove %d of %d", ErrIndexOutOfRange, i, len(w.Steps))
	}
	w.Steps = append(w.Steps[:i], w.Steps[i+1:]...)
	w.UpdatedAt = time.Now()
	return nil
}

// Slugify reduces a workflow name to its storage key: lowercase, runs of
// non-alphanumerics collapsed to single hyphens.
func Slugify(name string) (string, error) {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return slug, nil
}
