package workflow

import "errors"

var (
	// ErrIndexOutOfRange is returned by step edits addressing a position
	// outside the workflow. The workflow is left unmodified.
	ErrIndexOutOfRange = errors.New("step index out of range")
	// ErrInvalidStep is returned for steps missing their variant's fields.
	ErrInvalidStep = errors.New("invalid step")
	// ErrInvalidName is returned for names that slugify to nothing.
	ErrInvalidName = errors.New("invalid workflow name")
	// ErrExists is returned by Create when the name is already taken.
	ErrExists = errors.New("workflow already exists")
	// ErrNotFound is returned when no stored workflow matches the name.
	ErrNotFound = errors.New("workflow not found")
	// ErrNoPlanner is returned by Run for plan steps when the runner was
	// built without a planner.
	ErrNoPlanner = errors.New("no planner configured")
)
