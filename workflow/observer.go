package workflow

import "github.com/stormcell-dev/stormcell/observability"

// Workflow event types.
const (
	EventRunStart    observability.EventType = "workflow.run.start"
	EventStep        observability.EventType = "workflow.step"
	EventRunComplete observability.EventType = "workflow.run.complete"
)
