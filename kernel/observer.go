package kernel

import "github.com/stormcell-dev/stormcell/observability"

// Kernel session event types emitted across the execution lifecycle.
const (
	EventExecuteStart    observability.EventType = "kernel.execute.start"
	EventExecuteComplete observability.EventType = "kernel.execute.complete"
	EventInterrupt       observability.EventType = "kernel.interrupt"
	EventRestart         observability.EventType = "kernel.restart"
	EventDead            observability.EventType = "kernel.dead"
)
