package queue

import "github.com/stormcell-dev/stormcell/observability"

// Queue event types.
const (
	EventEnqueue       observability.EventType = "queue.enqueue"
	EventDrainStart    observability.EventType = "queue.drain.start"
	EventDrainComplete observability.EventType = "queue.drain.complete"
)
