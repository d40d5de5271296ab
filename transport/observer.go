package transport

import "github.com/stormcell-dev/stormcell/observability"

// Transport event types emitted while frames move to and from the kernel.
const (
	EventStart       observability.EventType = "transport.start"
	EventSend        observability.EventType = "transport.send"
	EventExit        observability.EventType = "transport.exit"
	EventDecodeError observability.EventType = "transport.decode.error"
	EventFrameDrop   observability.EventType = "transport.frame.drop"
)
