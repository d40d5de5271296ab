package kernel

import "errors"

// Sentinel errors for session lifecycle violations. Execution-level failures
// (timeouts, errors raised by the executed code) are never returned as
// errors; they surface as result statuses so callers can inspect them.
var (
	// ErrSessionBusy is returned by Execute while another unit is in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrSessionDead is returned by operations attempted after an
	// unrecoverable transport failure, until Reset succeeds.
	ErrSessionDead = errors.New("session dead: reset required")
	// ErrSessionClosed is returned after Shutdown.
	ErrSessionClosed = errors.New("session closed")
)
