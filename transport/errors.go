package transport

import "errors"

// Sentinel errors for transport operations.
var (
	// ErrStartFailed indicates the kernel subprocess could not be spawned.
	ErrStartFailed = errors.New("kernel process failed to start")
	// ErrClosed indicates the transport was closed by the caller.
	ErrClosed = errors.New("transport closed")
	// ErrProcessExited indicates the kernel subprocess died unexpectedly.
	ErrProcessExited = errors.New("kernel process exited")
)
