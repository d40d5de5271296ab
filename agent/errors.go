package agent

import "errors"

var (
	// ErrPlanFailed is returned by Plan when generation or parsing fails
	// and the fallback is "error".
	ErrPlanFailed = errors.New("plan generation failed")
	// ErrBadHost is returned for an unparseable backend URL.
	ErrBadHost = errors.New("invalid model host")
)
