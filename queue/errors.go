package queue

import "errors"

// ErrDrainInProgress is returned by Drain while another drain holds the
// queue. Exactly one drainer runs at a time; callers retry after it returns.
var ErrDrainInProgress = errors.New("drain already in progress")
