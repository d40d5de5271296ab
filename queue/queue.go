// Package queue holds code units awaiting execution and drains them, one at
// a time in submission order, against an executor. The queue decouples unit
// production (interactive input, plans, workflow steps) from the strictly
// serial kernel session consuming them.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/observability"
)

// Executor runs one code unit to completion. kernel.Session satisfies this.
type Executor interface {
	Execute(ctx context.Context, unit cell.Unit) (cell.Result, error)
}

// DrainOptions control how Drain reacts to unit outcomes.
type DrainOptions struct {
	// ContinueOnError keeps draining past units whose result status is not
	// ok. Executor errors (dead session, lost transport) always stop.
	ContinueOnError bool
	// OnResult is invoked after each unit finishes, before the stop check.
	OnResult func(cell.Result)
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	// Executed counts units that ran, whatever their status.
	Executed int
	// Stopped is true when the drain quit early on a non-ok result.
	Stopped bool
	// Results holds per-unit outcomes in execution order.
	Results []cell.Result
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver sets the observer receiving queue events.
func WithObserver(obs observability.Observer) Option {
	return func(q *Queue) { q.observer = obs }
}

// Queue is a FIFO of pending code units. All methods are safe for concurrent
// use; at most one Drain runs at a time.
type Queue struct {
	observer observability.Observer

	mu    sync.Mutex
	units []cell.Unit

	draining atomic.Bool
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends one unit behind everything pending.
func (q *Queue) Enqueue(unit cell.Unit) {
	q.mu.Lock()
	q.units = append(q.units, unit)
	pending := len(q.units)
	q.mu.Unlock()

	q.observer.OnEvent(context.Background(), observability.Event{
		Type:      EventEnqueue,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "queue.Enqueue",
		Data:      map[string]any{"unit_id": unit.ID, "origin": string(unit.Origin), "pending": pending},
	})
}

// EnqueueAll appends units in order behind everything pending.
func (q *Queue) EnqueueAll(units []cell.Unit) {
	for _, unit := range units {
		q.Enqueue(unit)
	}
}

// DequeueNext removes and returns the oldest pending unit.
func (q *Queue) DequeueNext() (cell.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.units) == 0 {
		return cell.Unit{}, false
	}
	unit := q.units[0]
	q.units = q.units[1:]
	return unit, true
}

// Pending returns a copy of the queued units in execution order.
func (q *Queue) Pending() []cell.Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]cell.Unit, len(q.units))
	copy(out, q.units)
	return out
}

// Remove deletes the pending unit with the given id, reporting whether it
// was found. Units already handed to an executor cannot be removed.
func (q *Queue) Remove(id string) (cell.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, unit := range q.units {
		if unit.ID == id {
			q.units = append(q.units[:i], q.units[i+1:]...)
			return unit, true
		}
	}
	return cell.Unit{}, false
}

// Len returns the number of pending units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// Drain executes pending units in order until the queue is empty, the
// context is cancelled, the executor fails, or a unit finishes with a non-ok
// status while ContinueOnError is off. Units enqueued during the drain are
// picked up behind those already pending. A second concurrent Drain returns
// ErrDrainInProgress.
func (q *Queue) Drain(ctx context.Context, executor Executor, opts DrainOptions) (DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainReport{}, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	q.observer.OnEvent(ctx, observability.Event{
		Type:      EventDrainStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "queue.Drain",
		Data:      map[string]any{"pending": q.Len()},
	})

	var report DrainReport
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		unit, ok := q.DequeueNext()
		if !ok {
			break
		}

		result, err := executor.Execute(ctx, unit)
		if err != nil {
			return report, err
		}

		report.Executed++
		report.Results = append(report.Results, result)
		if opts.OnResult != nil {
			opts.OnResult(result)
		}

		if result.Status != cell.StatusOK && !opts.ContinueOnError {
			report.Stopped = true
			break
		}
	}

	q.observer.OnEvent(ctx, observability.Event{
		Type:      EventDrainComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "queue.Drain",
		Data:      map[string]any{"executed": report.Executed, "stopped": report.Stopped},
	})
	return report, nil
}
