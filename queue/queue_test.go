package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormcell-dev/stormcell/core/cell"
)

// scriptedExecutor returns canned statuses keyed by unit code; unknown codes
// succeed. A nil status map with err set makes every call fail.
type scriptedExecutor struct {
	mu       sync.Mutex
	statuses map[string]cell.Status
	err      error
	executed []string
	block    chan struct{} // when set, Execute waits until closed
}

func (e *scriptedExecutor) Execute(ctx context.Context, unit cell.Unit) (cell.Result, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return cell.Result{}, ctx.Err()
		}
	}
	if e.err != nil {
		return cell.Result{}, e.err
	}

	e.mu.Lock()
	e.executed = append(e.executed, unit.Code)
	e.mu.Unlock()

	status := cell.StatusOK
	if s, ok := e.statuses[unit.Code]; ok {
		status = s
	}
	return cell.Result{Unit: unit, Status: status}, nil
}

func (e *scriptedExecutor) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func units(codes ...string) []cell.Unit {
	out := make([]cell.Unit, len(codes))
	for i, code := range codes {
		out[i] = cell.NewUnit(code, cell.OriginInteractive)
	}
	return out
}

func TestDrainRunsInSubmissionOrder(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a", "b", "c"))

	exec := &scriptedExecutor{}
	report, err := q.Drain(context.Background(), exec, DrainOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Executed)
	assert.False(t, report.Stopped)
	assert.Equal(t, []string{"a", "b", "c"}, exec.order())
	assert.Zero(t, q.Len())
}

func TestDrainStopsOnFirstFailure(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a", "bad", "c"))

	exec := &scriptedExecutor{statuses: map[string]cell.Status{"bad": cell.StatusError}}
	report, err := q.Drain(context.Background(), exec, DrainOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Executed)
	assert.True(t, report.Stopped)
	assert.Equal(t, []string{"a", "bad"}, exec.order())
	// The unexecuted unit stays pending for the next drain.
	require.Equal(t, 1, q.Len())
	assert.Equal(t, "c", q.Pending()[0].Code)
}

func TestDrainContinueOnError(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a", "bad", "c"))

	exec := &scriptedExecutor{statuses: map[string]cell.Status{"bad": cell.StatusError}}
	report, err := q.Drain(context.Background(), exec, DrainOptions{ContinueOnError: true})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Executed)
	assert.False(t, report.Stopped)
	assert.Equal(t, []string{"a", "bad", "c"}, exec.order())
}

func TestDrainExecutorErrorAborts(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a", "b"))

	boom := errors.New("session dead")
	exec := &scriptedExecutor{err: boom}
	report, err := q.Drain(context.Background(), exec, DrainOptions{})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, report.Executed)
	// Only the unit handed to the executor is consumed.
	assert.Equal(t, 1, q.Len())
}

func TestDrainSingleDrainer(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a"))

	gate := make(chan struct{})
	exec := &scriptedExecutor{block: gate}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Drain(context.Background(), exec, DrainOptions{}) //nolint:errcheck
	}()

	// Wait until the first drain is inside Execute.
	for q.Len() != 0 {
		time.Sleep(time.Millisecond)
	}
	_, err := q.Drain(context.Background(), exec, DrainOptions{})
	require.ErrorIs(t, err, ErrDrainInProgress)

	close(gate)
	<-done

	// The guard releases once the first drain returns.
	_, err = q.Drain(context.Background(), exec, DrainOptions{})
	require.NoError(t, err)
}

func TestDrainPicksUpUnitsEnqueuedMidDrain(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a"))

	exec := &scriptedExecutor{}
	report, err := q.Drain(context.Background(), exec, DrainOptions{
		OnResult: func(r cell.Result) {
			if r.Unit.Code == "a" {
				q.Enqueue(cell.NewUnit("late", cell.OriginInteractive))
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, []string{"a", "late"}, exec.order())
}

func TestRemove(t *testing.T) {
	q := New()
	us := units("a", "b", "c")
	q.EnqueueAll(us)

	removed, ok := q.Remove(us[1].ID)
	require.True(t, ok)
	assert.Equal(t, "b", removed.Code)
	assert.Equal(t, 2, q.Len())

	_, ok = q.Remove("no-such-id")
	assert.False(t, ok)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Code)
	assert.Equal(t, "c", pending[1].Code)
}

func TestDrainHonorsContextCancellation(t *testing.T) {
	q := New()
	q.EnqueueAll(units("a", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{}
	_, err := q.Drain(ctx, exec, DrainOptions{
		OnResult: func(cell.Result) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, exec.order())
}
