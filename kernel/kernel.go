// Package kernel manages the lifecycle of a single execution kernel session:
// starting the kernel subprocess, running one code unit at a time against it,
// interrupting and restarting it when an execution overruns its timeout, and
// declaring the session dead when the transport fails underneath it.
//
// Exactly one execution is in flight per session. Failures of the executed
// code (raised errors, timeouts, aborts) are reported as result statuses, not
// Go errors; Execute returns an error only when the session itself cannot
// serve the request.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/core/protocol"
	"github.com/stormcell-dev/stormcell/observability"
	"github.com/stormcell-dev/stormcell/transport"
)

// replyWait bounds the post-execution harvest of the shell reply. The reply
// normally lands before the idle status; this only covers reordering.
const replyWait = 250 * time.Millisecond

// escalatePoll is how often Interrupt checks whether the session has gone
// idle while waiting out the grace window.
const escalatePoll = 5 * time.Millisecond

// State is the session lifecycle state.
type State string

const (
	StateStarting   State = "starting"
	StateIdle       State = "idle"
	StateBusy       State = "busy"
	StateRestarting State = "restarting"
	StateDead       State = "dead"
)

// Internal cancellation causes distinguishing why an execution's drain loop
// was cut short.
var (
	errExecTimeout = errors.New("execution deadline exceeded")
	errExecAborted = errors.New("execution aborted by reset")
)

// TransportFactory creates the transport for a kernel subprocess. Sessions
// call it once at startup and again on every restart.
type TransportFactory func(ctx context.Context) (transport.Transport, error)

// Option configures a Session.
type Option func(*Session)

// WithObserver sets the observer receiving session events.
func WithObserver(obs observability.Observer) Option {
	return func(s *Session) { s.observer = obs }
}

// WithTransportFactory overrides how the session connects to its kernel.
// Tests substitute scripted transports here.
func WithTransportFactory(f TransportFactory) Option {
	return func(s *Session) { s.factory = f }
}

// Session owns one kernel subprocess and serializes executions against it.
type Session struct {
	cfg      Config
	factory  TransportFactory
	observer observability.Observer

	mu     sync.Mutex
	tr     transport.Transport
	state  State
	abort  chan struct{} // closed on restart to cut an in-flight execution loose
	closed bool
}

// New starts a kernel session. The returned session is idle and ready to
// execute, or an error is returned and no subprocess is left behind.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	s := &Session{
		cfg:      merged,
		observer: observability.NoOpObserver{},
		state:    StateStarting,
		abort:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = func(ctx context.Context) (transport.Transport, error) {
			return transport.Start(ctx, s.cfg.Command,
				transport.WithObserver(s.observer),
				transport.WithBufferSize(s.cfg.BufferSize))
		}
	}

	tr, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("start kernel: %w", err)
	}

	s.mu.Lock()
	s.tr = tr
	s.state = StateIdle
	s.mu.Unlock()

	go s.watch(tr)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Execute runs one code unit to completion and returns its result. The unit's
// outputs are collected in kernel emission order. A raised error, a timeout,
// or a concurrent Reset produce results with the corresponding status; only
// session-level failures (busy, dead, closed, lost connection) return errors.
func (s *Session) Execute(ctx context.Context, unit cell.Unit) (cell.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return cell.Result{}, ErrSessionClosed
	}
	switch s.state {
	case StateIdle:
	case StateDead:
		s.mu.Unlock()
		return cell.Result{}, ErrSessionDead
	default:
		s.mu.Unlock()
		return cell.Result{}, ErrSessionBusy
	}
	s.state = StateBusy
	tr := s.tr
	abort := s.abort
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		// A restart or death during execution already moved the state on.
		if s.state == StateBusy {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	start := time.Now()
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventExecuteStart,
		Level:     observability.LevelInfo,
		Timestamp: start,
		Source:    "kernel.Execute",
		Data:      map[string]any{"unit_id": unit.ID, "origin": string(unit.Origin)},
	})

	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := time.AfterFunc(s.cfg.Timeout(), func() { cancel(errExecTimeout) })
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-abort:
			cancel(errExecAborted)
		case <-watchDone:
		case <-execCtx.Done():
		}
	}()

	corrID, err := tr.Send(execCtx, protocol.MsgExecuteRequest, protocol.ExecuteRequest{Code: unit.Code})
	if err != nil {
		select {
		case <-abort:
			result := cell.Result{Unit: unit, Status: cell.StatusAborted, Duration: time.Since(start)}
			s.emitComplete(ctx, unit, result)
			return result, nil
		default:
			return cell.Result{}, s.connectionLost(ctx, err)
		}
	}
	defer tr.Release(corrID)

	result := cell.Result{Unit: unit, Status: cell.StatusOK}

	for {
		msg, err := tr.Broadcast(execCtx, corrID)
		if err != nil {
			cause := context.Cause(execCtx)
			switch {
			case errors.Is(cause, errExecAborted):
				result.Status = cell.StatusAborted
			case errors.Is(cause, errExecTimeout):
				s.recoverTimeout(ctx, tr, corrID)
				result.Status = cell.StatusTimeout
			case ctx.Err() != nil:
				return cell.Result{}, ctx.Err()
			default:
				// A reset closes the abort channel before it closes the
				// transport, so a transport failure observed with the
				// channel already closed is the reset, not a lost kernel.
				select {
				case <-abort:
					result.Status = cell.StatusAborted
				default:
					return cell.Result{}, s.connectionLost(ctx, err)
				}
			}
			result.Duration = time.Since(start)
			s.emitComplete(ctx, unit, result)
			return result, nil
		}

		if out, ok := msg.AsOutput(); ok {
			result.Outputs = append(result.Outputs, out)
			if out.Type == cell.OutputError {
				result.Status = cell.StatusError
			}
			continue
		}
		if msg.IsIdle() {
			break
		}
	}
	timer.Stop()

	// Best-effort harvest of the shell reply for the execution count. The
	// broadcast stream already determined the status.
	replyCtx, replyCancel := context.WithTimeout(ctx, replyWait)
	if msg, err := tr.Reply(replyCtx, corrID); err == nil {
		var reply protocol.ExecuteReply
		if err := msg.DecodeContent(&reply); err == nil {
			result.ExecutionCount = reply.ExecutionCount
			if reply.Status == protocol.ReplyError && result.Status == cell.StatusOK {
				result.Status = cell.StatusError
			}
		}
	}
	replyCancel()

	result.Duration = time.Since(start)
	s.emitComplete(ctx, unit, result)
	return result, nil
}

// Interrupt asks the kernel to abandon the current execution: one interrupt
// request, then a grace window for the session to go idle. The in-flight
// Execute keeps draining; if the kernel honors the interrupt it emits an
// error output and goes idle as usual. A kernel still busy after the grace
// window is restarted, resolving the in-flight execution as aborted.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	tr := s.tr
	busy := s.state == StateBusy
	s.mu.Unlock()
	if tr == nil {
		return ErrSessionDead
	}

	corrID, err := tr.Send(ctx, protocol.MsgInterruptRequest, nil)
	if err != nil {
		return fmt.Errorf("interrupt kernel: %w", err)
	}
	tr.Release(corrID)

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventInterrupt,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "kernel.Interrupt",
	})
	if !busy {
		return nil
	}

	deadline := time.Now().Add(s.cfg.InterruptGrace())
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		settled := s.state != StateBusy || s.tr != tr
		s.mu.Unlock()
		if settled {
			return nil
		}
		time.Sleep(escalatePoll)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent Reset or a kernel that went idle during the last poll
	// interval needs no restart.
	if s.state != StateBusy || s.tr != tr {
		return nil
	}
	return s.restartLocked(ctx)
}

// Reset discards the current kernel subprocess and starts a fresh one. Any
// in-flight execution resolves with an aborted status. All interpreter state
// accumulated in the old kernel is lost.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.restartLocked(ctx)
}

// Shutdown stops the kernel subprocess and closes the session for good.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = StateDead
	if old := s.tr; old != nil {
		s.tr = nil
		return old.Close()
	}
	return nil
}

// recoverTimeout handles an execution that overran its timeout: interrupt
// the kernel, wait out the grace window for it to go idle, and restart the
// subprocess if it never does.
func (s *Session) recoverTimeout(ctx context.Context, tr transport.Transport, corrID string) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventInterrupt,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "kernel.Execute",
		Data:      map[string]any{"correlation_id": corrID, "reason": "timeout"},
	})

	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.InterruptGrace())
	defer cancel()

	if intID, err := tr.Send(graceCtx, protocol.MsgInterruptRequest, nil); err == nil {
		tr.Release(intID)
		for {
			msg, err := tr.Broadcast(graceCtx, corrID)
			if err != nil {
				break
			}
			if msg.IsIdle() {
				// Kernel honored the interrupt; same subprocess stays up.
				return
			}
		}
	}

	s.mu.Lock()
	s.restartLocked(ctx) //nolint:errcheck
	s.mu.Unlock()
}

// restartLocked replaces the transport. Caller holds s.mu. Any execution
// draining the old transport is cut loose through the abort channel and the
// old subprocess is torn down before the new one starts.
func (s *Session) restartLocked(ctx context.Context) error {
	s.state = StateRestarting
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventRestart,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "kernel.Session",
	})

	close(s.abort)
	s.abort = make(chan struct{})

	if old := s.tr; old != nil {
		s.tr = nil
		old.Close() //nolint:errcheck
	}

	tr, err := s.factory(ctx)
	if err != nil {
		s.state = StateDead
		s.observer.OnEvent(ctx, observability.Event{
			Type:      EventDead,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "kernel.Session",
			Data:      map[string]any{"error": err.Error()},
		})
		return fmt.Errorf("restart kernel: %w", err)
	}

	s.tr = tr
	s.state = StateIdle
	go s.watch(tr)
	return nil
}

// connectionLost marks the session dead after a transport failure and wraps
// the underlying error.
func (s *Session) connectionLost(ctx context.Context, err error) error {
	s.mu.Lock()
	if !s.closed && s.state != StateDead {
		s.state = StateDead
		s.tr = nil
		s.observer.OnEvent(ctx, observability.Event{
			Type:      EventDead,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "kernel.Session",
			Data:      map[string]any{"error": err.Error()},
		})
	}
	s.mu.Unlock()
	return fmt.Errorf("kernel connection lost: %w", err)
}

// watch marks the session dead if its transport stops while the session
// still considers it current.
func (s *Session) watch(tr transport.Transport) {
	<-tr.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr != tr || s.closed || s.state == StateDead || s.state == StateRestarting {
		return
	}
	s.tr = nil
	s.state = StateDead
	data := map[string]any{}
	if err := tr.Err(); err != nil {
		data["error"] = err.Error()
	}
	s.observer.OnEvent(context.Background(), observability.Event{
		Type:      EventDead,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    "kernel.Session",
		Data:      data,
	})
}

func (s *Session) emitComplete(ctx context.Context, unit cell.Unit, result cell.Result) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventExecuteComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "kernel.Execute",
		Data: map[string]any{
			"unit_id":     unit.ID,
			"status":      string(result.Status),
			"duration_ms": result.Duration.Milliseconds(),
			"outputs":     len(result.Outputs),
		},
	})
}
