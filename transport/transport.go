// Package transport provides the low-level bidirectional channel to the
// execution kernel subprocess. It frames requests as newline-delimited JSON
// on the kernel's stdin and demultiplexes the asynchronous reply and
// broadcast traffic on stdout by correlation id, buffering frames for
// correlation ids that have not been claimed yet.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/stormcell-dev/stormcell/core/protocol"
	"github.com/stormcell-dev/stormcell/observability"
)

const (
	// defaultBufferSize bounds each correlation id's broadcast mailbox.
	defaultBufferSize = 256
	// maxFrameBytes bounds a single inbound frame.
	maxFrameBytes = 4 << 20
)

// Transport is the channel the kernel session manager drives. Send returns
// the correlation id for the request; Reply and Broadcast suspend until the
// next matching frame, the context is cancelled, or the transport dies.
type Transport interface {
	// Send writes a request frame and returns its correlation id.
	Send(ctx context.Context, msgType string, content any) (string, error)
	// Reply returns the shell-channel reply for a correlation id.
	Reply(ctx context.Context, corrID string) (protocol.Message, error)
	// Broadcast returns the next iopub frame for a correlation id.
	Broadcast(ctx context.Context, corrID string) (protocol.Message, error)
	// Poll returns a buffered iopub frame without blocking.
	Poll(corrID string) (protocol.Message, bool)
	// Release discards buffered traffic for a finished correlation id.
	Release(corrID string)
	// Done is closed when the transport stops serving frames.
	Done() <-chan struct{}
	// Err reports why the transport stopped, nil while alive.
	Err() error
	// Close shuts the transport down. Safe to call more than once.
	Close() error
}

// Option configures a Conn.
type Option func(*Conn)

// WithObserver sets the observer receiving transport events.
func WithObserver(obs observability.Observer) Option {
	return func(c *Conn) { c.observer = obs }
}

// WithBufferSize overrides the per-correlation broadcast buffer size.
func WithBufferSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.router.bufferSize = n
		}
	}
}

// Conn is a Transport over a reader/writer pair. NewConn serves arbitrary
// streams (tests use in-memory pipes); Start wraps a spawned subprocess.
type Conn struct {
	writer   *bufio.Writer
	writeMu  sync.Mutex
	closer   io.Closer // writer side, closed on shutdown; may be nil
	router   *router
	observer observability.Observer

	done      chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	exitErr error

	stop func() // kills the subprocess; nil for pipe transports
}

// NewConn creates a transport over an existing stream pair and starts the
// read loop. The caller owns the streams' lifetime unless w is also an
// io.Closer, in which case Close closes it.
func NewConn(r io.Reader, w io.Writer, opts ...Option) *Conn {
	c := &Conn{
		writer:   bufio.NewWriter(w),
		router:   newRouter(defaultBufferSize),
		observer: observability.NoOpObserver{},
		done:     make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop(r)
	return c
}

func (c *Conn) Send(ctx context.Context, msgType string, content any) (string, error) {
	if err := c.aliveErr(); err != nil {
		return "", err
	}

	msg, err := protocol.NewRequest(msgType, content)
	if err != nil {
		return "", err
	}

	// Claim the mailbox before the frame hits the wire so replies are
	// routable even if they arrive before Send returns.
	if c.router.claim(msg.ID) == nil {
		return "", ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.router.release(msg.ID)
		return "", fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.aliveErr(); err != nil {
		c.router.release(msg.ID)
		return "", err
	}
	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		c.router.release(msg.ID)
		return "", c.fail(fmt.Errorf("write frame: %w", err))
	}
	if err := c.writer.Flush(); err != nil {
		c.router.release(msg.ID)
		return "", c.fail(fmt.Errorf("flush frame: %w", err))
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventSend,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "transport.Send",
		Data:      map[string]any{"type": msgType, "correlation_id": msg.ID},
	})

	return msg.ID, nil
}

func (c *Conn) Reply(ctx context.Context, corrID string) (protocol.Message, error) {
	return c.receive(ctx, corrID, true)
}

func (c *Conn) Broadcast(ctx context.Context, corrID string) (protocol.Message, error) {
	return c.receive(ctx, corrID, false)
}

func (c *Conn) receive(ctx context.Context, corrID string, reply bool) (protocol.Message, error) {
	box := c.router.claim(corrID)
	if box == nil {
		return protocol.Message{}, c.closedErr()
	}

	source := box.bcast
	if reply {
		source = box.reply
	}

	select {
	case msg := <-source:
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-c.done:
		// Drain anything routed before shutdown.
		select {
		case msg := <-source:
			return msg, nil
		default:
		}
		return protocol.Message{}, c.closedErr()
	}
}

func (c *Conn) Poll(corrID string) (protocol.Message, bool) {
	box := c.router.claim(corrID)
	if box == nil {
		return protocol.Message{}, false
	}
	select {
	case msg := <-box.bcast:
		return msg, true
	default:
		return protocol.Message{}, false
	}
}

func (c *Conn) Release(corrID string) {
	c.router.release(corrID)
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.exitErr
}

// Close shuts the transport down: best-effort shutdown request, then the
// write side is closed and any subprocess is stopped.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		// Best effort; the kernel may already be gone.
		if msg, err := protocol.NewRequest(protocol.MsgShutdownRequest, nil); err == nil {
			if data, err := json.Marshal(msg); err == nil {
				c.writeMu.Lock()
				c.writer.Write(append(data, '\n')) //nolint:errcheck
				c.writer.Flush()                   //nolint:errcheck
				c.writeMu.Unlock()
			}
		}

		c.setErr(ErrClosed)
		close(c.done)
		c.router.shutdown()

		if c.closer != nil {
			c.closer.Close() //nolint:errcheck
		}
		if c.stop != nil {
			c.stop()
		}
	})
	return nil
}

// fail records a fatal transport error and tears the connection down.
func (c *Conn) fail(err error) error {
	c.closeOnce.Do(func() {
		c.setErr(err)
		close(c.done)
		c.router.shutdown()
		if c.closer != nil {
			c.closer.Close() //nolint:errcheck
		}
		if c.stop != nil {
			c.stop()
		}
	})
	return err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.exitErr == nil {
		c.exitErr = err
	}
}

func (c *Conn) aliveErr() error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
		return nil
	}
}

func (c *Conn) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxFrameBytes)

	ctx := context.Background()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.observer.OnEvent(ctx, observability.Event{
				Type:      EventDecodeError,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "transport.readLoop",
				Data:      map[string]any{"error": err.Error()},
			})
			continue
		}

		if !c.router.route(msg) {
			c.observer.OnEvent(ctx, observability.Event{
				Type:      EventFrameDrop,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "transport.readLoop",
				Data: map[string]any{
					"type":           msg.Type,
					"correlation_id": msg.Parent,
				},
			})
		}
	}

	exitErr := ErrProcessExited
	if err := scanner.Err(); err != nil {
		exitErr = fmt.Errorf("%w: %v", ErrProcessExited, err)
	}

	select {
	case <-c.done:
		// Stream ended because the caller closed the transport.
	default:
		c.observer.OnEvent(ctx, observability.Event{
			Type:      EventExit,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "transport.readLoop",
			Data:      map[string]any{"error": exitErr.Error()},
		})
	}
	c.fail(exitErr) //nolint:errcheck
}
