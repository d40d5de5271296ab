package transport

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/stormcell-dev/stormcell/observability"
)

// killGrace is how long Close waits for a clean kernel exit before killing.
const killGrace = 3 * time.Second

// Start spawns the kernel subprocess described by command and returns a
// Transport wired to its stdio. The subprocess speaks the wire protocol on
// stdin/stdout; stderr is captured so crash reports carry the kernel's last
// words.
func Start(ctx context.Context, command []string, opts ...Option) (*Conn, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty kernel command", ErrStartFailed)
	}

	cmd := exec.Command(command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrStartFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrStartFailed, err)
	}

	stderr := newTailBuffer(8 << 10)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	conn := NewConn(stdout, stdin, opts...)

	exited := make(chan struct{})
	conn.stop = func() {
		select {
		case <-exited:
		case <-time.After(killGrace):
			cmd.Process.Kill() //nolint:errcheck
		}
	}

	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			if tail := stderr.String(); tail != "" {
				err = fmt.Errorf("%v; stderr: %s", err, tail)
			}
			conn.fail(fmt.Errorf("%w: %v", ErrProcessExited, err)) //nolint:errcheck
			return
		}
		conn.fail(ErrProcessExited) //nolint:errcheck
	}()

	conn.observer.OnEvent(ctx, observability.Event{
		Type:      EventStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.Start",
		Data:      map[string]any{"command": command[0], "pid": cmd.Process.Pid},
	})

	return conn, nil
}

// tailBuffer keeps the last cap bytes written to it. Used to surface the
// kernel's final stderr output when the process dies.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
