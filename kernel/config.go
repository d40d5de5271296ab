package kernel

import "time"

const (
	defaultTimeoutSeconds        = 60
	defaultInterruptGraceSeconds = 5
	defaultBufferSize            = 256
)

// Config holds kernel session initialization parameters. Durations are
// expressed in seconds so config files stay plain numbers.
type Config struct {
	// Command launches the kernel subprocess.
	Command []string `json:"command" yaml:"command"`
	// TimeoutSeconds bounds a single execution.
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`
	// InterruptGraceSeconds is how long to wait for the kernel to go idle
	// after an interrupt before the subprocess is restarted.
	InterruptGraceSeconds float64 `json:"interrupt_grace_seconds" yaml:"interrupt_grace_seconds"`
	// BufferSize bounds the per-execution broadcast mailbox.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Command:               []string{"python3", "-u", "-m", "stormcell_kernel"},
		TimeoutSeconds:        defaultTimeoutSeconds,
		InterruptGraceSeconds: defaultInterruptGraceSeconds,
		BufferSize:            defaultBufferSize,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if len(source.Command) > 0 {
		c.Command = source.Command
	}
	if source.TimeoutSeconds > 0 {
		c.TimeoutSeconds = source.TimeoutSeconds
	}
	if source.InterruptGraceSeconds > 0 {
		c.InterruptGraceSeconds = source.InterruptGraceSeconds
	}
	if source.BufferSize > 0 {
		c.BufferSize = source.BufferSize
	}
}

// Timeout returns the execution timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// InterruptGrace returns the interrupt grace window as a duration.
func (c Config) InterruptGrace() time.Duration {
	return time.Duration(c.InterruptGraceSeconds * float64(time.Second))
}
