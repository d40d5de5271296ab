package agent

import "time"

const (
	defaultHost           = "http://localhost:11434"
	defaultModel          = "qwen3:4b"
	defaultTimeoutSeconds = 30
)

// Fallback behaviors for plan requests the model cannot serve.
const (
	// FallbackEmpty degrades a failed plan to an empty one.
	FallbackEmpty = "empty"
	// FallbackError surfaces the failure to the caller.
	FallbackError = "error"
)

// Config holds the model backend parameters shared by the planning and
// diagnostic collaborators.
type Config struct {
	// Host is the Ollama server base URL.
	Host string `json:"host" yaml:"host"`
	// Model names the model used for plan and fix generation.
	Model string `json:"model" yaml:"model"`
	// RequestTimeoutSeconds bounds a single generation request.
	RequestTimeoutSeconds float64 `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	// Fallback selects how plan failures degrade: "empty" or "error".
	Fallback string `json:"fallback" yaml:"fallback"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:                  defaultHost,
		Model:                 defaultModel,
		RequestTimeoutSeconds: defaultTimeoutSeconds,
		Fallback:              FallbackEmpty,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Host != "" {
		c.Host = source.Host
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.RequestTimeoutSeconds > 0 {
		c.RequestTimeoutSeconds = source.RequestTimeoutSeconds
	}
	if source.Fallback != "" {
		c.Fallback = source.Fallback
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds * float64(time.Second))
}
