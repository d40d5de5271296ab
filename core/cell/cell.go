// Package cell defines the data model shared across the execution pipeline:
// code units submitted for execution, the outputs the kernel emits for them,
// and the results produced when a unit finishes. Units and results are
// immutable once created; they flow from the queue through the kernel session
// into history and the logbook without further mutation.
package cell

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Origin identifies where a code unit came from.
type Origin string

const (
	OriginInteractive Origin = "interactive"
	OriginPlan        Origin = "plan"
	OriginWorkflow    Origin = "workflow"
)

// Unit is one discrete, independently executable piece of code. A unit is
// queued once and consumed by execution exactly once.
type Unit struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Origin    Origin    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUnit creates a Unit with a unique UUIDv7 identifier. UUIDv7 ids are
// time-ordered, so unit ids sort in creation order within a session.
func NewUnit(code string, origin Origin) Unit {
	return Unit{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Code:      code,
		Origin:    origin,
		CreatedAt: time.Now(),
	}
}

// Status is the terminal status of an execution.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusAborted Status = "aborted"
)

// OutputType tags the closed set of output variants a kernel can emit.
type OutputType string

const (
	OutputStream  OutputType = "stream"
	OutputDisplay OutputType = "display_data"
	OutputError   OutputType = "error"
)

// Output is one output event emitted during execution. Exactly one variant's
// fields are populated, selected by Type, so consumers can handle every
// output kind exhaustively.
type Output struct {
	Type OutputType `json:"type"`

	// OutputStream fields.
	Name string `json:"name,omitempty"` // "stdout" or "stderr"
	Text string `json:"text,omitempty"`

	// OutputDisplay fields.
	Kind    string `json:"kind,omitempty"` // media kind, e.g. "image/png"
	Payload string `json:"payload,omitempty"`

	// OutputError fields.
	Ename     string   `json:"ename,omitempty"`
	Evalue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// StreamOutput builds a stream-text output event.
func StreamOutput(name, text string) Output {
	return Output{Type: OutputStream, Name: name, Text: text}
}

// DisplayOutput builds a display-data output event.
func DisplayOutput(kind, payload string) Output {
	return Output{Type: OutputDisplay, Kind: kind, Payload: payload}
}

// ErrorOutput builds an error output event.
func ErrorOutput(ename, evalue string, traceback []string) Output {
	return Output{Type: OutputError, Ename: ename, Evalue: evalue, Traceback: traceback}
}

// Result is the outcome of executing a single Unit. Outputs preserve the
// kernel's emission order.
type Result struct {
	Unit           Unit          `json:"unit"`
	Outputs        []Output      `json:"outputs"`
	Status         Status        `json:"status"`
	Duration       time.Duration `json:"duration"`
	ExecutionCount int           `json:"execution_count,omitempty"`
}

// Stdout concatenates all stdout stream output in emission order.
func (r Result) Stdout() string {
	return r.stream("stdout")
}

// Stderr concatenates all stderr stream output in emission order.
func (r Result) Stderr() string {
	return r.stream("stderr")
}

func (r Result) stream(name string) string {
	var b strings.Builder
	for _, out := range r.Outputs {
		if out.Type == OutputStream && out.Name == name {
			b.WriteString(out.Text)
		}
	}
	return b.String()
}

// Err returns the first error output, or nil when execution raised none.
func (r Result) Err() *Output {
	for i := range r.Outputs {
		if r.Outputs[i].Type == OutputError {
			return &r.Outputs[i]
		}
	}
	return nil
}

// TextSummary renders the result's textual output truncated to at most
// limit runes. Error outputs contribute only their name and value here;
// full tracebacks are the diagnostic bundle's job.
func (r Result) TextSummary(limit int) string {
	var b strings.Builder
	for _, out := range r.Outputs {
		switch out.Type {
		case OutputStream:
			b.WriteString(out.Text)
		case OutputDisplay:
			if out.Kind == "text/plain" {
				b.WriteString(out.Payload)
				b.WriteString("\n")
			}
		case OutputError:
			b.WriteString(out.Ename)
			if out.Evalue != "" {
				b.WriteString(": ")
				b.WriteString(out.Evalue)
			}
			b.WriteString("\n")
		}
	}

	s := strings.TrimRight(b.String(), "\n")
	runes := []rune(s)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return s
}
