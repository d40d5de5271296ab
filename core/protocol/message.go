// Package protocol defines the wire protocol spoken to the execution kernel
// subprocess. Frames are newline-delimited JSON on two logical channels: a
// shell channel carrying one reply per request, and an iopub channel
// broadcasting zero or more status and output messages per request,
// terminated by an idle status for that request's correlation id.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/stormcell-dev/stormcell/core/cell"
)

// Channel identifies which logical channel a frame travels on.
type Channel string

const (
	// ChannelShell carries requests and their single replies.
	ChannelShell Channel = "shell"
	// ChannelIOPub broadcasts asynchronous status and output messages.
	ChannelIOPub Channel = "iopub"
)

// Frame types sent to the kernel.
const (
	MsgExecuteRequest   = "execute_request"
	MsgInterruptRequest = "interrupt_request"
	MsgShutdownRequest  = "shutdown_request"
)

// Frame types received from the kernel.
const (
	MsgExecuteReply = "execute_reply"
	MsgStream       = "stream"
	MsgDisplayData  = "display_data"
	MsgError        = "error"
	MsgStatus       = "status"
)

// Execution states reported by status broadcasts.
const (
	StateBusy = "busy"
	StateIdle = "idle"
)

// Reply statuses reported by execute replies.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Message is one wire frame. Requests carry their own ID; replies and
// broadcasts reference the originating request through Parent, which is the
// correlation id used to demultiplex asynchronous traffic.
type Message struct {
	Channel Channel         `json:"channel"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Parent  string          `json:"parent,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ExecuteRequest asks the kernel to execute a code unit.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// ExecuteReply reports the shell-channel outcome of an execute request.
type ExecuteReply struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count,omitempty"`
}

// StreamContent carries text written to stdout or stderr.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayContent carries rich display data tagged with a media kind.
type DisplayContent struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// ErrorContent carries an error raised by the executed code.
type ErrorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// StatusContent reports the kernel execution state for a request.
type StatusContent struct {
	State string `json:"state"`
}

// NewRequest builds a shell-channel request frame with a fresh UUIDv7 id.
// The id doubles as the correlation id for the request's replies and
// broadcasts. A nil content produces a frame with no content field.
func NewRequest(msgType string, content any) (Message, error) {
	msg := Message{
		Channel: ChannelShell,
		Type:    msgType,
		ID:      uuid.Must(uuid.NewV7()).String(),
	}

	if content != nil {
		data, err := json.Marshal(content)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s content: %w", msgType, err)
		}
		msg.Content = data
	}

	return msg, nil
}

// NewReply builds a shell-channel reply frame correlated to parent.
func NewReply(parent string, content ExecuteReply) Message {
	return mustFrame(ChannelShell, MsgExecuteReply, parent, content)
}

// NewBroadcast builds an iopub-channel broadcast frame correlated to parent.
func NewBroadcast(parent, msgType string, content any) Message {
	return mustFrame(ChannelIOPub, msgType, parent, content)
}

func mustFrame(channel Channel, msgType, parent string, content any) Message {
	data, err := json.Marshal(content)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %s content: %v", msgType, err))
	}
	return Message{
		Channel: channel,
		Type:    msgType,
		ID:      uuid.Must(uuid.NewV7()).String(),
		Parent:  parent,
		Content: data,
	}
}

// DecodeContent unmarshals the frame content into v.
func (m Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%s frame has no content", m.Type)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", m.Type, err)
	}
	return nil
}

// IsIdle reports whether the message is an idle status broadcast, the frame
// that terminates an execution's broadcast stream.
func (m Message) IsIdle() bool {
	if m.Type != MsgStatus {
		return false
	}
	var status StatusContent
	if err := m.DecodeContent(&status); err != nil {
		return false
	}
	return status.State == StateIdle
}

// AsOutput maps a broadcast message onto the closed output variant consumed
// by the rest of the pipeline. The second return is false for frames that
// carry no output (status messages, unknown types).
func (m Message) AsOutput() (cell.Output, bool) {
	switch m.Type {
	case MsgStream:
		var c StreamContent
		if err := m.DecodeContent(&c); err != nil {
			return cell.Output{}, false
		}
		return cell.StreamOutput(c.Name, c.Text), true

	case MsgDisplayData:
		var c DisplayContent
		if err := m.DecodeContent(&c); err != nil {
			return cell.Output{}, false
		}
		return cell.DisplayOutput(c.Kind, c.Payload), true

	case MsgError:
		var c ErrorContent
		if err := m.DecodeContent(&c); err != nil {
			return cell.Output{}, false
		}
		return cell.ErrorOutput(c.Ename, c.Evalue, c.Traceback), true
	}

	return cell.Output{}, false
}
