package agent

import "encoding/json"

// EventType tags the variants of a stream event.
type EventType string

const (
	EventTextDelta  EventType = "text_delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is the wire representation of one increment of an in-flight turn.
// Events are never persisted; a client can reconstruct the final message by
// folding them in order. Exactly the fields of the tagged variant are set.
type Event struct {
	Type EventType `json:"type"`

	// text_delta
	Delta string `json:"delta,omitempty"`

	// tool_call / tool_result
	CallID   string          `json:"call_id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
	Output   string          `json:"output,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// done
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Partial   bool   `json:"partial,omitempty"`
}
