// Package oracle defines the narrow contract the core holds against the
// external AI model service. Matching and orchestration code depends on
// these interfaces only, so both are unit-testable with deterministic stubs;
// provider request/response shapes never leak past this package.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

// Message is one turn-context entry sent to the model.
type Message struct {
	Role        string // "user", "assistant", "tool"
	Content     string
	ToolCalls   []ToolCall   // tool invocations an assistant message requested
	ToolResults []ToolResult // outputs carried by a tool message
}

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is a tool output fed back into generation.
type ToolResult struct {
	CallID  string
	Name    string
	Output  string
	IsError bool
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Params      map[string]ParamSpec
	Required    []string
}

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        string // "string", "number", "integer", "boolean", "array"
	Description string
}

// GenerateRequest is one model-generation leg of a turn.
type GenerateRequest struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Chunk is one increment of model output: a text delta or a tool call,
// never both.
type Chunk struct {
	TextDelta string
	ToolCall  *ToolCall
}

// Stream is a lazy, finite, non-restartable sequence of chunks. Next
// returns io.EOF once the model signals completion. Callers must Close
// the stream to release the oracle connection, including on early abort.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Generator produces a model output stream for a turn context. Network
// backed: callers must treat it as fallible and slow, and cancel through
// the context.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Stream, error)
}

// sliceStream is a fixed Stream over pre-built chunks, used by tests and
// as a building block for fakes.
type sliceStream struct {
	chunks []Chunk
	pos    int
	closed bool
}

// NewSliceStream returns a Stream that yields the given chunks in order,
// then io.EOF.
func NewSliceStream(chunks []Chunk) Stream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Next() (Chunk, error) {
	if s.closed {
		return Chunk{}, errors.New("stream closed")
	}
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
