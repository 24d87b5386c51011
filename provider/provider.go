// Package provider defines the model capability the agent loop reasons with.
package provider

import "context"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       Role       `json:"role" yaml:"role"`
	Content    string     `json:"content" yaml:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"` // assistant turns only
	ToolCallID string     `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty" yaml:"is_error,omitempty"`
}

// ToolDef describes a tool the agent can invoke.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments" yaml:"arguments"`
}

// Response is a completed (non-streaming) provider response.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage report into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Stream event types.
const (
	EventText     = "text"
	EventToolCall = "tool_call"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent is emitted during streaming responses.
type StreamEvent struct {
	Type  string    `json:"type"` // "text", "tool_call", "done", "error"
	Text  string    `json:"text,omitempty"`
	Tool  *ToolCall `json:"tool,omitempty"`
	Error string    `json:"error,omitempty"`
	Usage *Usage    `json:"usage,omitempty"`
}

// Provider is a model backend. The system prompt travels as the leading
// system-role message.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "mock").
	Name() string

	// Chat sends a non-streaming request and returns the complete response.
	Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)

	// Stream sends a streaming request. Events are delivered on the returned channel.
	// The channel is closed when the response is complete, an error occurs,
	// or ctx is cancelled.
	Stream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan StreamEvent, error)
}

// Collect drains a stream into a Response, invoking onEvent for every event.
// It returns an error if the stream reports one or ctx is cancelled first.
func Collect(ctx context.Context, ch <-chan StreamEvent, onEvent func(StreamEvent)) (*Response, error) {
	resp := &Response{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return resp, nil
			}
			if onEvent != nil {
				onEvent(ev)
			}
			switch ev.Type {
			case EventText:
				resp.Content += ev.Text
			case EventToolCall:
				if ev.Tool != nil {
					resp.ToolCalls = append(resp.ToolCalls, *ev.Tool)
				}
			case EventDone:
				if ev.Usage != nil {
					resp.Usage = *ev.Usage
				}
			case EventError:
				return nil, &StreamError{Message: ev.Error}
			}
		}
	}
}

// StreamError is returned by Collect when the provider reports a stream error.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream error: " + e.Message }
