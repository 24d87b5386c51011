package plugin

import (
	"context"

	"github.com/GoCodeAlone/deepagent/provider"
)

// ModelRequest is the input of one model call. BeforeModel hooks may edit it.
type ModelRequest struct {
	Step     int
	Messages []provider.Message
	Tools    []provider.ToolDef
}

// ToolResult is the outcome of one tool call within a step.
type ToolResult struct {
	Call    provider.ToolCall
	Output  string
	IsError bool
}

// StepInfo describes a finished step.
type StepInfo struct {
	Step     int
	Response *provider.Response
	Results  []ToolResult
}

// Middleware is a capability bundle. Every hook is optional; nil hooks are
// skipped. Middleware is applied in registration order: later tools replace
// earlier tools of the same name and prompt transforms chain in order.
type Middleware struct {
	Name  string
	Tools []Tool

	// WaitReady blocks until the middleware can serve a run.
	WaitReady func(ctx context.Context) error
	// TransformPrompt rewrites the system prompt.
	TransformPrompt func(ctx context.Context, prompt string) string
	// BeforeModel runs before every model call.
	BeforeModel func(ctx context.Context, req *ModelRequest) error
	// AfterModel runs after every successful model call.
	AfterModel func(ctx context.Context, resp *provider.Response) error
	// OnInputAvailable observes a tool call's resolved arguments right
	// before the tool executes.
	OnInputAvailable func(ctx context.Context, call provider.ToolCall)
	// OnStepFinish runs after a step's tool calls complete.
	OnStepFinish func(ctx context.Context, step StepInfo)
	// OnStreamReady runs when a streaming run starts.
	OnStreamReady func(ctx context.Context)
	// OnStreamFinish runs when a streaming run ends with the new messages.
	OnStreamFinish func(ctx context.Context, messages []provider.Message)
}
