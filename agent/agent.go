// Package agent runs the step-bounded reasoning loop: it composes middleware
// into a tool set and system prompt, calls the model, executes requested
// tools behind approval gates, compresses long histories and persists the
// conversation through the task store.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

// DefaultMaxSteps bounds a run when Config.MaxSteps is zero.
const DefaultMaxSteps = 20

// ApprovalPolicy decides whether one tool needs approval. Always wins over When.
type ApprovalPolicy struct {
	Always bool
	When   func(args map[string]any) bool
}

// ApprovalConfig lists the tools that need approval before they run.
type ApprovalConfig struct {
	// Required names tools that always need approval.
	Required []string
	// Policies decide per tool, optionally from the call's arguments.
	Policies map[string]ApprovalPolicy
}

// NeedsApproval reports whether a call to the named tool must be approved.
func (c ApprovalConfig) NeedsApproval(name string, args map[string]any) bool {
	if slices.Contains(c.Required, name) {
		return true
	}
	p, ok := c.Policies[name]
	if !ok {
		return false
	}
	return p.Always || (p.When != nil && p.When(args))
}

// Approver grants or denies tool calls that need approval.
type Approver interface {
	Approve(ctx context.Context, call provider.ToolCall) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, call provider.ToolCall) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, call provider.ToolCall) (bool, error) {
	return f(ctx, call)
}

// Config configures an Agent. Provider, Store and SessionID are required.
type Config struct {
	Name         string
	SystemPrompt string
	Provider     provider.Provider
	Store        task.Store
	SessionID    string

	// Middleware contributes tools, prompt text and hooks in order.
	Middleware []*plugin.Middleware
	// Tools are caller-supplied and take precedence over middleware tools.
	Tools []plugin.Tool
	// AllowedTools restricts middleware tools by name pattern when non-empty.
	AllowedTools []string

	Approval ApprovalConfig
	Approver Approver

	MaxSteps int
	// MaxContextMessages triggers compression when the live history grows
	// past it. Zero disables compression.
	MaxContextMessages int

	// Sink receives UI events. When nil, the sink already attached to the
	// run's context is used.
	Sink   stream.Sink
	Logger *slog.Logger
}

// Agent is a configured orchestration loop bound to one session.
type Agent struct {
	cfg    Config
	logger *slog.Logger
}

var (
	ErrNoProvider = errors.New("agent: provider is required")
	ErrNoStore    = errors.New("agent: store is required")
	ErrNoSession  = errors.New("agent: session id is required")
)

// New validates cfg and fills defaults.
func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Provider == nil:
		return nil, ErrNoProvider
	case cfg.Store == nil:
		return nil, ErrNoStore
	case cfg.SessionID == "":
		return nil, ErrNoSession
	}
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, logger: logger.With("agent", cfg.Name, "session", cfg.SessionID)}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// SessionID returns the session the agent persists to.
func (a *Agent) SessionID() string { return a.cfg.SessionID }

// MaxSteps returns the step budget of one run.
func (a *Agent) MaxSteps() int { return a.cfg.MaxSteps }

// Input is the new conversation input of a run. UIMessages, when present,
// are converted and sanitized; Messages pass through; Prompt is appended
// as a final user turn.
type Input struct {
	Messages   []provider.Message
	UIMessages []UIMessage
	Prompt     string
}

func (in Input) resolve() []provider.Message {
	var out []provider.Message
	if len(in.UIMessages) > 0 {
		out = append(out, Sanitize(ConvertUIMessages(in.UIMessages))...)
	}
	out = append(out, in.Messages...)
	if in.Prompt != "" {
		out = append(out, provider.Message{Role: provider.RoleUser, Content: in.Prompt})
	}
	return out
}

// ToolError records a failed tool call. Failures do not stop the loop.
type ToolError struct {
	Step   int    `json:"step"`
	Tool   string `json:"tool"`
	CallID string `json:"call_id"`
	Error  string `json:"error"`
}

// Result is the outcome of one run.
type Result struct {
	Text string `json:"text"`
	// Messages are the turns this run appended to the session history.
	Messages   []provider.Message `json:"messages"`
	Steps      int                `json:"steps"`
	Usage      provider.Usage     `json:"usage"`
	ToolErrors []ToolError        `json:"tool_errors,omitempty"`
	// Warnings report degraded but non-fatal conditions such as a failed
	// state write.
	Warnings []string `json:"warnings,omitempty"`
	// StepLimitReached is set when the run stopped on the step budget while
	// the model still requested tools.
	StepLimitReached bool `json:"step_limit_reached,omitempty"`
}

// RunInfo describes the running loop to the tools it calls.
type RunInfo struct {
	Name      string
	SessionID string
	MaxSteps  int
	Provider  provider.Provider
	Store     task.Store
	Logger    *slog.Logger
}

type runInfoKey struct{}

// RunInfoFromContext returns the running loop's description, if any.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}
