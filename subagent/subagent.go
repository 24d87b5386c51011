// Package subagent delegates self-contained work to isolated child agent
// runs. A child gets its own session, step budget, system prompt and a
// filtered tool set; its full output goes to a result store and the parent
// only sees a short summary and the stored location.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GoCodeAlone/deepagent/agent"
	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

// ErrUnknownAgent is returned when delegating to a name that is not registered.
var ErrUnknownAgent = errors.New("unknown sub-agent")

// summaryLimit bounds the excerpt of the child's output returned to the parent.
const summaryLimit = 280

var tracer = otel.Tracer("github.com/GoCodeAlone/deepagent/subagent")

// Definition describes a delegate target.
type Definition struct {
	Name         string
	Description  string
	SystemPrompt string
	// Tools is an allow-list of name patterns over the parent's tools. A nil
	// list inherits every parent tool.
	Tools []string
	// ToolMap, when set, replaces inherited tools entirely.
	ToolMap []plugin.Tool
	// Provider overrides the parent's model.
	Provider provider.Provider
	// Middleware is the child's middleware list. Parent middleware is not inherited.
	Middleware []*plugin.Middleware
	// MaxSteps defaults to half the parent's budget.
	MaxSteps int
}

// Result is the outcome of one delegation. OK results carry Summary and
// Path; failed ones carry Reason and Err.
type Result struct {
	OK      bool
	Summary string
	Path    string
	// Warning reports a degraded success, such as a result that could not be stored.
	Warning string
	Reason  string
	Err     error
}

// Manager holds the registered sub-agents and runs delegations.
type Manager struct {
	defs    []Definition
	byName  map[string]int
	results ResultStore
	store   task.Store
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the store child sessions persist to. By default the
// parent run's store is used.
func WithStore(s task.Store) Option { return func(m *Manager) { m.store = s } }

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager registers defs. Names must be unique and non-empty.
func NewManager(results ResultStore, defs []Definition, opts ...Option) (*Manager, error) {
	if results == nil {
		return nil, fmt.Errorf("subagent: result store is required")
	}
	m := &Manager{
		byName:  make(map[string]int, len(defs)),
		results: results,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("subagent: definition without a name")
		}
		if _, dup := m.byName[d.Name]; dup {
			return nil, fmt.Errorf("subagent: %q registered twice", d.Name)
		}
		m.byName[d.Name] = len(m.defs)
		m.defs = append(m.defs, d)
	}
	return m, nil
}

// Definitions returns the registered sub-agents in registration order.
func (m *Manager) Definitions() []Definition {
	return append([]Definition(nil), m.defs...)
}

// Delegate runs the named sub-agent once on taskText. It must be called
// from within a parent run, whose model, store, step budget and tools are
// read from ctx.
func (m *Manager) Delegate(ctx context.Context, name, taskText string) (res Result) {
	ctx, span := tracer.Start(ctx, "subagent.delegate")
	span.SetAttributes(attribute.String("subagent.name", name))
	defer func() {
		span.SetAttributes(attribute.Bool("subagent.ok", res.OK))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Reason)
		}
		span.End()
	}()

	i, ok := m.byName[name]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownAgent, name)
		m.failed(ctx, name, taskText, err)
		return Result{Reason: err.Error(), Err: err}
	}
	def := m.defs[i]

	child, err := m.newChild(ctx, def)
	if err != nil {
		m.failed(ctx, name, taskText, err)
		return Result{Reason: err.Error(), Err: err}
	}

	stream.Emit(ctx, stream.TypeDelegation, stream.DelegationData{Agent: name, Status: "starting", Task: taskText})
	m.logger.Info("delegating", "subagent", name, "session", child.SessionID(), "max_steps", child.MaxSteps())

	out, err := child.Run(ctx, agent.Input{Prompt: taskText})
	if err != nil {
		err = fmt.Errorf("sub-agent %s: %w", name, err)
		m.failed(ctx, name, taskText, err)
		return Result{Reason: err.Error(), Err: err}
	}

	res = Result{OK: true, Summary: summarize(name, out)}
	path := ResultPath(name, m.now())
	if err := m.results.Write(ctx, path, out.Text); err != nil {
		res.Warning = fmt.Sprintf("result of %s could not be stored: %v", name, err)
		m.logger.Warn("sub-agent result not stored", "subagent", name, "path", path, "error", err)
		stream.Emit(ctx, stream.TypeNotification, stream.NotificationData{Level: "warning", Message: res.Warning})
	} else {
		res.Path = path
	}
	stream.Emit(ctx, stream.TypeDelegation, stream.DelegationData{Agent: name, Status: "complete", Task: taskText, Path: res.Path})
	m.logger.Info("delegation complete", "subagent", name, "steps", out.Steps, "path", res.Path)
	return res
}

func (m *Manager) newChild(ctx context.Context, def Definition) (*agent.Agent, error) {
	parent, _ := agent.RunInfoFromContext(ctx)

	model := def.Provider
	if model == nil {
		model = parent.Provider
	}
	store := m.store
	if store == nil {
		store = parent.Store
	}

	var tools []plugin.Tool
	if def.ToolMap != nil {
		tools = def.ToolMap
	} else {
		inherited := plugin.ToolSetFromContext(ctx)
		if def.Tools != nil {
			inherited = inherited.Filter(def.Tools)
		}
		tools = inherited.Without(DelegateToolName).Tools()
	}

	budget := parent.MaxSteps
	if budget <= 0 {
		budget = agent.DefaultMaxSteps
	}
	steps := def.MaxSteps
	if steps <= 0 {
		steps = budget / 2
	}
	// A child always gets fewer steps than its parent, but at least one.
	steps = max(min(steps, budget-1), 1)

	return agent.New(agent.Config{
		Name:         def.Name,
		SystemPrompt: def.SystemPrompt,
		Provider:     model,
		Store:        store,
		SessionID:    fmt.Sprintf("subagent:%s:%s", def.Name, uuid.NewString()),
		Middleware:   def.Middleware,
		Tools:        tools,
		MaxSteps:     steps,
		Logger:       m.logger,
	})
}

func (m *Manager) failed(ctx context.Context, name, taskText string, err error) {
	m.logger.Warn("delegation failed", "subagent", name, "error", err)
	stream.Emit(ctx, stream.TypeDelegation, stream.DelegationData{Agent: name, Status: "failed", Task: taskText, Error: err.Error()})
}

// ResultPath returns the conventional location of a sub-agent result.
func ResultPath(name string, at time.Time) string {
	return fmt.Sprintf("subagent_results/%s_%d.md", name, at.UnixMilli())
}

func summarize(name string, out *agent.Result) string {
	excerpt := strings.Join(strings.Fields(out.Text), " ")
	if r := []rune(excerpt); len(r) > summaryLimit {
		excerpt = string(r[:summaryLimit]) + "..."
	}
	s := fmt.Sprintf("Sub-agent %s finished in %d steps", name, out.Steps)
	if n := len(out.ToolErrors); n > 0 {
		s += fmt.Sprintf(" with %d tool errors", n)
	}
	if excerpt == "" {
		return s + "."
	}
	return s + ": " + excerpt
}
