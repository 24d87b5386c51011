package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
	"github.com/GoCodeAlone/deepagent/tools"
)

// Run executes one invocation with non-streaming model calls.
func (a *Agent) Run(ctx context.Context, in Input) (*Result, error) {
	return a.run(ctx, in, false, nil)
}

// RunStream executes one invocation with streaming model calls, passing
// every stream event to onEvent. Cancelling ctx stops the model call.
func (a *Agent) RunStream(ctx context.Context, in Input, onEvent func(provider.StreamEvent)) (*Result, error) {
	return a.run(ctx, in, true, onEvent)
}

// run holds the per-invocation state.
type run struct {
	a        *Agent
	state    *task.AgentState
	tools    *plugin.ToolSet
	res      *Result
	compress compression
}

func (a *Agent) run(ctx context.Context, in Input, streaming bool, onEvent func(provider.StreamEvent)) (res *Result, err error) {
	ctx, span := startRunSpan(ctx, a.cfg.Name, a.cfg.SessionID, streaming)
	defer func() { endSpan(span, err) }()

	for _, m := range a.cfg.Middleware {
		if m.WaitReady == nil {
			continue
		}
		if err := m.WaitReady(ctx); err != nil {
			return nil, fmt.Errorf("middleware %s not ready: %w", m.Name, err)
		}
	}

	input := in.resolve()
	state, err := a.cfg.Store.LoadState(ctx, a.cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	history := state.Messages

	r := &run{
		a:     a,
		state: state,
		tools: plugin.Assemble(a.cfg.Middleware, a.cfg.AllowedTools, a.cfg.Tools),
		res:   &Result{},
	}
	r.compress.through = summarizedThrough(state)
	ctx = r.bind(ctx)

	if streaming {
		for _, m := range a.cfg.Middleware {
			if m.OnStreamReady != nil {
				m.OnStreamReady(ctx)
			}
		}
	}
	stream.Emit(ctx, stream.TypeStatus, stream.StatusData{State: "started", Agent: a.cfg.Name})
	a.logger.Info("agent run started", "history", len(history), "input", len(input), "tools", r.tools.Len())

	live := append(append([]provider.Message(nil), history...), input...)
	added := append([]provider.Message(nil), input...)

	for step := 1; step <= a.cfg.MaxSteps; step++ {
		r.res.Steps = step
		resp, results, err := r.step(ctx, step, live, streaming, onEvent)
		if err != nil {
			stream.Emit(ctx, stream.TypeStatus, stream.StatusData{State: "failed", Agent: a.cfg.Name, Step: step, Error: err.Error()})
			a.logger.Error("agent run failed", "step", step, "error", err)
			return nil, err
		}

		assistant := provider.Message{Role: provider.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		live = append(live, assistant)
		added = append(added, assistant)
		r.res.Text = resp.Content
		for _, tr := range results {
			msg := provider.Message{
				Role:       provider.RoleTool,
				Content:    tr.Output,
				ToolCallID: tr.Call.ID,
				ToolName:   tr.Call.Name,
				IsError:    tr.IsError,
			}
			live = append(live, msg)
			added = append(added, msg)
		}

		if len(resp.ToolCalls) == 0 {
			break
		}
		if step == a.cfg.MaxSteps {
			r.res.StepLimitReached = true
			a.logger.Warn("agent run reached step limit", "max_steps", a.cfg.MaxSteps)
		}
	}
	r.res.Messages = added

	state.Messages = append(history, added...)
	setSummarizedThrough(state, r.compress.through)
	if err := a.cfg.Store.SaveState(ctx, state); err != nil {
		r.warn(ctx, fmt.Sprintf("conversation state was not saved: %v", err))
	}

	if streaming {
		for _, m := range a.cfg.Middleware {
			if m.OnStreamFinish != nil {
				m.OnStreamFinish(ctx, added)
			}
		}
	}
	stream.Emit(ctx, stream.TypeStatus, stream.StatusData{State: "finished", Agent: a.cfg.Name, Step: r.res.Steps})
	a.logger.Info("agent run finished",
		"steps", r.res.Steps,
		"tool_errors", len(r.res.ToolErrors),
		"input_tokens", r.res.Usage.InputTokens,
		"output_tokens", r.res.Usage.OutputTokens,
	)
	return r.res, nil
}

// bind attaches the run's identity, sink and tools to ctx.
func (r *run) bind(ctx context.Context) context.Context {
	cfg := r.a.cfg
	ctx = tools.WithSessionID(ctx, cfg.SessionID)
	ctx = tools.WithAgentName(ctx, cfg.Name)
	ctx = stream.WithSession(ctx, cfg.SessionID)
	if cfg.Sink != nil {
		ctx = stream.WithSink(ctx, cfg.Sink)
	}
	ctx = plugin.WithToolSet(ctx, r.tools)
	return context.WithValue(ctx, runInfoKey{}, RunInfo{
		Name:      cfg.Name,
		SessionID: cfg.SessionID,
		MaxSteps:  cfg.MaxSteps,
		Provider:  cfg.Provider,
		Store:     cfg.Store,
		Logger:    r.a.logger,
	})
}

// warn records a degraded condition on the result, the log and the UI stream.
func (r *run) warn(ctx context.Context, msg string) {
	r.res.Warnings = append(r.res.Warnings, msg)
	r.a.logger.Warn(msg)
	stream.Emit(ctx, stream.TypeNotification, stream.NotificationData{Level: "warning", Message: msg})
}

// systemPrompt chains every middleware prompt transform in order.
func (r *run) systemPrompt(ctx context.Context) string {
	prompt := r.a.cfg.SystemPrompt
	for _, m := range r.a.cfg.Middleware {
		if m.TransformPrompt != nil {
			prompt = m.TransformPrompt(ctx, prompt)
		}
	}
	return prompt
}

// step prepares the context, calls the model once and executes the tool
// calls it requests.
func (r *run) step(ctx context.Context, n int, live []provider.Message, streaming bool, onEvent func(provider.StreamEvent)) (*provider.Response, []plugin.ToolResult, error) {
	ctx, span := startStepSpan(ctx, n)
	var err error
	defer func() { endSpan(span, err) }()

	effective := r.prepare(ctx, live)
	req := &plugin.ModelRequest{Step: n, Tools: r.tools.Defs()}
	if prompt := r.systemPrompt(ctx); prompt != "" {
		req.Messages = append(req.Messages, provider.Message{Role: provider.RoleSystem, Content: prompt})
	}
	req.Messages = append(req.Messages, effective...)

	for _, m := range r.a.cfg.Middleware {
		if m.BeforeModel == nil {
			continue
		}
		if err = m.BeforeModel(ctx, req); err != nil {
			return nil, nil, fmt.Errorf("middleware %s before model: %w", m.Name, err)
		}
	}

	var resp *provider.Response
	resp, err = r.callModel(ctx, req, streaming, onEvent)
	if err != nil {
		return nil, nil, fmt.Errorf("model call at step %d: %w", n, err)
	}
	r.res.Usage.Add(resp.Usage)

	for _, m := range r.a.cfg.Middleware {
		if m.AfterModel == nil {
			continue
		}
		if err = m.AfterModel(ctx, resp); err != nil {
			return nil, nil, fmt.Errorf("middleware %s after model: %w", m.Name, err)
		}
	}
	stream.Emit(ctx, stream.TypeStatus, stream.StatusData{State: "step", Agent: r.a.cfg.Name, Step: n})

	results := make([]plugin.ToolResult, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		tr := r.execute(ctx, call)
		if tr.IsError {
			r.res.ToolErrors = append(r.res.ToolErrors, ToolError{Step: n, Tool: call.Name, CallID: call.ID, Error: tr.Output})
			r.a.logger.Warn("tool call failed", "step", n, "tool", call.Name, "error", tr.Output)
		}
		results = append(results, tr)
	}

	if len(resp.ToolCalls) > 0 {
		info := plugin.StepInfo{Step: n, Response: resp, Results: results}
		for _, m := range r.a.cfg.Middleware {
			if m.OnStepFinish != nil {
				m.OnStepFinish(ctx, info)
			}
		}
	}
	return resp, results, nil
}

func (r *run) callModel(ctx context.Context, req *plugin.ModelRequest, streaming bool, onEvent func(provider.StreamEvent)) (*provider.Response, error) {
	p := r.a.cfg.Provider
	if !streaming {
		return p.Chat(ctx, req.Messages, req.Tools)
	}
	ch, err := p.Stream(ctx, req.Messages, req.Tools)
	if err != nil {
		return nil, err
	}
	return provider.Collect(ctx, ch, onEvent)
}

// execute runs one tool call behind the approval gate. Failures are turned
// into error results rather than returned.
func (r *run) execute(ctx context.Context, call provider.ToolCall) plugin.ToolResult {
	ctx, span := startToolSpan(ctx, call)
	out, err := r.invoke(ctx, call)
	endSpan(span, err)
	if err != nil {
		return plugin.ToolResult{Call: call, Output: "Error: " + err.Error(), IsError: true}
	}
	return plugin.ToolResult{Call: call, Output: out}
}

func (r *run) invoke(ctx context.Context, call provider.ToolCall) (string, error) {
	tool, ok := r.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	if r.a.cfg.Approval.NeedsApproval(call.Name, call.Arguments) {
		if r.a.cfg.Approver == nil {
			return "", fmt.Errorf("tool %s requires approval and no approver is configured", call.Name)
		}
		approved, err := r.a.cfg.Approver.Approve(ctx, call)
		if err != nil {
			return "", fmt.Errorf("approval for %s: %w", call.Name, err)
		}
		if !approved {
			return "", fmt.Errorf("tool %s was not approved", call.Name)
		}
	}
	for _, m := range r.a.cfg.Middleware {
		if m.OnInputAvailable != nil {
			m.OnInputAvailable(ctx, call)
		}
	}

	out, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return "", err
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", call.Name, err)
	}
	return string(data), nil
}
