package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/provider/mock"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
	"github.com/GoCodeAlone/deepagent/tools"
)

func newTestStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "deepagent-agent-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()
	dbPath := f.Name()
	t.Cleanup(func() { os.Remove(dbPath) })

	store, err := task.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "session-1"
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func call(name string, args map[string]any) provider.ToolCall {
	return provider.ToolCall{Name: name, Arguments: args}
}

func echoTool(name string, calls *[]map[string]any) plugin.Tool {
	return &plugin.Func{ToolName: name, Desc: name, Fn: func(_ context.Context, args map[string]any) (any, error) {
		if calls != nil {
			*calls = append(*calls, args)
		}
		return name + " ok", nil
	}}
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := newTestStore(t)
	if _, err := New(Config{Store: store, SessionID: "s"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
	if _, err := New(Config{Provider: mock.New(), SessionID: "s"}); !errors.Is(err, ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
	if _, err := New(Config{Provider: mock.New(), Store: store}); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	a := newTestAgent(t, Config{Provider: mock.New(), Store: store})
	if a.MaxSteps() != DefaultMaxSteps || a.Name() != "agent" {
		t.Errorf("defaults: max steps %d, name %q", a.MaxSteps(), a.Name())
	}
}

func TestRun_TaskToolsAndPersistence(t *testing.T) {
	store := newTestStore(t)
	p := mock.NewScripted(
		mock.Step{Content: "Planning.", ToolCalls: []provider.ToolCall{
			call("task_create", map[string]any{"tasks": []any{
				map[string]any{"title": "Design"},
				map[string]any{"title": "Build", "blocked_by": []any{float64(0)}},
			}}),
		}},
		mock.Step{Content: "Created the plan."},
		mock.Step{Content: "Second turn."},
	)
	rec := &stream.Recorder{}
	a := newTestAgent(t, Config{
		Name:         "planner",
		SystemPrompt: "You plan work.",
		Provider:     p,
		Store:        store,
		Middleware:   []*plugin.Middleware{tools.TaskMiddleware(store)},
		Sink:         rec,
	})
	ctx := context.Background()

	res, err := a.Run(ctx, Input{Prompt: "Plan the feature"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "Created the plan." || res.Steps != 2 {
		t.Errorf("result = %q after %d steps", res.Text, res.Steps)
	}
	if len(res.ToolErrors) != 0 {
		t.Errorf("tool errors = %+v", res.ToolErrors)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("run appended %d messages, want 4 (user, assistant, tool, assistant)", len(res.Messages))
	}
	if res.Messages[2].Role != provider.RoleTool || !strings.Contains(res.Messages[2].Content, `"success":true`) {
		t.Errorf("tool message = %+v", res.Messages[2])
	}

	tasks, err := store.ListTasks(ctx, "session-1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[1].Status != task.StatusBlocked {
		t.Fatalf("tasks = %+v", tasks)
	}

	first := p.Requests()[0]
	if first[0].Role != provider.RoleSystem || !strings.HasPrefix(first[0].Content, "You plan work.") {
		t.Errorf("system message = %+v", first[0])
	}
	if !strings.Contains(first[0].Content, "## Task planning") {
		t.Error("task middleware prompt missing")
	}
	if got := len(p.Tools()[0]); got != 11 {
		t.Errorf("offered %d tools, want 11", got)
	}

	if len(rec.OfType(stream.TypeTaskUpdate)) != 1 {
		t.Errorf("task_update events = %d, want 1", len(rec.OfType(stream.TypeTaskUpdate)))
	}
	if ev := rec.OfType(stream.TypeTaskUpdate)[0]; ev.SessionID != "session-1" {
		t.Errorf("event session = %q", ev.SessionID)
	}

	// History is appended, never replaced.
	if _, err := a.Run(ctx, Input{Prompt: "Continue"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	st, err := store.LoadState(ctx, "session-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(st.Messages) != 6 {
		t.Errorf("persisted %d messages, want 6", len(st.Messages))
	}
	third := p.Requests()[2]
	if third[1].Content != "Plan the feature" {
		t.Errorf("second run did not replay history: %+v", third[1])
	}
	if open := third[0].Content; !strings.Contains(open, "Open tasks:") || !strings.Contains(open, "Build") {
		t.Errorf("prompt does not list open tasks:\n%s", open)
	}
}

func TestRun_ToolErrorsAreCollected(t *testing.T) {
	store := newTestStore(t)
	failing := &plugin.Func{ToolName: "flaky", Fn: func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk full")
	}}
	p := mock.NewScripted(
		mock.Step{ToolCalls: []provider.ToolCall{call("missing", nil), call("flaky", nil)}},
		mock.Step{Content: "Recovered."},
	)
	a := newTestAgent(t, Config{Provider: p, Store: store, Tools: []plugin.Tool{failing}})

	res, err := a.Run(context.Background(), Input{Prompt: "go"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "Recovered." {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.ToolErrors) != 2 {
		t.Fatalf("tool errors = %+v", res.ToolErrors)
	}
	if res.ToolErrors[0].Tool != "missing" || !strings.Contains(res.ToolErrors[0].Error, "unknown tool") {
		t.Errorf("first error = %+v", res.ToolErrors[0])
	}
	if res.ToolErrors[1].Tool != "flaky" || !strings.Contains(res.ToolErrors[1].Error, "disk full") {
		t.Errorf("second error = %+v", res.ToolErrors[1])
	}
	if !res.Messages[3].IsError || res.Messages[3].ToolCallID == "" {
		t.Errorf("tool message = %+v", res.Messages[3])
	}
}

func TestRun_StepBudget(t *testing.T) {
	store := newTestStore(t)
	p := mock.NewScripted(
		mock.Step{ToolCalls: []provider.ToolCall{call("noop", nil)}},
		mock.Step{ToolCalls: []provider.ToolCall{call("noop", nil)}},
		mock.Step{ToolCalls: []provider.ToolCall{call("noop", nil)}},
		mock.Step{Content: "never reached"},
	)
	a := newTestAgent(t, Config{Provider: p, Store: store, MaxSteps: 3, Tools: []plugin.Tool{echoTool("noop", nil)}})

	res, err := a.Run(context.Background(), Input{Prompt: "loop"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 3 || !res.StepLimitReached {
		t.Errorf("steps = %d, limit reached = %v", res.Steps, res.StepLimitReached)
	}
	if p.Remaining() != 1 {
		t.Errorf("remaining steps = %d, want 1", p.Remaining())
	}
}

func TestRun_Approval(t *testing.T) {
	store := newTestStore(t)
	var deployed, deleted []map[string]any
	var observed []string

	approvals := ApprovalConfig{
		Required: []string{"deploy"},
		Policies: map[string]ApprovalPolicy{
			"delete": {When: func(args map[string]any) bool { return args["force"] == true }},
		},
	}
	approver := ApproverFunc(func(_ context.Context, c provider.ToolCall) (bool, error) {
		return c.Arguments["env"] != "prod", nil
	})
	observer := &plugin.Middleware{
		Name: "observer",
		OnInputAvailable: func(_ context.Context, c provider.ToolCall) {
			observed = append(observed, c.Name)
		},
	}

	p := mock.NewScripted(
		mock.Step{ToolCalls: []provider.ToolCall{
			call("deploy", map[string]any{"env": "staging"}),
			call("deploy", map[string]any{"env": "prod"}),
			call("delete", map[string]any{"force": false}),
		}},
		mock.Step{Content: "done"},
	)
	a := newTestAgent(t, Config{
		Provider:   p,
		Store:      store,
		Middleware: []*plugin.Middleware{observer},
		Tools:      []plugin.Tool{echoTool("deploy", &deployed), echoTool("delete", &deleted)},
		Approval:   approvals,
		Approver:   approver,
	})
	res, err := a.Run(context.Background(), Input{Prompt: "ship it"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(deployed) != 1 || deployed[0]["env"] != "staging" {
		t.Errorf("deployed = %v", deployed)
	}
	if len(deleted) != 1 {
		t.Errorf("unforced delete should run without approval, got %v", deleted)
	}
	if len(res.ToolErrors) != 1 || !strings.Contains(res.ToolErrors[0].Error, "not approved") {
		t.Errorf("tool errors = %+v", res.ToolErrors)
	}
	if strings.Join(observed, ",") != "deploy,delete" {
		t.Errorf("input hook saw %v, want only executed calls", observed)
	}

	// Without an approver, gated calls fail.
	p2 := mock.NewScripted(
		mock.Step{ToolCalls: []provider.ToolCall{call("delete", map[string]any{"force": true})}},
		mock.Step{Content: "done"},
	)
	a2 := newTestAgent(t, Config{
		Provider: p2, Store: store, SessionID: "session-2",
		Tools:    []plugin.Tool{echoTool("delete", nil)},
		Approval: approvals,
	})
	res2, err := a2.Run(context.Background(), Input{Prompt: "clean"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res2.ToolErrors) != 1 || !strings.Contains(res2.ToolErrors[0].Error, "no approver") {
		t.Errorf("tool errors = %+v", res2.ToolErrors)
	}
}

func TestApprovalConfig_NeedsApproval(t *testing.T) {
	c := ApprovalConfig{
		Required: []string{"shell"},
		Policies: map[string]ApprovalPolicy{
			"write": {Always: true},
			"fetch": {When: func(args map[string]any) bool { return args["url"] == "internal" }},
			"read":  {},
		},
	}
	cases := []struct {
		name string
		args map[string]any
		want bool
	}{
		{"shell", nil, true},
		{"write", nil, true},
		{"fetch", map[string]any{"url": "internal"}, true},
		{"fetch", map[string]any{"url": "public"}, false},
		{"read", nil, false},
		{"other", nil, false},
	}
	for _, tc := range cases {
		if got := c.NeedsApproval(tc.name, tc.args); got != tc.want {
			t.Errorf("NeedsApproval(%s, %v) = %v, want %v", tc.name, tc.args, got, tc.want)
		}
	}
}

func TestRun_MiddlewareComposition(t *testing.T) {
	store := newTestStore(t)
	var order []string
	var stepInfos []plugin.StepInfo

	first := &plugin.Middleware{
		Name:  "first",
		Tools: []plugin.Tool{echoTool("shared", nil), echoTool("only_first", nil)},
		TransformPrompt: func(_ context.Context, p string) string {
			return p + " +first"
		},
		WaitReady: func(context.Context) error {
			order = append(order, "ready")
			return nil
		},
		BeforeModel: func(_ context.Context, req *plugin.ModelRequest) error {
			order = append(order, "before")
			req.Messages = append(req.Messages, provider.Message{Role: provider.RoleUser, Content: "injected"})
			return nil
		},
		AfterModel: func(context.Context, *provider.Response) error {
			order = append(order, "after")
			return nil
		},
	}
	replacement := &plugin.Func{ToolName: "shared", Fn: func(context.Context, map[string]any) (any, error) {
		return "from second", nil
	}}
	second := &plugin.Middleware{
		Name:  "second",
		Tools: []plugin.Tool{replacement},
		TransformPrompt: func(_ context.Context, p string) string {
			return p + " +second"
		},
		OnStepFinish: func(_ context.Context, info plugin.StepInfo) {
			stepInfos = append(stepInfos, info)
		},
	}

	p := mock.NewScripted(
		mock.Step{ToolCalls: []provider.ToolCall{call("shared", nil), call("only_first", nil)}},
		mock.Step{Content: "done"},
	)
	a := newTestAgent(t, Config{
		SystemPrompt: "base",
		Provider:     p,
		Store:        store,
		Middleware:   []*plugin.Middleware{first, second},
		AllowedTools: []string{"shared"},
	})
	res, err := a.Run(context.Background(), Input{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := p.Requests()[0]
	if req[0].Content != "base +first +second" {
		t.Errorf("system prompt = %q", req[0].Content)
	}
	if last := req[len(req)-1]; last.Content != "injected" {
		t.Errorf("before-model hook edit lost: %+v", last)
	}
	if defs := p.Tools()[0]; len(defs) != 1 || defs[0].Name != "shared" {
		t.Errorf("tools = %+v, want only the allowed one", defs)
	}
	if res.Messages[2].Content != "from second" {
		t.Errorf("shared tool output = %q, want the later middleware's tool", res.Messages[2].Content)
	}
	if len(res.ToolErrors) != 1 || res.ToolErrors[0].Tool != "only_first" {
		t.Errorf("filtered tool should be unknown, errors = %+v", res.ToolErrors)
	}
	if got := strings.Join(order, ","); got != "ready,before,after,before,after" {
		t.Errorf("hook order = %s", got)
	}
	if len(stepInfos) != 1 || len(stepInfos[0].Results) != 2 {
		t.Errorf("step infos = %+v", stepInfos)
	}
}

func TestRun_FailuresEndTheRunWithoutPersisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := mock.NewScripted(mock.Step{Error: "rate limited"})
	rec := &stream.Recorder{}
	a := newTestAgent(t, Config{Provider: p, Store: store, Sink: rec})
	if _, err := a.Run(ctx, Input{Prompt: "hi"}); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v", err)
	}
	st, err := store.LoadState(ctx, "session-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(st.Messages) != 0 {
		t.Errorf("failed run persisted %d messages", len(st.Messages))
	}
	statuses := rec.OfType(stream.TypeStatus)
	if last := statuses[len(statuses)-1].Data.(stream.StatusData); last.State != "failed" {
		t.Errorf("last status = %+v", last)
	}

	notReady := &plugin.Middleware{Name: "db", WaitReady: func(context.Context) error { return errors.New("offline") }}
	b := newTestAgent(t, Config{Provider: mock.New(), Store: store, Middleware: []*plugin.Middleware{notReady}})
	if _, err := b.Run(ctx, Input{Prompt: "hi"}); err == nil || !strings.Contains(err.Error(), "db not ready") {
		t.Errorf("err = %v", err)
	}
}

func TestRunStream(t *testing.T) {
	store := newTestStore(t)
	var ready, finished int
	var finishedWith []provider.Message
	mw := &plugin.Middleware{
		Name:          "ui",
		OnStreamReady: func(context.Context) { ready++ },
		OnStreamFinish: func(_ context.Context, msgs []provider.Message) {
			finished++
			finishedWith = msgs
		},
	}
	p := mock.NewScripted(
		mock.Step{Content: "Looking.", ToolCalls: []provider.ToolCall{call("noop", nil)}},
		mock.Step{Content: "Answer."},
	)
	a := newTestAgent(t, Config{Provider: p, Store: store, Middleware: []*plugin.Middleware{mw}, Tools: []plugin.Tool{echoTool("noop", nil)}})

	var text strings.Builder
	var toolEvents int
	res, err := a.RunStream(context.Background(), Input{Prompt: "q"}, func(ev provider.StreamEvent) {
		switch ev.Type {
		case provider.EventText:
			text.WriteString(ev.Text)
		case provider.EventToolCall:
			toolEvents++
		}
	})
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if text.String() != "Looking.Answer." || toolEvents != 1 {
		t.Errorf("streamed text %q, tool events %d", text.String(), toolEvents)
	}
	if res.Text != "Answer." || res.Usage.OutputTokens == 0 {
		t.Errorf("result = %+v", res)
	}
	if ready != 1 || finished != 1 || len(finishedWith) != len(res.Messages) {
		t.Errorf("stream hooks: ready %d finished %d messages %d", ready, finished, len(finishedWith))
	}
}

func TestRunStream_Cancelled(t *testing.T) {
	store := newTestStore(t)
	p := mock.NewScripted(mock.Step{Content: "slow", Delay: 5 * time.Second})
	a := newTestAgent(t, Config{Provider: p, Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.RunStream(ctx, Input{Prompt: "q"}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
