package mock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/deepagent/provider"
)

func TestProvider_Chat_DefaultResponse(t *testing.T) {
	m := New()
	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}
	resp, err := m.Chat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != defaultResponse {
		t.Errorf("Chat() content = %q, want %q", resp.Content, defaultResponse)
	}
}

func TestProvider_Chat_CyclesResponses(t *testing.T) {
	m := New("first", "second", "third")

	want := []string{"first", "second", "third", "first"}
	for i, w := range want {
		resp, err := m.Chat(context.Background(), nil, nil)
		if err != nil {
			t.Fatalf("Chat() call %d error = %v", i, err)
		}
		if resp.Content != w {
			t.Errorf("Chat() call %d = %q, want %q", i, resp.Content, w)
		}
	}
}

func TestProvider_Scripted(t *testing.T) {
	m := NewScripted(
		Step{ToolCalls: []provider.ToolCall{{Name: "task_list"}}},
		Step{Error: "model overloaded"},
	)

	resp, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID == "" {
		t.Fatalf("expected one tool call with generated id, got %+v", resp.ToolCalls)
	}
	if _, err := m.Chat(context.Background(), nil, nil); err == nil || err.Error() != "model overloaded" {
		t.Errorf("expected scripted error, got %v", err)
	}
	if _, err := m.Chat(context.Background(), nil, nil); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
	if got := len(m.Requests()); got != 3 {
		t.Errorf("Requests() = %d, want 3", got)
	}
}

func TestProvider_SummarizationDoesNotConsumeSteps(t *testing.T) {
	m := NewScripted(Step{Content: "only"})
	summaryReq := []provider.Message{{Role: provider.RoleSystem, Content: "You are a precise conversation summarizer."}}

	resp, err := m.Chat(context.Background(), summaryReq, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != defaultSummary {
		t.Errorf("summary = %q", resp.Content)
	}
	if m.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", m.Remaining())
	}

	m.SummaryErr = errors.New("boom")
	if _, err := m.Chat(context.Background(), summaryReq, nil); err == nil {
		t.Error("expected summary error")
	}
}

func TestProvider_Stream(t *testing.T) {
	m := NewScripted(Step{Content: "streaming", ToolCalls: []provider.ToolCall{{ID: "c1", Name: "task_get"}}})
	ch, err := m.Stream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	resp, err := provider.Collect(context.Background(), ch, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if resp.Content != "streaming" || len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "c1" {
		t.Errorf("collected = %+v", resp)
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	data := `name: plan
steps:
  - content: "planning"
    tool_calls:
      - id: c1
        name: task_create
        arguments:
          tasks:
            - title: Design
  - content: "done"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if sc.Name != "plan" || len(sc.Steps) != 2 {
		t.Fatalf("scenario = %+v", sc)
	}
	if sc.Steps[0].ToolCalls[0].Name != "task_create" {
		t.Errorf("tool call = %+v", sc.Steps[0].ToolCalls[0])
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	_ = os.WriteFile(empty, []byte("name: empty\n"), 0o600)
	if _, err := LoadScenario(empty); err == nil {
		t.Error("expected error for scenario without steps")
	}
}
