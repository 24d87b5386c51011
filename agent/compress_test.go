package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/provider/mock"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

// conversation builds a history whose message at toolAt is a tool result
// answering the assistant call right before it.
func conversation(n, toolAt int) []provider.Message {
	msgs := make([]provider.Message, n)
	for i := range msgs {
		role := provider.RoleUser
		if i%2 == 1 {
			role = provider.RoleAssistant
		}
		msgs[i] = provider.Message{Role: role, Content: fmt.Sprintf("m%d", i)}
	}
	if toolAt > 0 {
		msgs[toolAt-1] = provider.Message{
			Role:      provider.RoleAssistant,
			Content:   fmt.Sprintf("m%d", toolAt-1),
			ToolCalls: []provider.ToolCall{{ID: "c1", Name: "search"}},
		}
		msgs[toolAt] = provider.Message{Role: provider.RoleTool, Content: fmt.Sprintf("m%d", toolAt), ToolCallID: "c1", ToolName: "search"}
	}
	return msgs
}

func TestSplitForCompression_TailNeverStartsWithTool(t *testing.T) {
	// 12 messages, threshold 10: the tail would start at index 7, a tool result.
	msgs := conversation(12, 7)
	batch, tail := splitForCompression(msgs, 10)
	if tail[0].Role == provider.RoleTool {
		t.Fatal("tail starts with a tool message")
	}
	if len(tail) != 4 || tail[0].Content != "m8" {
		t.Errorf("tail = %d messages starting at %q, want 4 starting at m8", len(tail), tail[0].Content)
	}
	if len(batch) != 8 || batch[7].Role != provider.RoleTool {
		t.Errorf("batch = %d messages, want 8 ending with the dropped tool result", len(batch))
	}

	// Consecutive tool results are all moved to the batch.
	msgs[8] = provider.Message{Role: provider.RoleTool, Content: "m8"}
	_, tail = splitForCompression(msgs, 10)
	if len(tail) != 3 || tail[0].Content != "m9" {
		t.Errorf("tail = %+v", tail)
	}

	// A threshold larger than the history keeps everything.
	batch, tail = splitForCompression(conversation(3, 0), 10)
	if len(batch) != 0 || len(tail) != 3 {
		t.Errorf("batch %d tail %d", len(batch), len(tail))
	}
}

func seedHistory(t *testing.T, store task.Store, msgs []provider.Message) {
	t.Helper()
	if err := store.SaveState(context.Background(), &task.AgentState{SessionID: "session-1", Messages: msgs}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
}

func TestRun_CompressesLongHistory(t *testing.T) {
	store := newTestStore(t)
	// 12 stored messages plus the new prompt make 13 live messages; the tail
	// of 5 would start at index 8, which is a tool result.
	seedHistory(t, store, conversation(12, 8))

	p := mock.New("done")
	p.Summary = "S1: the user asked for a report."
	rec := &stream.Recorder{}
	a := newTestAgent(t, Config{SystemPrompt: "sys", Provider: p, Store: store, MaxContextMessages: 10, Sink: rec})

	ctx := context.Background()
	if _, err := a.Run(ctx, Input{Prompt: "next"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := p.Requests()[0]
	if len(req) != 6 {
		t.Fatalf("request has %d messages, want system + summary + 4 tail", len(req))
	}
	if req[1].Role != provider.RoleSystem || !strings.Contains(req[1].Content, "S1: the user asked") {
		t.Errorf("summary message = %+v", req[1])
	}
	if req[2].Content != "m9" || req[5].Content != "next" {
		t.Errorf("tail = %q .. %q", req[2].Content, req[5].Content)
	}

	st, err := store.LoadState(ctx, "session-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Summary != p.Summary {
		t.Errorf("stored summary = %q", st.Summary)
	}
	if len(st.Messages) != 14 {
		t.Errorf("persisted history = %d messages, want 14 (untouched by compression)", len(st.Messages))
	}
	if summarizedThrough(st) != 9 {
		t.Errorf("summarized through %d, want 9", summarizedThrough(st))
	}

	events := rec.OfType(stream.TypeSummarization)
	if len(events) != 1 {
		t.Fatalf("summarization events = %d", len(events))
	}
	if data := events[0].Data.(stream.SummarizationData); data.Summarized != 9 || data.Kept != 4 {
		t.Errorf("summarization event = %+v", data)
	}
}

func TestRun_ReusesSummaryForCoveredMessages(t *testing.T) {
	store := newTestStore(t)
	seedHistory(t, store, conversation(12, 0))

	p := mock.New("ok")
	a := newTestAgent(t, Config{Provider: p, Store: store, MaxContextMessages: 10})
	ctx := context.Background()
	if _, err := a.Run(ctx, Input{Prompt: "one"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before, _ := store.LoadState(ctx, "session-1")

	// The next run only has new messages past the covered prefix; the stored
	// summary is merged with them rather than rebuilt from the start.
	p.Summary = "S2"
	if _, err := a.Run(ctx, Input{Prompt: "two"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after, _ := store.LoadState(ctx, "session-1")
	if after.Summary != "S2" {
		t.Errorf("summary = %q, want S2", after.Summary)
	}
	if summarizedThrough(after) <= summarizedThrough(before) {
		t.Errorf("covered prefix did not advance: %d -> %d", summarizedThrough(before), summarizedThrough(after))
	}
}

func TestRun_SummarizationFailureFallsBackToTail(t *testing.T) {
	store := newTestStore(t)
	seedHistory(t, store, conversation(12, 8))

	p := mock.New("done")
	p.SummaryErr = errors.New("model overloaded")
	rec := &stream.Recorder{}
	a := newTestAgent(t, Config{SystemPrompt: "sys", Provider: p, Store: store, MaxContextMessages: 10, Sink: rec})

	res, err := a.Run(context.Background(), Input{Prompt: "next"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := p.Requests()[0]
	if len(req) != 5 || req[1].Content != "m9" {
		t.Errorf("request = %+v, want system + bare tail", req)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "model overloaded") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	notes := rec.OfType(stream.TypeNotification)
	if len(notes) != 1 || notes[0].Data.(stream.NotificationData).Level != "warning" {
		t.Errorf("notifications = %+v", notes)
	}
	st, _ := store.LoadState(context.Background(), "session-1")
	if st.Summary != "" {
		t.Errorf("summary = %q, want none", st.Summary)
	}
}

// summaryFailStore rejects summary writes.
type summaryFailStore struct {
	*task.SQLiteStore
}

func (summaryFailStore) SaveSummary(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestRun_UnsavedSummaryDoesNotAdvanceCoverage(t *testing.T) {
	store := newTestStore(t)
	seedHistory(t, store, conversation(12, 8))

	p := mock.New("done")
	p.Summary = "S1"
	a := newTestAgent(t, Config{Provider: p, Store: summaryFailStore{store}, MaxContextMessages: 10})

	res, err := a.Run(context.Background(), Input{Prompt: "next"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if req := p.Requests()[0]; !strings.Contains(req[0].Content, "S1") && !strings.Contains(req[1].Content, "S1") {
		t.Errorf("summary not used for the step: %+v", req[:2])
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "disk full") {
		t.Errorf("warnings = %v", res.Warnings)
	}

	st, err := store.LoadState(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Summary != "" || summarizedThrough(st) != 0 {
		t.Errorf("stored summary %q through %d, want none", st.Summary, summarizedThrough(st))
	}
}

func TestTranscript(t *testing.T) {
	got := transcript([]provider.Message{
		{Role: provider.RoleUser, Content: "find it"},
		{Role: provider.RoleAssistant, Content: "looking", ToolCalls: []provider.ToolCall{{Name: "search"}}},
		{Role: provider.RoleTool, Content: "found", ToolName: "search"},
	})
	want := "[user]: find it\n\n[assistant]: looking (called search)\n\n[tool search]: found\n\n"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}
