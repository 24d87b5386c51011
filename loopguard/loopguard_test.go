package loopguard

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/GoCodeAlone/deepagent/agent"
	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/provider/mock"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

func TestDetector(t *testing.T) {
	tests := []struct {
		name   string
		record func(d *Detector)
		want   Status
	}{
		{"empty", func(*Detector) {}, StatusOK},
		{"distinct calls", func(d *Detector) {
			d.Record("read", map[string]any{"path": "a"}, "A", false)
			d.Record("read", map[string]any{"path": "b"}, "B", false)
		}, StatusOK},
		{"two identical calls warn", func(d *Detector) {
			d.Record("read", map[string]any{"path": "a"}, "A1", false)
			d.Record("read", map[string]any{"path": "a"}, "A2", false)
		}, StatusWarn},
		{"three identical calls stop", func(d *Detector) {
			for _, out := range []string{"1", "2", "3"} {
				d.Record("read", map[string]any{"path": "a"}, out, false)
			}
		}, StatusStop},
		{"repeated error stops", func(d *Detector) {
			d.Record("write", map[string]any{"path": "/"}, "Error: denied", true)
			d.Record("read", nil, "ok", false)
			d.Record("write", map[string]any{"path": "/"}, "Error: denied", true)
		}, StatusStop},
		{"alternating stops", func(d *Detector) {
			for i := 0; i < 3; i++ {
				d.Record("list", nil, "x"+string(rune('a'+i)), false)
				d.Record("get", map[string]any{"id": "1"}, "y"+string(rune('a'+i)), false)
			}
		}, StatusStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(Limits{})
			tt.record(d)
			if got, msg := d.Check(); got != tt.want {
				t.Errorf("Check = %v (%q), want %v", got, msg, tt.want)
			}
		})
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(Limits{Consecutive: 2})
	d.Record("read", nil, "a", false)
	d.Record("read", nil, "b", false)
	if s, _ := d.Check(); s != StatusStop {
		t.Fatalf("Check = %v, want stop", s)
	}
	d.Reset()
	if s, _ := d.Check(); s != StatusOK {
		t.Errorf("after Reset Check = %v", s)
	}
}

func newTestStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "deepagent-loopguard-*.db")
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

func lastContent(msgs []provider.Message) string {
	return msgs[len(msgs)-1].Content
}

func TestMiddleware_NudgesThenStops(t *testing.T) {
	pingCall := mock.Step{ToolCalls: []provider.ToolCall{{Name: "ping", Arguments: map[string]any{"target": "db"}}}}
	p := mock.NewScripted(pingCall, pingCall, pingCall, mock.Step{Content: "Giving up: the database never answered."})
	ping := &plugin.Func{ToolName: "ping", Fn: func(context.Context, map[string]any) (any, error) { return "no answer", nil }}
	rec := &stream.Recorder{}

	a, err := agent.New(agent.Config{
		Provider:   p,
		Store:      newTestStore(t),
		SessionID:  "looping",
		Middleware: []*plugin.Middleware{Middleware(Limits{}, nil)},
		Tools:      []plugin.Tool{ping},
		MaxSteps:   10,
		Sink:       rec,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	res, err := a.Run(context.Background(), agent.Input{Prompt: "Check the database"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 4 || !strings.HasPrefix(res.Text, "Giving up") {
		t.Fatalf("steps %d text %q", res.Steps, res.Text)
	}

	reqs, defs := p.Requests(), p.Tools()
	if strings.Contains(lastContent(reqs[1]), "[loop") {
		t.Errorf("step 2 was nudged too early: %q", lastContent(reqs[1]))
	}
	if got := lastContent(reqs[2]); !strings.HasPrefix(got, "[loop warning]") {
		t.Errorf("step 3 last message = %q, want a warning", got)
	}
	if got := lastContent(reqs[3]); !strings.HasPrefix(got, "[loop stopped]") {
		t.Errorf("step 4 last message = %q, want a stop", got)
	}
	if len(defs[2]) != 1 || len(defs[3]) != 0 {
		t.Errorf("tools offered: step 3 %d, step 4 %d", len(defs[2]), len(defs[3]))
	}
	if notes := rec.OfType(stream.TypeNotification); len(notes) != 1 {
		t.Errorf("notifications = %d, want 1", len(notes))
	}

	// Nudges are not persisted.
	for _, m := range res.Messages {
		if strings.Contains(m.Content, "[loop") {
			t.Errorf("nudge leaked into history: %q", m.Content)
		}
	}
}
