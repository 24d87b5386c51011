// Package stream carries typed progress events from the agent loop to an
// optional UI channel.
package stream

import (
	"context"
	"sync"
	"time"
)

// Type names an event kind.
type Type string

const (
	TypeStatus        Type = "status"
	TypeTaskUpdate    Type = "task_update"
	TypeDelegation    Type = "delegation"
	TypeSummarization Type = "summarization"
	TypeNotification  Type = "notification"
)

// Event is one message on the UI stream.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

// StatusData reports loop progress.
type StatusData struct {
	State string `json:"state"` // "started", "step", "finished", "failed"
	Agent string `json:"agent,omitempty"`
	Step  int    `json:"step,omitempty"`
	Error string `json:"error,omitempty"`
}

// TaskUpdateData reports task graph changes.
type TaskUpdateData struct {
	Action  string   `json:"action"` // "created", "updated", "deleted", "template_applied"
	TaskIDs []string `json:"task_ids"`
}

// DelegationData reports sub-agent progress.
type DelegationData struct {
	Agent  string `json:"agent"`
	Status string `json:"status"` // "starting", "complete", "failed"
	Task   string `json:"task,omitempty"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SummarizationData reports a context compression.
type SummarizationData struct {
	Summarized int    `json:"summarized"`
	Kept       int    `json:"kept"`
	Summary    string `json:"summary"`
}

// NotificationData is a user-facing notice, typically a degraded-mode warning.
type NotificationData struct {
	Level   string `json:"level"` // "info", "warning", "error"
	Message string `json:"message"`
}

// Sink accepts events. Emit must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return Nop{}
	case 1:
		return live[0]
	}
	return SinkFunc(func(ev Event) {
		for _, s := range live {
			s.Emit(ev)
		}
	})
}

// Emit stamps and sends an event to the sink attached to ctx, if any.
func Emit(ctx context.Context, typ Type, data any) {
	FromContext(ctx).Emit(Event{Type: typ, SessionID: sessionFromContext(ctx), Data: data, Time: time.Now().UTC()})
}

// Recorder keeps every event it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(typ Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type contextKey int

const (
	sinkKey contextKey = iota
	sessionKey
)

// WithSink attaches a sink to ctx.
func WithSink(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, sinkKey, s)
}

// FromContext returns the attached sink, or Nop.
func FromContext(ctx context.Context) Sink {
	if s, ok := ctx.Value(sinkKey).(Sink); ok && s != nil {
		return s
	}
	return Nop{}
}

// WithSession tags events emitted through ctx with a session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

func sessionFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey).(string)
	return s
}
