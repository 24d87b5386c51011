// Package mock provides a scripted model provider for tests and offline runs.
package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/deepagent/provider"
)

const (
	defaultResponse = "Task acknowledged. Working on it."
	defaultSummary  = "Summary: earlier turns covered the task setup and the tool results so far."
)

// Step is one scripted model response.
type Step struct {
	Content   string              `yaml:"content" json:"content"`
	ToolCalls []provider.ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	Error     string              `yaml:"error,omitempty" json:"error,omitempty"`
	Delay     time.Duration       `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// Scenario is a named sequence of steps loadable from YAML.
type Scenario struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
	Loop        bool   `yaml:"loop,omitempty" json:"loop,omitempty"`
}

// LoadScenario reads a Scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %q: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", path)
	}
	return &sc, nil
}

// ErrExhausted is returned when a non-looping script has no steps left.
var ErrExhausted = errors.New("mock: scripted steps exhausted")

// Provider implements provider.Provider with scripted responses. It is safe
// for concurrent use.
//
// Summarization requests (a system message asking for a summarizer) are
// answered with Summary or SummaryErr without consuming a step.
type Provider struct {
	Summary    string
	SummaryErr error

	mu       sync.Mutex
	steps    []Step
	loop     bool
	idx      int
	requests [][]provider.Message
	tools    [][]provider.ToolDef
}

// New creates a Provider that cycles through plain text responses.
func New(responses ...string) *Provider {
	steps := make([]Step, len(responses))
	for i, r := range responses {
		steps[i] = Step{Content: r}
	}
	return &Provider{steps: steps, loop: true}
}

// NewScripted creates a Provider that plays steps once, in order.
func NewScripted(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// FromScenario creates a Provider from a loaded scenario.
func FromScenario(sc *Scenario) *Provider {
	return &Provider{steps: sc.Steps, loop: sc.Loop}
}

// Name returns the provider identifier.
func (m *Provider) Name() string { return "mock" }

// Chat returns the next scripted response.
func (m *Provider) Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (*provider.Response, error) {
	if IsSummarizationRequest(messages) {
		m.mu.Lock()
		summary, err := m.Summary, m.SummaryErr
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if summary == "" {
			summary = defaultSummary
		}
		return &provider.Response{Content: summary}, nil
	}

	m.mu.Lock()
	m.requests = append(m.requests, append([]provider.Message(nil), messages...))
	m.tools = append(m.tools, append([]provider.ToolDef(nil), tools...))
	if len(m.steps) == 0 {
		m.mu.Unlock()
		return &provider.Response{Content: defaultResponse}, nil
	}
	if m.idx >= len(m.steps) {
		if !m.loop {
			m.mu.Unlock()
			return nil, ErrExhausted
		}
		m.idx = 0
	}
	step := m.steps[m.idx]
	m.idx++
	m.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Error != "" {
		return nil, errors.New(step.Error)
	}

	resp := &provider.Response{
		Content: step.Content,
		Usage:   provider.Usage{InputTokens: len(messages), OutputTokens: len(step.Content)},
	}
	for _, tc := range step.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()[:8]
		}
		if tc.Arguments == nil {
			tc.Arguments = map[string]any{}
		}
		resp.ToolCalls = append(resp.ToolCalls, tc)
	}
	return resp, nil
}

// Stream wraps Chat output into stream events.
func (m *Provider) Stream(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (<-chan provider.StreamEvent, error) {
	resp, err := m.Chat(ctx, messages, tools)
	if err != nil {
		return nil, fmt.Errorf("mock stream: %w", err)
	}

	ch := make(chan provider.StreamEvent, len(resp.ToolCalls)+2)
	go func() {
		defer close(ch)
		if resp.Content != "" {
			ch <- provider.StreamEvent{Type: provider.EventText, Text: resp.Content}
		}
		for i := range resp.ToolCalls {
			ch <- provider.StreamEvent{Type: provider.EventToolCall, Tool: &resp.ToolCalls[i]}
		}
		usage := resp.Usage
		ch <- provider.StreamEvent{Type: provider.EventDone, Usage: &usage}
	}()
	return ch, nil
}

// Requests returns copies of the message lists passed to non-summary calls.
func (m *Provider) Requests() [][]provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]provider.Message(nil), m.requests...)
}

// Tools returns the tool definitions offered on each non-summary call.
func (m *Provider) Tools() [][]provider.ToolDef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]provider.ToolDef(nil), m.tools...)
}

// Remaining returns how many unconsumed steps remain.
func (m *Provider) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rem := len(m.steps) - m.idx; rem > 0 {
		return rem
	}
	return 0
}

// IsSummarizationRequest reports whether the messages look like a context
// compression request rather than a normal agent turn.
func IsSummarizationRequest(messages []provider.Message) bool {
	for _, m := range messages {
		if m.Role != provider.RoleSystem {
			continue
		}
		lower := strings.ToLower(m.Content)
		if strings.Contains(lower, "summarizer") || strings.Contains(lower, "summariser") {
			return true
		}
	}
	return false
}
