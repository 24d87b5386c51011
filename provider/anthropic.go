package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
	anthropicAPIVersion       = "2023-06-01"
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	config AnthropicConfig
}

// NewAnthropicProvider creates a new Anthropic provider with the given config.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicProvider{config: cfg}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

// wireBlock covers text, tool_use and tool_result content blocks.
type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// MarshalJSON always encodes input on tool_use blocks; the API rejects a
// tool_use without it, even for calls that took no arguments.
func (b wireBlock) MarshalJSON() ([]byte, error) {
	type plain wireBlock
	if b.Type != "tool_use" {
		return json.Marshal(plain(b))
	}
	input := b.Input
	if input == nil {
		input = map[string]any{}
	}
	return json.Marshal(struct {
		plain
		Input map[string]any `json:"input"`
	}{plain(b), input})
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	StopReason string      `json:"stop_reason"`
	Content    []wireBlock `json:"content"`
	Usage      wireUsage   `json:"usage"`
	Error      *wireError  `json:"error,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	resp, err := p.send(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	var apiResp messagesResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	return toResponse(&apiResp), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan StreamEvent, error) {
	resp, err := p.send(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamEvent, 16)
	go readEvents(ctx, resp.Body, ch)
	return ch, nil
}

// send posts a request and returns the response when the API accepted it.
func (p *AnthropicProvider) send(ctx context.Context, body *messagesRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("anthropic: API error (status %d): %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}

// buildRequest maps the conversation onto Messages API turns. System
// messages are joined into the system field; assistant tool calls become
// tool_use blocks and consecutive tool results are merged into one user turn.
func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDef, stream bool) *messagesRequest {
	req := &messagesRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
		Stream:    stream,
	}

	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleTool:
			block := wireBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
				IsError:   msg.IsError,
			}
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "user" && isToolResultTurn(req.Messages[n-1]) {
				req.Messages[n-1].Content = append(req.Messages[n-1].Content, block)
				continue
			}
			req.Messages = append(req.Messages, wireMessage{Role: "user", Content: []wireBlock{block}})
		case RoleAssistant:
			var blocks []wireBlock
			if msg.Content != "" {
				blocks = append(blocks, wireBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, wireBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) == 0 {
				continue
			}
			req.Messages = append(req.Messages, wireMessage{Role: "assistant", Content: blocks})
		default:
			req.Messages = append(req.Messages, wireMessage{
				Role:    "user",
				Content: []wireBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	req.System = strings.Join(system, "\n\n")

	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return req
}

func isToolResultTurn(m wireMessage) bool {
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

func toResponse(apiResp *messagesResponse) *Response {
	resp := &Response{
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, item := range apiResp.Content {
		switch item.Type {
		case "text":
			text.WriteString(item.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: item.ID, Name: item.Name, Arguments: item.Input})
		}
	}
	resp.Content = text.String()
	return resp
}

// sseEvent is the union of the Messages API stream payloads we consume.
type sseEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Usage *wireUsage `json:"usage"`
	Error *wireError `json:"error"`
}

// readEvents parses the SSE body into StreamEvents. It stops early when ctx
// is cancelled so an abandoned stream does not pin the goroutine.
func readEvents(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer func() { _ = body.Close() }()
	defer close(ch)

	emit := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		toolID, toolName string
		toolInput        bytes.Buffer
		usage            Usage
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
				usage.OutputTokens = ev.Message.Usage.OutputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				toolID, toolName = ev.ContentBlock.ID, ev.ContentBlock.Name
				toolInput.Reset()
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if !emit(StreamEvent{Type: EventText, Text: ev.Delta.Text}) {
					return
				}
			case "input_json_delta":
				toolInput.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if toolID == "" {
				continue
			}
			args := map[string]any{}
			if toolInput.Len() > 0 {
				_ = json.Unmarshal(toolInput.Bytes(), &args)
			}
			if !emit(StreamEvent{Type: EventToolCall, Tool: &ToolCall{ID: toolID, Name: toolName, Arguments: args}}) {
				return
			}
			toolID, toolName = "", ""
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			u := usage
			emit(StreamEvent{Type: EventDone, Usage: &u})
			return
		case "error":
			msg := data
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			emit(StreamEvent{Type: EventError, Error: msg})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(StreamEvent{Type: EventError, Error: err.Error()})
	}
}
