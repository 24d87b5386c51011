package agent

import (
	"strings"

	"github.com/GoCodeAlone/deepagent/provider"
)

// UI part types.
const (
	PartText = "text"
	PartTool = "tool"
)

// Tool part states.
const (
	ToolStateCall   = "call"
	ToolStateResult = "result"
	ToolStateError  = "error"
)

// UIPart is one rendered piece of a presentation-layer message.
type UIPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	State      string         `json:"state,omitempty"`
}

// UIMessage is a message in the presentation format a chat UI keeps.
type UIMessage struct {
	ID    string        `json:"id,omitempty"`
	Role  provider.Role `json:"role"`
	Parts []UIPart      `json:"parts"`
}

// ConvertUIMessages turns presentation messages into model turns. An
// assistant message's tool parts become its tool calls, and parts that carry
// a result become tool messages right after it.
func ConvertUIMessages(in []UIMessage) []provider.Message {
	var out []provider.Message
	for _, um := range in {
		var text []string
		var calls []provider.ToolCall
		var results []provider.Message
		for _, p := range um.Parts {
			switch p.Type {
			case PartText:
				if p.Text != "" {
					text = append(text, p.Text)
				}
			case PartTool:
				if um.Role == provider.RoleAssistant {
					args := p.Input
					if args == nil {
						args = map[string]any{}
					}
					calls = append(calls, provider.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: args})
				}
				if p.State == ToolStateResult || p.State == ToolStateError || um.Role == provider.RoleTool {
					results = append(results, provider.Message{
						Role:       provider.RoleTool,
						Content:    p.Output,
						ToolCallID: p.ToolCallID,
						ToolName:   p.ToolName,
						IsError:    p.State == ToolStateError,
					})
				}
			}
		}
		if um.Role != provider.RoleTool && (len(text) > 0 || len(calls) > 0) {
			out = append(out, provider.Message{Role: um.Role, Content: strings.Join(text, "\n"), ToolCalls: calls})
		}
		out = append(out, results...)
	}
	return out
}

// Sanitize drops tool messages that do not directly follow an assistant or
// another tool message.
func Sanitize(msgs []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == provider.RoleTool {
			if len(out) == 0 {
				continue
			}
			if prev := out[len(out)-1].Role; prev != provider.RoleAssistant && prev != provider.RoleTool {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
