package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
)

// DelegateToolName is the name of the delegation tool. Children never inherit it.
const DelegateToolName = "delegate"

// DelegateTool hands a task to a registered sub-agent.
type DelegateTool struct {
	Manager *Manager
}

func (t *DelegateTool) Name() string { return DelegateToolName }
func (t *DelegateTool) Description() string {
	return "Delegate a self-contained task to a specialised sub-agent. Returns a short summary and the path of the full result."
}
func (t *DelegateTool) Definition() provider.ToolDef {
	names := make([]string, 0, len(t.Manager.defs))
	for _, d := range t.Manager.defs {
		names = append(names, d.Name)
	}
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_name": map[string]any{
					"type":        "string",
					"description": "Name of the sub-agent",
					"enum":        names,
				},
				"task": map[string]any{
					"type":        "string",
					"description": "Complete description of the task; the sub-agent sees nothing else",
				},
			},
			"required": []string{"agent_name", "task"},
		},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["agent_name"].(string)
	taskText, _ := args["task"].(string)
	if name == "" {
		return nil, fmt.Errorf("agent_name is required")
	}
	if taskText == "" {
		return nil, fmt.Errorf("task is required")
	}

	res := t.Manager.Delegate(ctx, name, taskText)
	if !res.OK {
		if errors.Is(res.Err, ErrUnknownAgent) {
			return nil, res.Err
		}
		return map[string]any{"success": false, "agent": name, "error": res.Reason}, nil
	}
	out := map[string]any{"success": true, "agent": name, "summary": res.Summary, "path": res.Path}
	if res.Warning != "" {
		out["warning"] = res.Warning
	}
	return out, nil
}

// Middleware exposes delegation to the parent model.
func Middleware(m *Manager) *plugin.Middleware {
	return &plugin.Middleware{
		Name:  "subagents",
		Tools: []plugin.Tool{&DelegateTool{Manager: m}},
		TransformPrompt: func(_ context.Context, prompt string) string {
			if len(m.defs) == 0 {
				return prompt
			}
			var b strings.Builder
			b.WriteString(prompt)
			if prompt != "" {
				b.WriteString("\n\n")
			}
			b.WriteString("## Sub-agents\n\n")
			b.WriteString("Use the delegate tool for self-contained work that would clutter this conversation. ")
			b.WriteString("The sub-agent starts fresh, cannot see your tasks and returns a summary plus the path of its full result.\n")
			for _, d := range m.defs {
				fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
			}
			return strings.TrimSuffix(b.String(), "\n")
		},
	}
}
