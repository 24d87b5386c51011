package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/task"
	"github.com/GoCodeAlone/deepagent/taskgraph"
)

const taskPrompt = `## Task planning

Use the task tools to plan and track multi-step work:
- Break the goal into tasks with task_create; express ordering with blocked_by.
- Use template_list and template_apply for common workflows (feature_dev, bugfix, research).
- Call task_available or task_execution_order to pick what to do next.
- Mark a task in_progress before working on it and completed as soon as it is done.
- Record failures with status failed and an error message.`

// maxPromptTasks bounds the open-task listing injected into the prompt.
const maxPromptTasks = 20

// TaskMiddleware exposes the session's task graph to the model.
func TaskMiddleware(store task.Store) *plugin.Middleware {
	return &plugin.Middleware{
		Name: "tasks",
		Tools: []plugin.Tool{
			&TaskCreateTool{Store: store},
			&TaskUpdateTool{Store: store},
			&TaskGetTool{Store: store},
			&TaskListTool{Store: store},
			&TaskDeleteTool{Store: store},
			&TaskAvailableTool{Store: store},
			&TaskExecutionOrderTool{Store: store},
			&TemplateListTool{Store: store},
			&TemplateApplyTool{Store: store},
			&TemplateSaveTool{Store: store},
			&TemplateDeleteTool{Store: store},
		},
		TransformPrompt: func(ctx context.Context, prompt string) string {
			var b strings.Builder
			b.WriteString(prompt)
			if prompt != "" {
				b.WriteString("\n\n")
			}
			b.WriteString(taskPrompt)
			if open := openTasks(ctx, store); open != "" {
				b.WriteString("\n\nOpen tasks:\n")
				b.WriteString(open)
			}
			return b.String()
		},
	}
}

// openTasks renders the session's unfinished tasks, one per line. Lookup
// errors leave the prompt without the listing.
func openTasks(ctx context.Context, store task.Store) string {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return ""
	}
	all, err := taskgraph.New(store, sessionID).Tasks(ctx)
	if err != nil {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, t := range all {
		if t.Status == task.StatusCompleted || t.Status == task.StatusFailed {
			continue
		}
		if n == maxPromptTasks {
			b.WriteString("- ...\n")
			break
		}
		fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", t.ID, t.Title, t.Status, t.Priority)
		n++
	}
	return strings.TrimSuffix(b.String(), "\n")
}
