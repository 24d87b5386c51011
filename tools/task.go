package tools

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
	"github.com/GoCodeAlone/deepagent/taskgraph"
)

// graphFor binds a task graph to the session carried by ctx.
func graphFor(ctx context.Context, store task.Store) (*taskgraph.Graph, error) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no session id in context")
	}
	return taskgraph.New(store, sessionID), nil
}

var taskDefSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":       map[string]any{"type": "string", "description": "Task title"},
		"description": map[string]any{"type": "string", "description": "Task description"},
		"status":      map[string]any{"type": "string", "description": "Initial status (pending, blocked, in_progress, completed, failed)"},
		"priority":    map[string]any{"type": "string", "description": "Priority (low, medium, high, critical; default medium)"},
		"blocked_by": map[string]any{
			"type":        "array",
			"description": "Dependencies: an index into this batch (0-based) or an existing task id",
			"items":       map[string]any{"type": []string{"string", "integer"}},
		},
		"file_refs":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"task_refs":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"url_refs":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"complexity": map[string]any{"type": "integer", "description": "Complexity estimate 1-10"},
		"owner":      map[string]any{"type": "string"},
		"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"metadata":   map[string]any{"type": "object"},
	},
	"required": []string{"title"},
}

// TaskCreateTool creates a batch of tasks with dependencies.
type TaskCreateTool struct {
	Store task.Store
}

func (t *TaskCreateTool) Name() string { return "task_create" }
func (t *TaskCreateTool) Description() string {
	return "Create one or more tasks. blocked_by entries may reference earlier tasks in the same batch by index."
}
func (t *TaskCreateTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tasks": map[string]any{"type": "array", "items": taskDefSchema, "description": "Tasks to create"},
			},
			"required": []string{"tasks"},
		},
	}
}
func (t *TaskCreateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	raw, _ := args["tasks"].([]any)
	if len(raw) == 0 {
		return nil, fmt.Errorf("tasks must be a non-empty array")
	}
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			normalizeRefs(m)
		}
	}
	var in struct {
		Tasks []task.Def `json:"tasks"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	created, err := g.CreateTasks(ctx, in.Tasks)
	if err != nil {
		return failure(err)
	}
	stream.Emit(ctx, stream.TypeTaskUpdate, stream.TaskUpdateData{Action: "created", TaskIDs: taskIDs(created)})
	return map[string]any{"success": true, "tasks": created}, nil
}

// TaskUpdateTool edits a task and runs the status cascades.
type TaskUpdateTool struct {
	Store task.Store
}

func (t *TaskUpdateTool) Name() string { return "task_update" }
func (t *TaskUpdateTool) Description() string {
	return "Update a task's fields, status or dependencies. Completing a task unblocks its dependents."
}
func (t *TaskUpdateTool) Definition() provider.ToolDef {
	list := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":                map[string]any{"type": "string", "description": "Task ID"},
				"title":             map[string]any{"type": "string"},
				"description":       map[string]any{"type": "string"},
				"status":            map[string]any{"type": "string", "description": "pending, blocked, in_progress, completed, failed"},
				"priority":          map[string]any{"type": "string", "description": "low, medium, high, critical"},
				"error":             map[string]any{"type": "string", "description": "Failure reason"},
				"complexity":        map[string]any{"type": "integer"},
				"owner":             map[string]any{"type": "string"},
				"metadata":          map[string]any{"type": "object", "description": "Keys to merge; null deletes a key"},
				"add_tags":          list,
				"remove_tags":       list,
				"add_file_refs":     list,
				"add_task_refs":     list,
				"add_url_refs":      list,
				"add_blocked_by":    list,
				"remove_blocked_by": list,
			},
			"required": []string{"id"},
		},
	}
}
func (t *TaskUpdateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	var u taskgraph.Update
	if err := decodeArgs(args, &u); err != nil {
		return nil, err
	}
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	res, err := g.UpdateTask(ctx, id, u)
	if err != nil {
		return failure(err)
	}
	ids := append([]string{id}, res.Unblocked...)
	ids = append(ids, res.Reblocked...)
	stream.Emit(ctx, stream.TypeTaskUpdate, stream.TaskUpdateData{Action: "updated", TaskIDs: ids})
	return map[string]any{
		"success":   true,
		"task":      res.Task,
		"unblocked": res.Unblocked,
		"reblocked": res.Reblocked,
	}, nil
}

// TaskGetTool returns one task.
type TaskGetTool struct {
	Store task.Store
}

func (t *TaskGetTool) Name() string        { return "task_get" }
func (t *TaskGetTool) Description() string { return "Get a task by ID" }
func (t *TaskGetTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "description": "Task ID"},
			},
			"required": []string{"id"},
		},
	}
}
func (t *TaskGetTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	tk, err := g.Task(ctx, id)
	if err != nil {
		return failure(err)
	}
	return map[string]any{"success": true, "task": tk}, nil
}

// TaskListTool lists the session's tasks, optionally filtered by status.
type TaskListTool struct {
	Store task.Store
}

func (t *TaskListTool) Name() string        { return "task_list" }
func (t *TaskListTool) Description() string { return "List tasks, optionally filtered by status" }
func (t *TaskListTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{"type": "string", "description": "Only return tasks with this status"},
			},
		},
	}
}
func (t *TaskListTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	status := task.Status(stringArg(args, "status"))
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	all, err := g.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(all))
	for _, tk := range all {
		if status == "" || tk.Status == status {
			out = append(out, tk)
		}
	}
	return map[string]any{"success": true, "tasks": out, "count": len(out)}, nil
}

// TaskDeleteTool removes a task, optionally with its sole dependents.
type TaskDeleteTool struct {
	Store task.Store
}

func (t *TaskDeleteTool) Name() string { return "task_delete" }
func (t *TaskDeleteTool) Description() string {
	return "Delete a task. With cascade, tasks that depend only on it are deleted too."
}
func (t *TaskDeleteTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":      map[string]any{"type": "string", "description": "Task ID"},
				"cascade": map[string]any{"type": "boolean", "description": "Also delete single-dependency dependents"},
			},
			"required": []string{"id"},
		},
	}
}
func (t *TaskDeleteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	cascade, _ := args["cascade"].(bool)
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	deleted, err := g.DeleteTask(ctx, id, cascade)
	if err != nil {
		return failure(err)
	}
	stream.Emit(ctx, stream.TypeTaskUpdate, stream.TaskUpdateData{Action: "deleted", TaskIDs: deleted})
	return map[string]any{"success": true, "deleted": deleted}, nil
}

// TaskAvailableTool lists tasks that can be worked on now.
type TaskAvailableTool struct {
	Store task.Store
}

func (t *TaskAvailableTool) Name() string { return "task_available" }
func (t *TaskAvailableTool) Description() string {
	return "List pending or in-progress tasks whose dependencies are all completed"
}
func (t *TaskAvailableTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}
func (t *TaskAvailableTool) Execute(ctx context.Context, _ map[string]any) (any, error) {
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	avail, err := g.AvailableTasks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "tasks": avail, "count": len(avail)}, nil
}

// TaskExecutionOrderTool returns the open tasks grouped into parallelizable levels.
type TaskExecutionOrderTool struct {
	Store task.Store
}

func (t *TaskExecutionOrderTool) Name() string { return "task_execution_order" }
func (t *TaskExecutionOrderTool) Description() string {
	return "Group open tasks into execution levels; tasks within a level can run in parallel"
}
func (t *TaskExecutionOrderTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}
func (t *TaskExecutionOrderTool) Execute(ctx context.Context, _ map[string]any) (any, error) {
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	levels, err := g.ExecutionOrder(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]map[string]any, len(levels))
	for i, level := range levels {
		for _, tk := range level {
			out[i] = append(out[i], map[string]any{"id": tk.ID, "title": tk.Title, "status": tk.Status})
		}
	}
	return map[string]any{"success": true, "levels": out}, nil
}
