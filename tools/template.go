package tools

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

// TemplateListTool lists built-in and custom task templates.
type TemplateListTool struct {
	Store task.Store
}

func (t *TemplateListTool) Name() string        { return "template_list" }
func (t *TemplateListTool) Description() string { return "List available task templates and their parameters" }
func (t *TemplateListTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}
func (t *TemplateListTool) Execute(ctx context.Context, _ map[string]any) (any, error) {
	tpls, err := t.Store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(tpls))
	for _, tpl := range tpls {
		out = append(out, map[string]any{
			"id":          tpl.ID,
			"name":        tpl.Name,
			"description": tpl.Description,
			"parameters":  tpl.Parameters,
			"sub_tasks":   len(tpl.SubTasks),
			"built_in":    tpl.BuiltIn,
		})
	}
	return map[string]any{"success": true, "templates": out}, nil
}

// TemplateApplyTool instantiates a template into the session's task graph.
type TemplateApplyTool struct {
	Store task.Store
}

func (t *TemplateApplyTool) Name() string { return "template_apply" }
func (t *TemplateApplyTool) Description() string {
	return "Create a main task and its chained sub-tasks from a template"
}
func (t *TemplateApplyTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"template_id": map[string]any{"type": "string", "description": "Template ID, e.g. feature_dev, bugfix, research"},
				"params": map[string]any{
					"type":                 "object",
					"description":          "Values for the template's ${param} placeholders",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"title": map[string]any{"type": "string", "description": "Optional main task title override"},
			},
			"required": []string{"template_id"},
		},
	}
}
func (t *TemplateApplyTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "template_id")
	if id == "" {
		return nil, fmt.Errorf("template_id is required")
	}
	g, err := graphFor(ctx, t.Store)
	if err != nil {
		return nil, err
	}
	created, err := g.ApplyTemplate(ctx, id, stringMapArg(args, "params"), stringArg(args, "title"))
	if err != nil {
		return failure(err)
	}
	stream.Emit(ctx, stream.TypeTaskUpdate, stream.TaskUpdateData{Action: "template_applied", TaskIDs: taskIDs(created)})
	return map[string]any{"success": true, "template_id": id, "tasks": created}, nil
}

// TemplateSaveTool stores a custom template.
type TemplateSaveTool struct {
	Store task.Store
}

func (t *TemplateSaveTool) Name() string        { return "template_save" }
func (t *TemplateSaveTool) Description() string { return "Save a custom task template for reuse" }
func (t *TemplateSaveTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":                    map[string]any{"type": "string"},
				"name":                  map[string]any{"type": "string"},
				"description":           map[string]any{"type": "string"},
				"base_task":             taskDefSchema,
				"sub_tasks":             map[string]any{"type": "array", "items": taskDefSchema},
				"default_file_patterns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"parameters": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"default":     map[string]any{"type": "string"},
							"required":    map[string]any{"type": "boolean"},
						},
						"required": []string{"name"},
					},
				},
			},
			"required": []string{"id", "name", "base_task"},
		},
	}
}
func (t *TemplateSaveTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var tpl task.Template
	if err := decodeArgs(args, &tpl); err != nil {
		return nil, err
	}
	if err := t.Store.SaveTemplate(ctx, &tpl); err != nil {
		return failure(err)
	}
	return map[string]any{"success": true, "id": tpl.ID}, nil
}

// TemplateDeleteTool removes a custom template.
type TemplateDeleteTool struct {
	Store task.Store
}

func (t *TemplateDeleteTool) Name() string        { return "template_delete" }
func (t *TemplateDeleteTool) Description() string { return "Delete a custom task template" }
func (t *TemplateDeleteTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string"},
			},
			"required": []string{"id"},
		},
	}
}
func (t *TemplateDeleteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if err := t.Store.DeleteTemplate(ctx, id); err != nil {
		return failure(err)
	}
	return map[string]any{"success": true, "id": id}, nil
}
