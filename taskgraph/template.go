package taskgraph

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/deepagent/task"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces ${name} tokens with values; unknown names become "".
func Substitute(s string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(s, func(tok string) string {
		return values[placeholder.FindStringSubmatch(tok)[1]]
	})
}

func substituteList(list []string, values map[string]string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = Substitute(s, values)
	}
	return out
}

// substituteDef returns a copy of d with every string field substituted,
// including string values in metadata.
func substituteDef(d task.Def, values map[string]string) task.Def {
	out := d
	out.Title = Substitute(d.Title, values)
	out.Description = Substitute(d.Description, values)
	out.Error = Substitute(d.Error, values)
	out.Owner = Substitute(d.Owner, values)
	out.BlockedBy = substituteList(d.BlockedBy, values)
	out.FileRefs = substituteList(d.FileRefs, values)
	out.TaskRefs = substituteList(d.TaskRefs, values)
	out.URLRefs = substituteList(d.URLRefs, values)
	out.Tags = substituteList(d.Tags, values)
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			if s, ok := v.(string); ok {
				v = Substitute(s, values)
			}
			out.Metadata[k] = v
		}
	}
	return out
}

// ApplyTemplate instantiates a template: one main task followed by its
// sub-tasks chained in order. Parameter defaults fill absent params. The
// main task depends only on what the template base declares; sub-task 0
// depends on the main task and sub-task i on sub-task i-1, so every
// sub-task starts blocked. The main task's Blocks lists all sub-tasks.
// Default file patterns are added to every task and all tasks are written
// in one changeset. A non-empty titleOverride replaces the main title.
func (g *Graph) ApplyTemplate(ctx context.Context, templateID string, params map[string]string, titleOverride string) ([]*task.Task, error) {
	tpl, err := g.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(tpl.Parameters)+len(params))
	for _, p := range tpl.Parameters {
		if p.Default != "" {
			values[p.Name] = p.Default
		}
	}
	for k, v := range params {
		values[k] = v
	}

	snap, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	now := g.now()

	base := substituteDef(tpl.BaseTask, values)
	if titleOverride != "" {
		base.Title = titleOverride
	}
	main := newTask(uuid.NewString(), &base, now)
	main.BlockedBy = nil
	touched := map[string]bool{}
	for _, dep := range base.BlockedBy {
		d, ok := snap.byID[dep]
		if !ok {
			return nil, fmt.Errorf("template %s dependency %s: %w", tpl.ID, dep, task.ErrNotFound)
		}
		main.BlockedBy = appendUnique(main.BlockedBy, dep)
		d.Blocks = appendUnique(d.Blocks, main.ID)
		d.UpdatedAt = now
		touched[dep] = true
	}
	if base.Status == "" && len(main.BlockedBy) > 0 {
		main.Status = task.StatusBlocked
	}

	created := []*task.Task{main}
	prev := main
	for _, sd := range tpl.SubTasks {
		def := substituteDef(sd, values)
		if def.Priority == "" {
			def.Priority = main.Priority
		}
		def.Status = task.StatusBlocked
		sub := newTask(uuid.NewString(), &def, now)
		sub.BlockedBy = []string{prev.ID}
		prev.Blocks = appendUnique(prev.Blocks, sub.ID)
		main.Blocks = appendUnique(main.Blocks, sub.ID)
		created = append(created, sub)
		prev = sub
	}

	for _, t := range created {
		t.TemplateID = tpl.ID
		for _, pattern := range tpl.DefaultFilePatterns {
			t.FileRefs = appendUnique(t.FileRefs, pattern)
		}
	}

	cs := task.Changeset{Add: created}
	for _, t := range snap.list {
		if touched[t.ID] {
			cs.Update = append(cs.Update, t)
		}
	}
	if err := g.store.Apply(ctx, g.sessionID, cs); err != nil {
		return nil, fmt.Errorf("apply template %s: %w", tpl.ID, err)
	}
	return created, nil
}

// Templates lists the templates available to the graph.
func (g *Graph) Templates(ctx context.Context) ([]*task.Template, error) {
	return g.store.ListTemplates(ctx)
}

// Template returns one template.
func (g *Graph) Template(ctx context.Context, id string) (*task.Template, error) {
	return g.store.GetTemplate(ctx, id)
}

// SaveTemplate stores a custom template.
func (g *Graph) SaveTemplate(ctx context.Context, tpl *task.Template) error {
	return g.store.SaveTemplate(ctx, tpl)
}

// DeleteTemplate removes a custom template.
func (g *Graph) DeleteTemplate(ctx context.Context, id string) error {
	return g.store.DeleteTemplate(ctx, id)
}
