// Package taskgraph implements dependency bookkeeping over a session's tasks:
// batch creation with positional dependencies, status cascades, deletion,
// availability, execution leveling and template instantiation.
//
// The graph holds no task state of its own. Every operation re-reads the
// session from the store and writes its changes back in one changeset.
package taskgraph

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/deepagent/task"
)

// Graph operates on the tasks of one session.
type Graph struct {
	store     task.Store
	sessionID string
	now       func() time.Time
}

// New binds a graph to a store and session.
func New(store task.Store, sessionID string) *Graph {
	return &Graph{store: store, sessionID: sessionID, now: func() time.Time { return time.Now().UTC() }}
}

// SessionID returns the session the graph operates on.
func (g *Graph) SessionID() string { return g.sessionID }

// Tasks returns every task of the session in creation order.
func (g *Graph) Tasks(ctx context.Context) ([]*task.Task, error) {
	return g.store.ListTasks(ctx, g.sessionID)
}

// Task returns one task.
func (g *Graph) Task(ctx context.Context, id string) (*task.Task, error) {
	return g.store.GetTask(ctx, g.sessionID, id)
}

// snapshot loads the session's tasks with an id index.
type snapshot struct {
	list []*task.Task
	byID map[string]*task.Task
}

func (g *Graph) load(ctx context.Context) (*snapshot, error) {
	list, err := g.store.ListTasks(ctx, g.sessionID)
	if err != nil {
		return nil, err
	}
	s := &snapshot{list: list, byID: make(map[string]*task.Task, len(list))}
	for _, t := range list {
		s.byID[t.ID] = t
	}
	return s, nil
}

func (s *snapshot) completed() map[string]bool {
	done := make(map[string]bool)
	for _, t := range s.list {
		if t.Status == task.StatusCompleted {
			done[t.ID] = true
		}
	}
	return done
}

// unmet reports whether any dependency of t is not completed. Dependencies
// on tasks that no longer exist count as unmet.
func (s *snapshot) unmet(t *task.Task) bool {
	for _, dep := range t.BlockedBy {
		d, ok := s.byID[dep]
		if !ok || d.Status != task.StatusCompleted {
			return true
		}
	}
	return false
}

// CreateTasks creates a batch of tasks. BlockedBy entries that are integer
// indices into defs refer to tasks of the same batch; other entries must be
// ids of existing tasks. A task without an explicit status starts blocked
// when it has any dependency, even one that is already completed, and
// pending otherwise.
func (g *Graph) CreateTasks(ctx context.Context, defs []task.Def) ([]*task.Task, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no tasks given", task.ErrInvalid)
	}
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	snap, err := g.load(ctx)
	if err != nil {
		return nil, err
	}

	now := g.now()
	created := make([]*task.Task, len(defs))
	batch := make(map[string]*task.Task, len(defs))
	for i := range defs {
		created[i] = newTask(uuid.NewString(), &defs[i], now)
		batch[created[i].ID] = created[i]
	}

	touched := make(map[string]*task.Task)
	for i := range defs {
		t := created[i]
		t.BlockedBy = nil
		for _, ref := range defs[i].BlockedBy {
			depID, err := resolveRef(ref, i, created, snap)
			if err != nil {
				return nil, fmt.Errorf("task %d: %w", i, err)
			}
			t.BlockedBy = appendUnique(t.BlockedBy, depID)
			if dep, ok := batch[depID]; ok {
				dep.Blocks = appendUnique(dep.Blocks, t.ID)
			} else if dep, ok := snap.byID[depID]; ok {
				dep.Blocks = appendUnique(dep.Blocks, t.ID)
				dep.UpdatedAt = now
				touched[dep.ID] = dep
			}
		}
	}

	for i, t := range created {
		if defs[i].Status == "" && len(t.BlockedBy) > 0 {
			t.Status = task.StatusBlocked
		}
	}

	cs := task.Changeset{Add: created}
	for _, t := range snap.list {
		if touched[t.ID] != nil {
			cs.Update = append(cs.Update, t)
		}
	}
	if err := g.store.Apply(ctx, g.sessionID, cs); err != nil {
		return nil, fmt.Errorf("create tasks: %w", err)
	}
	return created, nil
}

func resolveRef(ref string, self int, batch []*task.Task, snap *snapshot) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 0 || n >= len(batch) {
			return "", fmt.Errorf("%w: dependency index %d out of range", task.ErrInvalid, n)
		}
		if n == self {
			return "", fmt.Errorf("%w: task cannot depend on itself", task.ErrInvalid)
		}
		return batch[n].ID, nil
	}
	if _, ok := snap.byID[ref]; !ok {
		return "", fmt.Errorf("dependency %s: %w", ref, task.ErrNotFound)
	}
	return ref, nil
}

// newTask materializes a definition. Status defaults to pending and
// priority to medium; dependency edges are filled in by the caller.
func newTask(id string, d *task.Def, now time.Time) *task.Task {
	t := &task.Task{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		Priority:    d.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		FileRefs:    dedupe(d.FileRefs),
		TaskRefs:    dedupe(d.TaskRefs),
		URLRefs:     dedupe(d.URLRefs),
		Error:       d.Error,
		Complexity:  d.Complexity,
		Owner:       d.Owner,
		Tags:        dedupe(d.Tags),
		BlockedBy:   slices.Clone(d.BlockedBy),
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}
	if t.Status == task.StatusCompleted {
		at := now
		t.CompletedAt = &at
	}
	if len(d.Metadata) > 0 {
		t.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			t.Metadata[k] = v
		}
	}
	return t
}

// Update is a partial task update. Nil pointers and empty lists leave the
// corresponding field unchanged.
type Update struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *task.Status   `json:"status,omitempty"`
	Priority    *task.Priority `json:"priority,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Complexity  *int           `json:"complexity,omitempty"`
	Owner       *string        `json:"owner,omitempty"`
	// Metadata keys are merged into the task's metadata; a nil value deletes the key.
	Metadata        map[string]any `json:"metadata,omitempty"`
	AddTags         []string       `json:"add_tags,omitempty"`
	RemoveTags      []string       `json:"remove_tags,omitempty"`
	AddFileRefs     []string       `json:"add_file_refs,omitempty"`
	AddTaskRefs     []string       `json:"add_task_refs,omitempty"`
	AddURLRefs      []string       `json:"add_url_refs,omitempty"`
	AddBlockedBy    []string       `json:"add_blocked_by,omitempty"`
	RemoveBlockedBy []string       `json:"remove_blocked_by,omitempty"`
}

// UpdateResult reports the updated task and the dependents a cascade moved.
type UpdateResult struct {
	Task      *task.Task `json:"task"`
	Unblocked []string   `json:"unblocked,omitempty"`
	Reblocked []string   `json:"reblocked,omitempty"`
}

// UpdateTask merges u into the task and runs status cascades.
//
// Completing a task unblocks every blocked dependent whose dependencies are
// now all completed. Moving a task away from completed forces every
// dependent that is not already blocked back to blocked, whatever its
// current status, without checking its other dependencies.
func (g *Graph) UpdateTask(ctx context.Context, id string, u Update) (*UpdateResult, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	snap, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	cur, ok := snap.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}

	now := g.now()
	changed := map[string]bool{id: true}
	prev := cur.Status
	applyFields(cur, &u)

	depsEdited := len(u.AddBlockedBy) > 0 || len(u.RemoveBlockedBy) > 0
	for _, dep := range u.AddBlockedBy {
		if dep == id {
			return nil, fmt.Errorf("%w: task cannot depend on itself", task.ErrInvalid)
		}
		d, ok := snap.byID[dep]
		if !ok {
			return nil, fmt.Errorf("dependency %s: %w", dep, task.ErrNotFound)
		}
		cur.BlockedBy = appendUnique(cur.BlockedBy, dep)
		d.Blocks = appendUnique(d.Blocks, id)
		changed[dep] = true
	}
	for _, dep := range u.RemoveBlockedBy {
		cur.BlockedBy = remove(cur.BlockedBy, dep)
		if d, ok := snap.byID[dep]; ok {
			d.Blocks = remove(d.Blocks, id)
			changed[dep] = true
		}
	}
	if depsEdited && u.Status == nil {
		switch {
		case cur.Status == task.StatusPending && snap.unmet(cur):
			cur.Status = task.StatusBlocked
		case cur.Status == task.StatusBlocked && !snap.unmet(cur):
			cur.Status = task.StatusPending
		}
	}

	res := &UpdateResult{Task: cur}
	switch {
	case prev != task.StatusCompleted && cur.Status == task.StatusCompleted:
		at := now
		cur.CompletedAt = &at
		for _, t := range snap.list {
			if t.ID == id || t.Status != task.StatusBlocked || !slices.Contains(t.BlockedBy, id) {
				continue
			}
			if !snap.unmet(t) {
				t.Status = task.StatusPending
				changed[t.ID] = true
				res.Unblocked = append(res.Unblocked, t.ID)
			}
		}
	case prev == task.StatusCompleted && cur.Status != task.StatusCompleted:
		cur.CompletedAt = nil
		for _, t := range snap.list {
			if t.ID == id || t.Status == task.StatusBlocked || !slices.Contains(t.BlockedBy, id) {
				continue
			}
			t.Status = task.StatusBlocked
			t.CompletedAt = nil
			changed[t.ID] = true
			res.Reblocked = append(res.Reblocked, t.ID)
		}
	}

	var cs task.Changeset
	for _, t := range snap.list {
		if changed[t.ID] {
			t.UpdatedAt = now
			cs.Update = append(cs.Update, t)
		}
	}
	if err := g.store.Apply(ctx, g.sessionID, cs); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	return res, nil
}

func (u *Update) validate() error {
	if u.Title != nil && *u.Title == "" {
		return fmt.Errorf("%w: title cannot be empty", task.ErrInvalid)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", task.ErrInvalid, *u.Status)
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", task.ErrInvalid, *u.Priority)
	}
	if u.Complexity != nil && (*u.Complexity < 0 || *u.Complexity > task.MaxComplexity) {
		return fmt.Errorf("%w: complexity %d out of range 1-%d", task.ErrInvalid, *u.Complexity, task.MaxComplexity)
	}
	return nil
}

func applyFields(t *task.Task, u *Update) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.Complexity != nil {
		t.Complexity = *u.Complexity
	}
	if u.Owner != nil {
		t.Owner = *u.Owner
	}
	for k, v := range u.Metadata {
		if v == nil {
			delete(t.Metadata, k)
			continue
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata[k] = v
	}
	for _, tag := range u.AddTags {
		t.Tags = appendUnique(t.Tags, tag)
	}
	for _, tag := range u.RemoveTags {
		t.Tags = remove(t.Tags, tag)
	}
	for _, ref := range u.AddFileRefs {
		t.FileRefs = appendUnique(t.FileRefs, ref)
	}
	for _, ref := range u.AddTaskRefs {
		t.TaskRefs = appendUnique(t.TaskRefs, ref)
	}
	for _, ref := range u.AddURLRefs {
		t.URLRefs = appendUnique(t.URLRefs, ref)
	}
}

// DeleteTask removes a task and strips it from every other task's edges
// without re-evaluating their status. With cascade, tasks whose only
// dependency is the deleted task are removed too (one level deep). The ids
// of all removed tasks are returned.
func (g *Graph) DeleteTask(ctx context.Context, id string, cascade bool) ([]string, error) {
	snap, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.byID[id]; !ok {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}

	deleted := []string{id}
	if cascade {
		for _, t := range snap.list {
			if len(t.BlockedBy) == 1 && t.BlockedBy[0] == id {
				deleted = append(deleted, t.ID)
			}
		}
	}

	now := g.now()
	cs := task.Changeset{Delete: deleted}
	for _, t := range snap.list {
		if slices.Contains(deleted, t.ID) {
			continue
		}
		before := len(t.BlockedBy) + len(t.Blocks)
		t.BlockedBy = slices.DeleteFunc(t.BlockedBy, func(s string) bool { return slices.Contains(deleted, s) })
		t.Blocks = slices.DeleteFunc(t.Blocks, func(s string) bool { return slices.Contains(deleted, s) })
		if len(t.BlockedBy)+len(t.Blocks) != before {
			t.UpdatedAt = now
			cs.Update = append(cs.Update, t)
		}
	}
	if err := g.store.Apply(ctx, g.sessionID, cs); err != nil {
		return nil, fmt.Errorf("delete task %s: %w", id, err)
	}
	return deleted, nil
}

// AvailableTasks returns pending or in-progress tasks whose dependencies are
// all completed.
func (g *Graph) AvailableTasks(ctx context.Context) ([]*task.Task, error) {
	snap, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	done := snap.completed()
	var out []*task.Task
	for _, t := range snap.list {
		if t.Status != task.StatusPending && t.Status != task.StatusInProgress {
			continue
		}
		ready := true
		for _, dep := range t.BlockedBy {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == v })
}

func dedupe(list []string) []string {
	var out []string
	for _, v := range list {
		out = appendUnique(out, v)
	}
	return out
}
