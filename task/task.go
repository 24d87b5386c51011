// Package task defines the task graph data model and its persistence.
package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/GoCodeAlone/deepagent/provider"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBlocked, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Priority orders tasks for the agent's attention.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// MaxComplexity is the upper bound of the complexity estimate. Zero means unset.
const MaxComplexity = 10

// Task is one node of a session's task graph. Edges are stored as ids only.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	Priority    Priority       `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Blocks      []string       `json:"blocks"`
	BlockedBy   []string       `json:"blocked_by"`
	FileRefs    []string       `json:"file_refs,omitempty"`
	TaskRefs    []string       `json:"task_refs,omitempty"`
	URLRefs     []string       `json:"url_refs,omitempty"`
	TemplateID  string         `json:"template_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	Complexity  int            `json:"complexity,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.Blocks = slices.Clone(t.Blocks)
	c.BlockedBy = slices.Clone(t.BlockedBy)
	c.FileRefs = slices.Clone(t.FileRefs)
	c.TaskRefs = slices.Clone(t.TaskRefs)
	c.URLRefs = slices.Clone(t.URLRefs)
	c.Tags = slices.Clone(t.Tags)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// Def is a partial task used for creation and as a template body. String
// fields may carry ${param} placeholders when part of a Template.
type Def struct {
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status         `json:"status,omitempty" yaml:"status,omitempty"`
	Priority    Priority       `json:"priority,omitempty" yaml:"priority,omitempty"`
	BlockedBy   []string       `json:"blocked_by,omitempty" yaml:"blocked_by,omitempty"`
	FileRefs    []string       `json:"file_refs,omitempty" yaml:"file_refs,omitempty"`
	TaskRefs    []string       `json:"task_refs,omitempty" yaml:"task_refs,omitempty"`
	URLRefs     []string       `json:"url_refs,omitempty" yaml:"url_refs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Complexity  int            `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Owner       string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Validate checks the fields a caller may set explicitly.
func (d *Def) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, d.Status)
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, d.Priority)
	}
	if d.Complexity < 0 || d.Complexity > MaxComplexity {
		return fmt.Errorf("%w: complexity %d out of range 1-%d", ErrInvalid, d.Complexity, MaxComplexity)
	}
	return nil
}

// Param declares a template parameter.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Template is a reusable, parameterized task bundle: a main task followed by
// an ordered chain of sub-tasks.
type Template struct {
	ID                  string    `json:"id" yaml:"id"`
	Name                string    `json:"name" yaml:"name"`
	Description         string    `json:"description,omitempty" yaml:"description,omitempty"`
	BaseTask            Def       `json:"base_task" yaml:"base_task"`
	Parameters          []Param   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	SubTasks            []Def     `json:"sub_tasks,omitempty" yaml:"sub_tasks,omitempty"`
	DefaultFilePatterns []string  `json:"default_file_patterns,omitempty" yaml:"default_file_patterns,omitempty"`
	BuiltIn             bool      `json:"built_in,omitempty" yaml:"-"`
	CreatedAt           time.Time `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks that the template can be stored.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalid)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalid)
	}
	if t.BaseTask.Title == "" {
		return fmt.Errorf("%w: template %s has no base task title", ErrInvalid, t.ID)
	}
	for i, st := range t.SubTasks {
		if st.Title == "" {
			return fmt.Errorf("%w: template %s sub-task %d has no title", ErrInvalid, t.ID, i)
		}
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("%w: template %s has empty or duplicate parameter %q", ErrInvalid, t.ID, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Todo is an entry of the legacy flat todo list kept in AgentState.
type Todo struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// AgentState is the persisted conversation state of one session. Tasks are
// associated with the session through the task table.
type AgentState struct {
	SessionID string             `json:"session_id"`
	Messages  []provider.Message `json:"messages"`
	Todos     []Todo             `json:"todos,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	Summary   string             `json:"summary,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

var (
	// ErrNotFound is returned when a task, template or session is absent.
	ErrNotFound = errors.New("not found")
	// ErrBuiltInTemplate is returned when modifying a built-in template.
	ErrBuiltInTemplate = errors.New("built-in template cannot be modified")
	// ErrInvalid is returned for malformed tasks and templates.
	ErrInvalid = errors.New("invalid")
)

// Changeset groups task writes applied in a single transaction.
type Changeset struct {
	Add    []*Task
	Update []*Task
	Delete []string
}

// Empty reports whether the changeset has nothing to write.
func (c Changeset) Empty() bool {
	return len(c.Add) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// Store persists task graphs, templates and agent state. Tasks and state are
// scoped by session id; templates are shared.
type Store interface {
	// ListTasks returns the session's tasks in creation order.
	ListTasks(ctx context.Context, sessionID string) ([]*Task, error)
	// GetTask returns a task by id or an error wrapping ErrNotFound.
	GetTask(ctx context.Context, sessionID, id string) (*Task, error)
	AddTasks(ctx context.Context, sessionID string, tasks ...*Task) error
	UpdateTasks(ctx context.Context, sessionID string, tasks ...*Task) error
	DeleteTasks(ctx context.Context, sessionID string, ids ...string) error
	// Apply writes all changes atomically.
	Apply(ctx context.Context, sessionID string, cs Changeset) error

	GetTemplate(ctx context.Context, id string) (*Template, error)
	SaveTemplate(ctx context.Context, t *Template) error
	ListTemplates(ctx context.Context) ([]*Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	// LoadState returns the session's state, or an empty state if none exists.
	LoadState(ctx context.Context, sessionID string) (*AgentState, error)
	SaveState(ctx context.Context, st *AgentState) error
	// SaveSummary replaces only the compression summary of a session.
	SaveSummary(ctx context.Context, sessionID, summary string) error
}
