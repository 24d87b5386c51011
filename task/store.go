package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		session_id   TEXT NOT NULL,
		id           TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		priority     TEXT NOT NULL,
		blocks       TEXT NOT NULL DEFAULT '[]',
		blocked_by   TEXT NOT NULL DEFAULT '[]',
		file_refs    TEXT NOT NULL DEFAULT '[]',
		task_refs    TEXT NOT NULL DEFAULT '[]',
		url_refs     TEXT NOT NULL DEFAULT '[]',
		template_id  TEXT NOT NULL DEFAULT '',
		metadata     TEXT NOT NULL DEFAULT '{}',
		error        TEXT NOT NULL DEFAULT '',
		complexity   INTEGER NOT NULL DEFAULT 0,
		owner        TEXT NOT NULL DEFAULT '',
		tags         TEXT NOT NULL DEFAULT '[]',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		completed_at TEXT,
		PRIMARY KEY (session_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_session_seq ON tasks(session_id, seq)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		body        TEXT NOT NULL,
		built_in    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_state (
		session_id TEXT PRIMARY KEY,
		messages   TEXT NOT NULL DEFAULT '[]',
		todos      TEXT NOT NULL DEFAULT '[]',
		metadata   TEXT NOT NULL DEFAULT '{}',
		summary    TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,
}

const taskColumns = `id, title, description, status, priority, blocks, blocked_by,
	file_refs, task_refs, url_refs, template_id, metadata, error, complexity, owner, tags,
	created_at, updated_at, completed_at`

// SQLiteStore persists task graphs, templates and agent state in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures the
// schema exists and seeds the built-in templates. The caller is responsible
// for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.seedBuiltins(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) seedBuiltins(ctx context.Context) error {
	now := time.Now().UTC()
	for _, tpl := range BuiltinTemplates() {
		tpl.CreatedAt, tpl.UpdatedAt = now, now
		if err := s.putTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("seed template %s: %w", tpl.ID, err)
		}
	}
	return nil
}

// ListTasks returns the session's tasks in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context, sessionID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE session_id=? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, sessionID, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE session_id=? AND id=?`, sessionID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// AddTasks inserts new tasks atomically.
func (s *SQLiteStore) AddTasks(ctx context.Context, sessionID string, tasks ...*Task) error {
	return s.Apply(ctx, sessionID, Changeset{Add: tasks})
}

// UpdateTasks saves existing tasks atomically.
func (s *SQLiteStore) UpdateTasks(ctx context.Context, sessionID string, tasks ...*Task) error {
	return s.Apply(ctx, sessionID, Changeset{Update: tasks})
}

// DeleteTasks removes tasks atomically.
func (s *SQLiteStore) DeleteTasks(ctx context.Context, sessionID string, ids ...string) error {
	return s.Apply(ctx, sessionID, Changeset{Delete: ids})
}

// Apply writes inserts, updates and deletes in one transaction. Updating or
// deleting a missing task fails the whole changeset with ErrNotFound.
func (s *SQLiteStore) Apply(ctx context.Context, sessionID string, cs Changeset) error {
	if cs.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(cs.Add) > 0 {
		var seq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM tasks WHERE session_id=?`, sessionID).Scan(&seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		for _, t := range cs.Add {
			seq++
			if err := insertTask(ctx, tx, sessionID, seq, t); err != nil {
				return err
			}
		}
	}
	for _, t := range cs.Update {
		if err := updateTask(ctx, tx, sessionID, t); err != nil {
			return err
		}
	}
	for _, id := range cs.Delete {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE session_id=? AND id=?`, sessionID, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if err := expectRow(res, "task "+id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, sessionID string, seq int64, t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("%w: task without id", ErrInvalid)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks
			(session_id, seq, `+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		append([]any{sessionID, seq}, taskArgs(t)...)...,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func updateTask(ctx context.Context, tx *sql.Tx, sessionID string, t *Task) error {
	args := taskArgs(t)
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			title=?, description=?, status=?, priority=?, blocks=?, blocked_by=?,
			file_refs=?, task_refs=?, url_refs=?, template_id=?, metadata=?, error=?,
			complexity=?, owner=?, tags=?, created_at=?, updated_at=?, completed_at=?
		WHERE session_id=? AND id=?`,
		append(args[1:], sessionID, t.ID)...,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return expectRow(res, "task "+t.ID)
}

// taskArgs returns the column values in taskColumns order.
func taskArgs(t *Task) []any {
	return []any{
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		jsonList(t.Blocks), jsonList(t.BlockedBy),
		jsonList(t.FileRefs), jsonList(t.TaskRefs), jsonList(t.URLRefs),
		t.TemplateID, jsonMap(t.Metadata), t.Error, t.Complexity, t.Owner, jsonList(t.Tags),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullTime(t.CompletedAt),
	}
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, priority, blocks, blockedBy, fileRefs, taskRefs, urlRefs, metadata, tags string
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &status, &priority, &blocks, &blockedBy,
		&fileRefs, &taskRefs, &urlRefs, &t.TemplateID, &metadata, &t.Error,
		&t.Complexity, &t.Owner, &tags,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)

	_ = json.Unmarshal([]byte(blocks), &t.Blocks)
	_ = json.Unmarshal([]byte(blockedBy), &t.BlockedBy)
	_ = json.Unmarshal([]byte(fileRefs), &t.FileRefs)
	_ = json.Unmarshal([]byte(taskRefs), &t.TaskRefs)
	_ = json.Unmarshal([]byte(urlRefs), &t.URLRefs)
	_ = json.Unmarshal([]byte(metadata), &t.Metadata)
	_ = json.Unmarshal([]byte(tags), &t.Tags)

	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		at := parseTime(completedAt.String)
		t.CompletedAt = &at
	}
	return &t, nil
}

// GetTemplate retrieves a template by id.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body, built_in, created_at, updated_at FROM templates WHERE id=?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return tpl, err
}

// SaveTemplate creates or replaces a custom template. Built-in ids are rejected.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	var builtIn bool
	err := s.db.QueryRowContext(ctx, `SELECT built_in FROM templates WHERE id=?`, tpl.ID).Scan(&builtIn)
	switch {
	case err == nil && builtIn:
		return fmt.Errorf("template %s: %w", tpl.ID, ErrBuiltInTemplate)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup template: %w", err)
	}
	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	tpl.BuiltIn = false
	return s.putTemplate(ctx, tpl)
}

func (s *SQLiteStore) putTemplate(ctx context.Context, tpl *Template) error {
	body, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, description, body, built_in, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, body=excluded.body,
			built_in=excluded.built_in, updated_at=excluded.updated_at`,
		tpl.ID, tpl.Name, tpl.Description, string(body), tpl.BuiltIn,
		formatTime(tpl.CreatedAt), formatTime(tpl.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save template %s: %w", tpl.ID, err)
	}
	return nil
}

// ListTemplates returns built-in templates first, then custom ones by name.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body, built_in, created_at, updated_at FROM templates ORDER BY built_in DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// DeleteTemplate removes a custom template.
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	tpl, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if tpl.BuiltIn {
		return fmt.Errorf("template %s: %w", id, ErrBuiltInTemplate)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

func scanTemplate(s scanner) (*Template, error) {
	var body, createdAt, updatedAt string
	var builtIn bool
	if err := s.Scan(&body, &builtIn, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var tpl Template
	if err := json.Unmarshal([]byte(body), &tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	tpl.BuiltIn = builtIn
	tpl.CreatedAt = parseTime(createdAt)
	tpl.UpdatedAt = parseTime(updatedAt)
	return &tpl, nil
}

// LoadState returns the session's state. A session without saved state
// yields an empty state rather than an error.
func (s *SQLiteStore) LoadState(ctx context.Context, sessionID string) (*AgentState, error) {
	st := &AgentState{SessionID: sessionID}
	var messages, todos, metadata, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, todos, metadata, summary, updated_at FROM agent_state WHERE session_id=?`, sessionID,
	).Scan(&messages, &todos, &metadata, &st.Summary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(messages), &st.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	_ = json.Unmarshal([]byte(todos), &st.Todos)
	_ = json.Unmarshal([]byte(metadata), &st.Metadata)
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

// SaveState writes the whole session state.
func (s *SQLiteStore) SaveState(ctx context.Context, st *AgentState) error {
	if st.SessionID == "" {
		return fmt.Errorf("%w: state without session id", ErrInvalid)
	}
	messages, err := json.Marshal(st.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	if st.Messages == nil {
		messages = []byte("[]")
	}
	st.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_state (session_id, messages, todos, metadata, summary, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
			messages=excluded.messages, todos=excluded.todos, metadata=excluded.metadata,
			summary=excluded.summary, updated_at=excluded.updated_at`,
		st.SessionID, string(messages), jsonList(st.Todos), jsonMap(st.Metadata), st.Summary,
		formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", st.SessionID, err)
	}
	return nil
}

// SaveSummary replaces the compression summary, creating the state row if needed.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_state (session_id, summary, updated_at) VALUES (?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET summary=excluded.summary, updated_at=excluded.updated_at`,
		sessionID, summary, formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("save summary %s: %w", sessionID, err)
	}
	return nil
}

func expectRow(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func jsonList[T any](v []T) string {
	if v == nil {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
