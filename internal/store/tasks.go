package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"murmur/internal/jsonx"
	"murmur/internal/task"
)

// CreateTask inserts a task row. The caller is expected to have called
// Normalize; Validate runs here as the last gate before the write.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	contact, err := marshalContact(t.Contact)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, priority, due_date, completed,
			action_type, scheduled_for, contact_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Priority), t.DueDate,
		boolToInt(t.Completed), string(t.ActionType), t.ScheduledFor, contact,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, priority, due_date, completed,
			action_type, scheduled_for, contact_info, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns all live tasks newest-first, the ordering contract the
// client cache preserves across rollbacks.
func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, priority, due_date, completed,
			action_type, scheduled_for, contact_info, created_at, updated_at
		FROM tasks ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask rewrites the mutable columns of an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	t.UpdatedAt = time.Now().UTC()
	contact, err := marshalContact(t.Contact)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, priority = ?, due_date = ?,
			completed = ?, action_type = ?, scheduled_for = ?, contact_info = ?,
			updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Priority), t.DueDate,
		boolToInt(t.Completed), string(t.ActionType), t.ScheduledFor, contact,
		t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return requireRow(res, t.ID)
}

// ToggleTask flips the completion flag and returns the new state.
func (s *Store) ToggleTask(ctx context.Context, id string) (bool, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	t.Completed = !t.Completed
	if err := s.UpdateTask(ctx, t); err != nil {
		return false, err
	}
	return t.Completed, nil
}

// DeleteTask removes a task; scheduled actions cascade through the foreign
// key.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return requireRow(res, id)
}

// CompleteTask promotes a task into the append-only completed_tasks archive
// and removes the live row (cascading its scheduled actions).
func (s *Store) CompleteTask(ctx context.Context, id string) (*task.CompletedTask, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	archived := &task.CompletedTask{
		ID:             fmt.Sprintf("cmp-%s", uuid.NewString()),
		OriginalTaskID: t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Priority:       t.Priority,
		DueDate:        t.DueDate,
		CompletedAt:    now,
		CreatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("complete task %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO completed_tasks (id, original_task_id, title, description,
			priority, due_date, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		archived.ID, archived.OriginalTaskID, archived.Title, archived.Description,
		string(archived.Priority), archived.DueDate, archived.CompletedAt,
		archived.CreatedAt); err != nil {
		return nil, fmt.Errorf("archive task %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("remove completed task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("complete task %s: %w", id, err)
	}
	return archived, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t         task.Task
		priority  string
		action    string
		completed int
		due       sql.NullTime
		scheduled sql.NullTime
		contact   sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &due, &completed,
		&action, &scheduled, &contact, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Priority = task.Priority(priority)
	t.ActionType = task.ActionType(action)
	t.Completed = completed != 0
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	if scheduled.Valid {
		sc := scheduled.Time
		t.ScheduledFor = &sc
	}
	if contact.Valid && contact.String != "" {
		var info task.ContactInfo
		if err := jsonx.Unmarshal([]byte(contact.String), &info); err != nil {
			return nil, fmt.Errorf("decode contact for task %s: %w", t.ID, err)
		}
		if !info.Empty() {
			t.Contact = &info
		}
	}
	return &t, nil
}

func marshalContact(c *task.ContactInfo) (any, error) {
	if c == nil || c.Empty() {
		return nil, nil
	}
	data, err := jsonx.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode contact: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
