package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"murmur/internal/jsonx"
	"murmur/internal/task"
)

// CreateAction inserts a scheduled action. The owning task row must already
// exist; the foreign key rejects orphans.
func (s *Store) CreateAction(ctx context.Context, a *task.ScheduledAction) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("create action: %w", err)
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = task.StatusPending
	}

	contact, err := marshalContact(a.Contact)
	if err != nil {
		return fmt.Errorf("create action %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_actions (id, task_id, action_type, scheduled_for,
			contact_info, notify_web_push, notify_email, notify_sms, status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, string(a.ActionType), a.ScheduledFor.UTC(), contact,
		boolToInt(a.Settings.WebPush), boolToInt(a.Settings.Email),
		boolToInt(a.Settings.SMS), string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create action %s: %w", a.ID, err)
	}
	return nil
}

// GetAction loads one scheduled action by id.
func (s *Store) GetAction(ctx context.Context, id string) (*task.ScheduledAction, error) {
	row := s.db.QueryRowContext(ctx, actionSelect+` WHERE a.id = ?`, id)
	return scanAction(row)
}

// DueActions returns pending rows whose schedule has passed and whose
// settings enable web delivery. Only originally-pending rows are selected, so
// a sweep that crashed mid-pass never double-fires rows it already resolved.
func (s *Store) DueActions(ctx context.Context, now time.Time) ([]task.ScheduledAction, error) {
	rows, err := s.db.QueryContext(ctx, actionSelect+`
		WHERE a.status = ? AND a.scheduled_for <= ? AND a.notify_web_push = 1
		ORDER BY a.scheduled_for ASC`,
		string(task.StatusPending), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("select due actions: %w", err)
	}
	defer rows.Close()

	var actions []task.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

// ListActionsForTask returns a task's actions, pending first.
func (s *Store) ListActionsForTask(ctx context.Context, taskID string) ([]task.ScheduledAction, error) {
	rows, err := s.db.QueryContext(ctx, actionSelect+`
		WHERE a.task_id = ? ORDER BY a.status DESC, a.scheduled_for ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list actions for %s: %w", taskID, err)
	}
	defer rows.Close()

	var actions []task.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

// MarkActionCompleted transitions pending -> completed. Returns false when the
// row was not pending, which a second sweep uses to skip already-handled rows.
func (s *Store) MarkActionCompleted(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, task.StatusCompleted)
}

// MarkActionFailed transitions pending -> failed so a broken row is never
// retried forever.
func (s *Store) MarkActionFailed(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, task.StatusFailed)
}

func (s *Store) transition(ctx context.Context, id string, to task.ActionStatus) (bool, error) {
	// The status guard makes transitions monotonic: a row leaves pending
	// exactly once and never re-enters it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_actions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(task.StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark action %s %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAction removes a scheduled action explicitly.
func (s *Store) DeleteAction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	return requireRow(res, id)
}

const actionSelect = `
	SELECT a.id, a.task_id, a.action_type, a.scheduled_for, a.contact_info,
		a.notify_web_push, a.notify_email, a.notify_sms, a.status,
		a.created_at, a.updated_at
	FROM scheduled_actions a`

func scanAction(row rowScanner) (*task.ScheduledAction, error) {
	var (
		a       task.ScheduledAction
		action  string
		status  string
		contact sql.NullString
		webPush int
		email   int
		sms     int
	)
	err := row.Scan(&a.ID, &a.TaskID, &action, &a.ScheduledFor, &contact,
		&webPush, &email, &sms, &status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan action: %w", err)
	}
	a.ActionType = task.ActionType(action)
	a.Status = task.ActionStatus(status)
	a.Settings = task.NotificationSettings{
		WebPush: webPush != 0,
		Email:   email != 0,
		SMS:     sms != 0,
	}
	if contact.Valid && contact.String != "" {
		var info task.ContactInfo
		if err := jsonx.Unmarshal([]byte(contact.String), &info); err != nil {
			return nil, fmt.Errorf("decode contact for action %s: %w", a.ID, err)
		}
		if !info.Empty() {
			a.Contact = &info
		}
	}
	return &a, nil
}
