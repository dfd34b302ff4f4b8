package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "murmur.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTask(title string, created time.Time) *task.Task {
	tk := &task.Task{
		ID:        task.NewTaskID(),
		Title:     title,
		Priority:  task.PriorityMedium,
		CreatedAt: created,
	}
	tk.Normalize()
	return tk
}

func TestCreateAndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := newTask("call the plumber", time.Now().UTC())
	tk.ActionType = task.ActionCall
	tk.Contact = &task.ContactInfo{Name: "jo", Phone: "555-0100"}
	require.NoError(t, s.CreateTask(ctx, tk))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "call the plumber", got.Title)
	assert.Equal(t, task.ActionCall, got.ActionType)
	require.NotNil(t, got.Contact)
	assert.Equal(t, "jo", got.Contact.Name)
	assert.False(t, got.Completed)
}

func TestGetMissingTask(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTask(context.Background(), "tsk-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, title := range []string{"oldest", "middle", "newest"} {
		require.NoError(t, s.CreateTask(ctx, newTask(title, base.Add(time.Duration(i)*time.Minute))))
	}

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "newest", tasks[0].Title)
	assert.Equal(t, "oldest", tasks[2].Title)
}

func TestToggleTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tk := newTask("water plants", time.Now().UTC())
	require.NoError(t, s.CreateTask(ctx, tk))

	done, err := s.ToggleTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.ToggleTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestDeleteTaskCascadesActions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tk := newTask("ping nigel", time.Now().UTC())
	tk.ActionType = task.ActionReminder
	require.NoError(t, s.CreateTask(ctx, tk))

	a := &task.ScheduledAction{
		ID:           task.NewActionID(),
		TaskID:       tk.ID,
		ActionType:   task.ActionReminder,
		ScheduledFor: time.Now().UTC().Add(time.Hour),
		Settings:     task.DefaultNotificationSettings(),
	}
	require.NoError(t, s.CreateAction(ctx, a))

	require.NoError(t, s.DeleteTask(ctx, tk.ID))
	_, err := s.GetAction(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateActionRequiresTask(t *testing.T) {
	s := openTestStore(t)
	a := &task.ScheduledAction{
		ID:           task.NewActionID(),
		TaskID:       "tsk-ghost",
		ActionType:   task.ActionReminder,
		ScheduledFor: time.Now().UTC().Add(time.Hour),
	}
	assert.Error(t, s.CreateAction(context.Background(), a))
}

func TestCompleteTaskPromotes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tk := newTask("ship the release", time.Now().UTC())
	require.NoError(t, s.CreateTask(ctx, tk))

	archived, err := s.CompleteTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, archived.OriginalTaskID)
	assert.Equal(t, "ship the release", archived.Title)

	_, err = s.GetTask(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDueActionsSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tk := newTask("sweep target", now)
	tk.ActionType = task.ActionReminder
	require.NoError(t, s.CreateTask(ctx, tk))

	due := &task.ScheduledAction{
		ID: task.NewActionID(), TaskID: tk.ID, ActionType: task.ActionReminder,
		ScheduledFor: now.Add(-time.Minute), Settings: task.DefaultNotificationSettings(),
	}
	future := &task.ScheduledAction{
		ID: task.NewActionID(), TaskID: tk.ID, ActionType: task.ActionReminder,
		ScheduledFor: now.Add(time.Hour), Settings: task.DefaultNotificationSettings(),
	}
	noWeb := &task.ScheduledAction{
		ID: task.NewActionID(), TaskID: tk.ID, ActionType: task.ActionReminder,
		ScheduledFor: now.Add(-time.Minute), Settings: task.NotificationSettings{Email: true},
	}
	for _, a := range []*task.ScheduledAction{due, future, noWeb} {
		require.NoError(t, s.CreateAction(ctx, a))
	}

	actions, err := s.DueActions(ctx, now)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, due.ID, actions[0].ID)
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tk := newTask("transition target", now)
	require.NoError(t, s.CreateTask(ctx, tk))
	a := &task.ScheduledAction{
		ID: task.NewActionID(), TaskID: tk.ID, ActionType: task.ActionText,
		ScheduledFor: now.Add(-time.Minute), Settings: task.DefaultNotificationSettings(),
	}
	require.NoError(t, s.CreateAction(ctx, a))

	moved, err := s.MarkActionCompleted(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, moved)

	// Completed never goes back to pending, so neither transition fires again.
	moved, err = s.MarkActionCompleted(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, moved)
	moved, err = s.MarkActionFailed(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}
