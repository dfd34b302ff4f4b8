package taskcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/events"
	"murmur/internal/server"
	"murmur/internal/task"
)

// The serving process reads tasks through the cache, never the store.
var _ server.TaskLister = (*Cache)(nil)

type fakeStore struct {
	mu    sync.Mutex
	rows  map[string]task.Task
	lists atomic.Int64

	failCreate bool
	failUpdate bool
	failDelete bool

	listStarted chan struct{}
	listGate    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]task.Task)}
}

func (f *fakeStore) ListTasks(context.Context) ([]task.Task, error) {
	if f.listStarted != nil {
		f.listStarted <- struct{}{}
	}
	if f.listGate != nil {
		<-f.listGate
	}
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]task.Task, 0, len(f.rows))
	for _, t := range f.rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeStore) CreateTask(_ context.Context, t *task.Task) error {
	if f.failCreate {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[t.ID] = *t
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, t *task.Task) error {
	if f.failUpdate {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[t.ID] = *t
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, id string) error {
	if f.failDelete {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

var base = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func seededCache(t *testing.T, f *fakeStore, n int) *Cache {
	t.Helper()
	for i := 0; i < n; i++ {
		row := task.Task{
			ID:        fmt.Sprintf("tsk-%02d", i),
			Title:     fmt.Sprintf("task %d", i),
			Priority:  task.PriorityMedium,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		row.Normalize()
		f.rows[row.ID] = row
	}
	c := New(f, nil, nil)
	require.NoError(t, c.Seed(context.Background()))
	return c
}

func titles(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func TestCreateAppliesBeforeConfirmation(t *testing.T) {
	f := newFakeStore()
	c := seededCache(t, f, 2)

	id := c.Create(context.Background(), task.Task{
		Title:     "newest",
		CreatedAt: base.Add(time.Hour),
	})
	require.NotEmpty(t, id)

	// Visible locally right away, newest first.
	assert.Equal(t, []string{"newest", "task 1", "task 0"}, titles(c.Tasks()))

	c.Flush()
	assert.Zero(t, c.Pending())

	f.mu.Lock()
	_, written := f.rows[id]
	f.mu.Unlock()
	assert.True(t, written)
}

func TestCreateRollbackRestoresListExactly(t *testing.T) {
	f := newFakeStore()
	f.failCreate = true
	c := seededCache(t, f, 3)
	before := titles(c.Tasks())

	c.Create(context.Background(), task.Task{Title: "doomed", CreatedAt: base.Add(time.Hour)})
	assert.Len(t, c.Tasks(), 4)

	c.Flush()
	assert.Equal(t, before, titles(c.Tasks()))
}

func TestUpdateRollbackRestoresPriorContent(t *testing.T) {
	f := newFakeStore()
	f.failUpdate = true
	c := seededCache(t, f, 3)

	edited := c.Tasks()[1]
	edited.Title = "edited"
	c.Update(context.Background(), edited)
	assert.Equal(t, "edited", c.Tasks()[1].Title)

	c.Flush()
	assert.Equal(t, []string{"task 2", "task 1", "task 0"}, titles(c.Tasks()))
}

func TestDeleteRollbackPreservesOrdering(t *testing.T) {
	f := newFakeStore()
	f.failDelete = true
	c := seededCache(t, f, 3)

	c.Delete(context.Background(), "tsk-01")
	assert.Equal(t, []string{"task 2", "task 0"}, titles(c.Tasks()))

	c.Flush()
	// The snapshot came back in the middle, not at either end.
	assert.Equal(t, []string{"task 2", "task 1", "task 0"}, titles(c.Tasks()))
}

func TestRollbackLeavesOtherMutationsAlone(t *testing.T) {
	f := newFakeStore()
	c := seededCache(t, f, 1)

	good := c.Create(context.Background(), task.Task{Title: "kept", CreatedAt: base.Add(time.Hour)})
	f.failCreate = true
	c.Create(context.Background(), task.Task{Title: "doomed", CreatedAt: base.Add(2 * time.Hour)})

	c.Flush()
	got := titles(c.Tasks())
	assert.Contains(t, got, "kept")
	assert.NotContains(t, got, "doomed")

	f.mu.Lock()
	_, written := f.rows[good]
	f.mu.Unlock()
	assert.True(t, written)
}

func TestWriteFailureSurfacesToCallback(t *testing.T) {
	f := newFakeStore()
	f.failUpdate = true

	var mu sync.Mutex
	var gotID string
	var gotErr error
	c := New(f, nil, func(taskID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		gotID, gotErr = taskID, err
	})
	require.NoError(t, c.Seed(context.Background()))

	id := c.Create(context.Background(), task.Task{Title: "x", CreatedAt: base})
	c.Flush()

	edited := c.Tasks()[0]
	edited.Title = "y"
	c.Update(context.Background(), edited)
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, id, gotID)
	assert.ErrorIs(t, gotErr, murmurerrors.ErrOptimisticWriteFailed)
}

func TestToggleFlipsCompletion(t *testing.T) {
	f := newFakeStore()
	c := seededCache(t, f, 1)

	c.Toggle(context.Background(), "tsk-00")
	assert.True(t, c.Tasks()[0].Completed)
	c.Flush()

	f.mu.Lock()
	assert.True(t, f.rows["tsk-00"].Completed)
	f.mu.Unlock()
}

func TestListTasksServesSnapshotWithoutStoreRead(t *testing.T) {
	f := newFakeStore()
	c := seededCache(t, f, 2)

	before := f.lists.Load()
	got, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"task 1", "task 0"}, titles(got))
	assert.Equal(t, before, f.lists.Load())

	// Local mutations are visible to readers before confirmation.
	c.Create(context.Background(), task.Task{Title: "fresh", CreatedAt: base.Add(time.Hour)})
	got, err = c.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", got[0].Title)
	c.Flush()
}

func TestChangeFeedTriggersFullRefetch(t *testing.T) {
	f := newFakeStore()
	c := seededCache(t, f, 1)

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, bus)
	}()

	// A row appears behind the cache's back; the feed announces it.
	f.mu.Lock()
	f.rows["tsk-zz"] = task.Task{
		ID: "tsk-zz", Title: "external", Priority: task.PriorityLow,
		ActionType: task.ActionNote, CreatedAt: base.Add(time.Hour),
	}
	f.mu.Unlock()
	bus.Publish(events.Change{Table: events.TableTasks, Op: events.OpInsert, RowID: "tsk-zz"})

	require.Eventually(t, func() bool {
		return len(c.Tasks()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "external", c.Tasks()[0].Title)

	// Action events do not concern the task collection.
	before := f.lists.Load()
	bus.Publish(events.Change{Table: events.TableScheduledActions, Op: events.OpUpdate, RowID: "act-1"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, f.lists.Load())

	cancel()
	<-done
}

func TestConcurrentRefetchesShareOneRead(t *testing.T) {
	f := newFakeStore()
	c := New(f, nil, nil)

	f.listStarted = make(chan struct{}, 1)
	f.listGate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Refetch(context.Background())
	}()
	<-f.listStarted

	// These join the in-flight read instead of issuing their own.
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Refetch(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.listGate)
	wg.Wait()

	assert.Equal(t, int64(1), f.lists.Load())
}
