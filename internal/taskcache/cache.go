// Package taskcache is the client-resident task list. Mutations apply to the
// in-memory list immediately and write through to the durable store in the
// background; a failed write rolls the single affected mutation back. The
// cache is always a derived view: the durable store stays the source of
// truth, and any change-feed event triggers a full refetch.
package taskcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/events"
	"murmur/internal/logging"
	"murmur/internal/task"
)

// DurableStore is the slice of the durable store the cache writes through to.
type DurableStore interface {
	ListTasks(ctx context.Context) ([]task.Task, error)
	CreateTask(ctx context.Context, t *task.Task) error
	UpdateTask(ctx context.Context, t *task.Task) error
	DeleteTask(ctx context.Context, id string) error
}

// MutationKind classifies one optimistic mutation.
type MutationKind string

const (
	KindCreate MutationKind = "create"
	KindUpdate MutationKind = "update"
	KindDelete MutationKind = "delete"
)

// OptimisticUpdate tracks one in-flight mutation between local apply and
// durable confirmation. Confirmation discards it; failure runs its rollback.
type OptimisticUpdate struct {
	ID     string
	Kind   MutationKind
	TaskID string

	rollback func() // runs under the cache mutex
}

// ErrorFunc receives write failures after the rollback already ran. The
// wrapped error matches ErrOptimisticWriteFailed.
type ErrorFunc func(taskID string, err error)

// Cache holds the newest-first task list and the in-flight mutation records.
type Cache struct {
	durable DurableStore
	logger  logging.Logger
	onError ErrorFunc
	now     func() time.Time

	mu      sync.Mutex
	tasks   []task.Task
	pending map[string]*OptimisticUpdate

	locksMu   sync.Mutex
	taskLocks map[string]*sync.Mutex

	refetch singleflight.Group
	writes  sync.WaitGroup
}

// New builds a cache over the durable store. onError may be nil.
func New(durable DurableStore, logger logging.Logger, onError ErrorFunc) *Cache {
	return &Cache{
		durable:   durable,
		logger:    logging.OrNop(logger),
		onError:   onError,
		now:       time.Now,
		pending:   make(map[string]*OptimisticUpdate),
		taskLocks: make(map[string]*sync.Mutex),
	}
}

// Seed loads the current durable list. Call once before serving reads.
func (c *Cache) Seed(ctx context.Context) error {
	return c.Refetch(ctx)
}

// Tasks returns a copy of the cached list, newest-created first.
func (c *Cache) Tasks() []task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]task.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// ListTasks serves the cached snapshot. Clients read through the cache, not
// the durable store; the change feed keeps the snapshot converging.
func (c *Cache) ListTasks(context.Context) ([]task.Task, error) {
	return c.Tasks(), nil
}

// Pending reports how many mutations await durable confirmation.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Create inserts the task locally and writes it through in the background.
// Returns the task id immediately.
func (c *Cache) Create(ctx context.Context, t task.Task) string {
	t.Normalize()
	if t.ID == "" {
		t.ID = task.NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = c.now()
	}
	t.UpdatedAt = t.CreatedAt

	c.mu.Lock()
	c.tasks = insertOrdered(c.tasks, t)
	u := c.recordLocked(KindCreate, t.ID, func() {
		c.tasks = removeByID(c.tasks, t.ID)
	})
	c.mu.Unlock()

	row := t
	c.writeThrough(ctx, u, func(ctx context.Context) error {
		return c.durable.CreateTask(ctx, &row)
	})
	return t.ID
}

// Update replaces the task locally and writes it through in the background.
// Unknown ids are ignored.
func (c *Cache) Update(ctx context.Context, t task.Task) {
	t.Normalize()
	t.UpdatedAt = c.now()

	c.mu.Lock()
	idx := indexByID(c.tasks, t.ID)
	if idx < 0 {
		c.mu.Unlock()
		c.logger.Warn("update for unknown task %s ignored", t.ID)
		return
	}
	prior := c.tasks[idx]
	t.CreatedAt = prior.CreatedAt
	c.tasks[idx] = t
	u := c.recordLocked(KindUpdate, t.ID, func() {
		if i := indexByID(c.tasks, prior.ID); i >= 0 {
			c.tasks[i] = prior
		}
	})
	c.mu.Unlock()

	row := t
	c.writeThrough(ctx, u, func(ctx context.Context) error {
		return c.durable.UpdateTask(ctx, &row)
	})
}

// Toggle flips the completion flag through Update.
func (c *Cache) Toggle(ctx context.Context, id string) {
	c.mu.Lock()
	idx := indexByID(c.tasks, id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	t := c.tasks[idx]
	c.mu.Unlock()

	t.Completed = !t.Completed
	c.Update(ctx, t)
}

// Delete removes the task locally and writes the delete through in the
// background. Rollback re-inserts the snapshot at its ordered position, not
// just anywhere.
func (c *Cache) Delete(ctx context.Context, id string) {
	c.mu.Lock()
	idx := indexByID(c.tasks, id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	prior := c.tasks[idx]
	c.tasks = append(c.tasks[:idx], c.tasks[idx+1:]...)
	u := c.recordLocked(KindDelete, id, func() {
		c.tasks = insertOrdered(c.tasks, prior)
	})
	c.mu.Unlock()

	c.writeThrough(ctx, u, func(ctx context.Context) error {
		return c.durable.DeleteTask(ctx, id)
	})
}

// Refetch replaces the cached list with the durable one. Concurrent callers
// share a single store read.
func (c *Cache) Refetch(ctx context.Context) error {
	_, err, _ := c.refetch.Do("tasks", func() (any, error) {
		tasks, err := c.durable.ListTasks(ctx)
		if err != nil {
			return nil, fmt.Errorf("refetch tasks: %w", err)
		}
		c.mu.Lock()
		c.tasks = tasks
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// Run consumes the change feed until ctx is cancelled. Every event triggers a
// full refetch; the cache never patches rows incrementally.
func (c *Cache) Run(ctx context.Context, bus *events.Bus) {
	feed := bus.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed:
			if !ok {
				return
			}
			if change.Table != events.TableTasks {
				continue
			}
			if err := c.Refetch(ctx); err != nil {
				c.logger.Warn("change-feed refetch failed: %v", err)
			}
		}
	}
}

// Flush blocks until every issued durable write has confirmed or rolled
// back. Used by shutdown and tests.
func (c *Cache) Flush() {
	c.writes.Wait()
}

func (c *Cache) recordLocked(kind MutationKind, taskID string, rollback func()) *OptimisticUpdate {
	u := &OptimisticUpdate{
		ID:       fmt.Sprintf("upd-%d-%s", len(c.pending), taskID),
		Kind:     kind,
		TaskID:   taskID,
		rollback: rollback,
	}
	for c.pending[u.ID] != nil {
		u.ID += "+"
	}
	c.pending[u.ID] = u
	return u
}

// writeThrough issues the durable write for one recorded mutation. Writes to
// the same task serialize so a stale confirmation cannot overtake a newer
// local mutation; writes to different tasks run independently.
func (c *Cache) writeThrough(ctx context.Context, u *OptimisticUpdate, write func(context.Context) error) {
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()

		lock := c.taskLock(u.TaskID)
		lock.Lock()
		err := write(ctx)
		lock.Unlock()

		c.mu.Lock()
		delete(c.pending, u.ID)
		if err != nil {
			u.rollback()
		}
		c.mu.Unlock()

		if err == nil {
			return
		}
		wrapped := fmt.Errorf("%w: %s task %s: %v", murmurerrors.ErrOptimisticWriteFailed, u.Kind, u.TaskID, err)
		c.logger.Warn("%v", wrapped)
		if c.onError != nil {
			c.onError(u.TaskID, wrapped)
		}
	}()
}

func (c *Cache) taskLock(id string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	lock, ok := c.taskLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.taskLocks[id] = lock
	}
	return lock
}

// insertOrdered places t by created-at descending, id descending on ties,
// matching the durable list order.
func insertOrdered(tasks []task.Task, t task.Task) []task.Task {
	idx := len(tasks)
	for i, existing := range tasks {
		if t.CreatedAt.After(existing.CreatedAt) ||
			(t.CreatedAt.Equal(existing.CreatedAt) && t.ID > existing.ID) {
			idx = i
			break
		}
	}
	tasks = append(tasks, task.Task{})
	copy(tasks[idx+1:], tasks[idx:])
	tasks[idx] = t
	return tasks
}

func indexByID(tasks []task.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func removeByID(tasks []task.Task, id string) []task.Task {
	if i := indexByID(tasks, id); i >= 0 {
		return append(tasks[:i], tasks[i+1:]...)
	}
	return tasks
}
