package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/events"
	"murmur/internal/logging"
	"murmur/internal/task"
)

// FallbackTitlePrefix marks tasks materialized by the sweep so the UI can
// signal they originated from a reminder.
const FallbackTitlePrefix = "⏰ Reminder: "

// SweepStore is the slice of the durable store the sweeper needs.
type SweepStore interface {
	DueActions(ctx context.Context, now time.Time) ([]task.ScheduledAction, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, t *task.Task) error
	MarkActionCompleted(ctx context.Context, id string) (bool, error)
	MarkActionFailed(ctx context.Context, id string) (bool, error)
}

// RowResult reports how one due action was resolved.
type RowResult struct {
	ID                string   `json:"id"`
	ActionType        string   `json:"action_type"`
	TaskTitle         string   `json:"task_title"`
	NotificationsSent []string `json:"notifications_sent"`
	Status            string   `json:"status"`
}

// Report summarizes one sweep pass for the sweep endpoint.
type Report struct {
	Success        bool        `json:"success"`
	ProcessedCount int         `json:"processed_count"`
	Actions        []RowResult `json:"actions"`
}

// Sweeper is the server-side delivery strategy: a fixed-cadence pass over the
// durable store that resolves due actions and materializes browser-fallback
// tasks when on-device delivery was unavailable.
type Sweeper struct {
	store   SweepStore
	bus     *events.Bus
	logger  logging.Logger
	metrics *Metrics
	now     func() time.Time

	cron     *cron.Cron
	cronSpec string
	stopOnce sync.Once
}

// NewSweeper builds the sweep strategy. interval defaults to one minute, the
// source system's cron cadence.
func NewSweeper(store SweepStore, bus *events.Bus, interval time.Duration, metrics *Metrics, logger logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		bus:      bus,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		now:      time.Now,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cronSpec: fmt.Sprintf("@every %s", interval),
	}
}

// Start begins the periodic sweep until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cronSpec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep pass failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started (%s)", s.cronSpec)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cadence, waiting for a running pass. Safe to call twice.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.logger.Info("sweeper stopped")
	})
}

// Sweep runs one pass: select due pending rows, resolve each, and report.
// Zero due rows is a no-op. A row failing mid-processing is marked failed and
// the pass continues; it is never left pending forever.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	started := s.now()
	due, err := s.store.DueActions(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("select due actions: %w", err)
	}

	report := &Report{Success: true, Actions: make([]RowResult, 0, len(due))}
	failed := 0
	for i := range due {
		row := s.processRow(ctx, &due[i])
		if row.Status == string(task.StatusFailed) {
			failed++
		}
		report.Actions = append(report.Actions, row)
		report.ProcessedCount++
	}

	s.metrics.observeSweep(report.ProcessedCount, failed, s.now().Sub(started).Seconds())
	if report.ProcessedCount > 0 {
		s.logger.Info("sweep resolved %d due actions (%d failed)", report.ProcessedCount, failed)
	}
	return report, nil
}

// processRow resolves one due action. The status transition away from
// pending happens last, so a crash mid-row leaves the row pending for the
// next pass rather than half-applied and forgotten; transition guards make
// the redo idempotent.
func (s *Sweeper) processRow(ctx context.Context, action *task.ScheduledAction) RowResult {
	row := RowResult{
		ID:         action.ID,
		ActionType: string(action.ActionType),
		Status:     string(task.StatusCompleted),
	}

	owner, err := s.store.GetTask(ctx, action.TaskID)
	if err != nil {
		return s.failRow(ctx, action, row, fmt.Errorf("load owning task: %w", err))
	}
	row.TaskTitle = owner.Title

	// Reminder actions get a visible fallback task; call/text/email actions
	// only need the notification channels.
	if action.ActionType == task.ActionReminder {
		if err := s.materializeFallbackTask(ctx, action, owner); err != nil {
			return s.failRow(ctx, action, row, err)
		}
	}
	row.NotificationsSent = s.sendChannels(action)

	moved, err := s.store.MarkActionCompleted(ctx, action.ID)
	if err != nil {
		return s.failRow(ctx, action, row, fmt.Errorf("mark completed: %w", err))
	}
	if !moved {
		// Another pass got here first; report it skipped rather than done.
		row.Status = "skipped"
		return row
	}
	s.publish(events.Change{Table: events.TableScheduledActions, Op: events.OpUpdate, RowID: action.ID})
	return row
}

func (s *Sweeper) materializeFallbackTask(ctx context.Context, action *task.ScheduledAction, owner *task.Task) error {
	fallback := &task.Task{
		ID:          task.NewTaskID(),
		Title:       FallbackTitlePrefix + owner.Title,
		Description: owner.Description,
		Priority:    task.PriorityHigh,
		ActionType:  task.ActionNote,
		Contact:     action.Contact,
	}
	fallback.Normalize()
	if err := s.store.CreateTask(ctx, fallback); err != nil {
		return fmt.Errorf("materialize fallback task: %w", err)
	}
	s.publish(events.Change{Table: events.TableTasks, Op: events.OpInsert, RowID: fallback.ID})
	return nil
}

// sendChannels records which delivery channels this row used. Web delivery is
// the selection criterion so it is always present; email and SMS transports
// are external collaborators behind stubs.
func (s *Sweeper) sendChannels(action *task.ScheduledAction) []string {
	channels := []string{"web"}
	if action.Settings.Email {
		channels = append(channels, "email")
	}
	if action.Settings.SMS {
		channels = append(channels, "sms")
	}
	return channels
}

func (s *Sweeper) failRow(ctx context.Context, action *task.ScheduledAction, row RowResult, cause error) RowResult {
	s.logger.Warn("%v: row %s: %v", murmurerrors.ErrSweepRowFailed, action.ID, cause)
	row.Status = string(task.StatusFailed)
	if _, err := s.store.MarkActionFailed(ctx, action.ID); err != nil {
		s.logger.Error("sweep row %s could not be marked failed: %v", action.ID, err)
	}
	s.publish(events.Change{Table: events.TableScheduledActions, Op: events.OpUpdate, RowID: action.ID})
	return row
}

func (s *Sweeper) publish(change events.Change) {
	if s.bus != nil {
		s.bus.Publish(change)
	}
}

// ScheduleReminder satisfies the Dispatcher contract. The sweep is driven by
// the durable row itself, so a pending web-enabled action is already
// scheduled by definition.
func (s *Sweeper) ScheduleReminder(action *task.ScheduledAction) bool {
	return action.Status == task.StatusPending && action.Settings.WebPush
}

// CancelReminder satisfies the Dispatcher contract. Deleting the durable row
// is the cancellation; the next pass simply no longer selects it.
func (s *Sweeper) CancelReminder(string) bool {
	return true
}

var _ Dispatcher = (*Sweeper)(nil)
