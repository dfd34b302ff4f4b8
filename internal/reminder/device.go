package reminder

import (
	"time"

	"murmur/internal/logging"
	"murmur/internal/task"
)

// NotificationScheduler is the native runtime's local-notification surface.
// The integer id is dispatcher-assigned and distinct from the action's
// durable identity; the payload carries the action id so a user interaction
// can mark the action completed.
type NotificationScheduler interface {
	Schedule(id int64, title, body string, at time.Time, payload string) error
	Cancel(id int64) error
}

// DeviceDispatcher schedules local notifications on a native runtime. With
// no scheduler wired it reports every reminder as undeliverable and the
// server sweep picks them up instead.
type DeviceDispatcher struct {
	scheduler NotificationScheduler
	ledger    *Ledger
	logger    logging.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewDeviceDispatcher wires the on-device strategy. scheduler may be nil on
// non-native runtimes.
func NewDeviceDispatcher(scheduler NotificationScheduler, ledger *Ledger, metrics *Metrics, logger logging.Logger) *DeviceDispatcher {
	return &DeviceDispatcher{
		scheduler: scheduler,
		ledger:    ledger,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Available reports whether a native scheduler is wired.
func (d *DeviceDispatcher) Available() bool {
	return d.scheduler != nil
}

// ScheduleReminder assigns a fresh monotonic notification id, persists the
// binding, and hands the notification to the native scheduler.
func (d *DeviceDispatcher) ScheduleReminder(action *task.ScheduledAction) bool {
	if d.scheduler == nil {
		d.metrics.observeDevice(false)
		return false
	}

	id, err := d.ledger.Bind(action.ID)
	if err != nil {
		d.logger.Warn("device dispatcher: persist binding for %s: %v", action.ID, err)
		d.metrics.observeDevice(false)
		return false
	}

	title := notificationTitle(action)
	body := notificationBody(action, d.now())
	if err := d.scheduler.Schedule(id, title, body, action.ScheduledFor, action.ID); err != nil {
		d.logger.Warn("device dispatcher: schedule notification %d for %s: %v", id, action.ID, err)
		if _, _, releaseErr := d.ledger.Release(action.ID); releaseErr != nil {
			d.logger.Warn("device dispatcher: release binding for %s: %v", action.ID, releaseErr)
		}
		d.metrics.observeDevice(false)
		return false
	}

	d.logger.Info("device dispatcher: scheduled notification %d for action %s at %s", id, action.ID, action.ScheduledFor.Format(time.RFC3339))
	d.metrics.observeDevice(true)
	return true
}

// CancelReminder withdraws the local notification bound to an action.
func (d *DeviceDispatcher) CancelReminder(actionID string) bool {
	if d.scheduler == nil {
		return false
	}
	id, ok, err := d.ledger.Release(actionID)
	if err != nil {
		d.logger.Warn("device dispatcher: release binding for %s: %v", actionID, err)
	}
	if !ok {
		return false
	}
	if err := d.scheduler.Cancel(id); err != nil {
		d.logger.Warn("device dispatcher: cancel notification %d: %v", id, err)
		return false
	}
	return true
}

// ActionForNotification resolves an interaction payload back to the action,
// so the caller can mark it completed.
func (d *DeviceDispatcher) ActionForNotification(notificationID int64) (string, bool) {
	return d.ledger.ActionFor(notificationID)
}

var _ Dispatcher = (*DeviceDispatcher)(nil)
