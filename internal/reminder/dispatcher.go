// Package reminder delivers scheduled actions through two strategies sharing
// one contract: on-device notification scheduling when a native runtime is
// present, and a periodic server-side sweep that materializes browser-visible
// fallback tasks for everyone else.
package reminder

import (
	"fmt"
	"time"

	"murmur/internal/task"
)

// Dispatcher is the delivery contract both strategies implement.
type Dispatcher interface {
	// ScheduleReminder registers delivery for an action. False means this
	// strategy cannot deliver it (wrong runtime, scheduler error) and the
	// caller should rely on the other path.
	ScheduleReminder(action *task.ScheduledAction) bool
	// CancelReminder withdraws a previously scheduled delivery.
	CancelReminder(actionID string) bool
}

// notificationTitle synthesizes the short headline for an action.
func notificationTitle(action *task.ScheduledAction) string {
	name := ""
	if action.Contact != nil {
		name = action.Contact.Name
	}
	switch action.ActionType {
	case task.ActionCall:
		if name != "" {
			return fmt.Sprintf("Time to call %s", name)
		}
		return "Time to make a call"
	case task.ActionText:
		if name != "" {
			return fmt.Sprintf("Time to text %s", name)
		}
		return "Time to send a text"
	case task.ActionEmail:
		if name != "" {
			return fmt.Sprintf("Time to email %s", name)
		}
		return "Time to send an email"
	default:
		return "Reminder"
	}
}

// notificationBody pairs the action type with a human-relative time phrase.
func notificationBody(action *task.ScheduledAction, now time.Time) string {
	return fmt.Sprintf("Scheduled %s", relativePhrase(action.ScheduledFor, now))
}

// relativePhrase renders when an instant occurs relative to now: minute and
// hour counts close in, weekday names within the week, dates beyond.
func relativePhrase(at time.Time, now time.Time) string {
	delta := at.Sub(now)
	switch {
	case delta < time.Minute:
		return "now"
	case delta < time.Hour:
		n := int(delta.Round(time.Minute) / time.Minute)
		if n == 1 {
			return "in 1 minute"
		}
		return fmt.Sprintf("in %d minutes", n)
	case delta < 24*time.Hour:
		n := int(delta.Round(time.Hour) / time.Hour)
		if n == 1 {
			return "in 1 hour"
		}
		return fmt.Sprintf("in %d hours", n)
	case delta < 7*24*time.Hour:
		return "on " + at.Weekday().String()
	default:
		return "on " + at.Format("Jan 2")
	}
}
