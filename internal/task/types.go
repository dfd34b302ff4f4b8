// Package task defines the domain model shared by the pipeline, the durable
// store, the reminder dispatchers, and the client cache.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority of a captured task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ActionType classifies what a task asks the assistant to do. Plain notes are
// never scheduled; everything else can carry a reminder.
type ActionType string

const (
	ActionReminder ActionType = "reminder"
	ActionCall     ActionType = "call"
	ActionText     ActionType = "text"
	ActionEmail    ActionType = "email"
	ActionNote     ActionType = "note"
)

// Schedulable reports whether the action type participates in reminder
// delivery.
func (a ActionType) Schedulable() bool {
	switch a {
	case ActionReminder, ActionCall, ActionText, ActionEmail:
		return true
	}
	return false
}

// Confidence is the coarse trust label on one extraction result. It drives
// the auto-accept policy.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ActionStatus tracks a scheduled action's delivery lifecycle. Transitions
// are monotonic: pending moves to completed or failed and never returns.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

// ContactInfo identifies who a call/text/email action concerns.
type ContactInfo struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Empty reports whether no contact fields are set.
func (c ContactInfo) Empty() bool {
	return c.Name == "" && c.Phone == "" && c.Email == ""
}

// NotificationSettings selects delivery channels for a scheduled action.
type NotificationSettings struct {
	WebPush bool `json:"webPush"`
	Email   bool `json:"email"`
	SMS     bool `json:"sms"`
}

// DefaultNotificationSettings enables the browser-fallback path only.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{WebPush: true}
}

// Task is one captured to-do, voice-extracted or manually entered.
type Task struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Priority     Priority     `json:"priority"`
	Completed    bool         `json:"completed"`
	DueDate      *time.Time   `json:"dueDate,omitempty"`
	ActionType   ActionType   `json:"actionType"`
	ScheduledFor *time.Time   `json:"scheduledFor,omitempty"`
	Contact      *ContactInfo `json:"contactInfo,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NewTaskID generates a task identifier with "tsk-" prefix.
func NewTaskID() string {
	return fmt.Sprintf("tsk-%s", uuid.NewString())
}

// Normalize fills defaults and enforces model invariants: actionType defaults
// to note, and notes never carry a schedule.
func (t *Task) Normalize() {
	if t.ActionType == "" {
		t.ActionType = ActionNote
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.ActionType == ActionNote {
		t.ScheduledFor = nil
	}
	if t.Contact != nil && t.Contact.Empty() {
		t.Contact = nil
	}
	t.Title = strings.TrimSpace(t.Title)
}

// Validate checks required fields before a durable write.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is required")
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("invalid priority: %q", t.Priority)
	}
	if !t.ActionType.Schedulable() && t.ActionType != ActionNote {
		return fmt.Errorf("invalid action type: %q", t.ActionType)
	}
	return nil
}

// ScheduledAction is one durable reminder tied to a task. Created only when
// the schedule is in the future; cascade-deleted with its task.
type ScheduledAction struct {
	ID           string               `json:"id"`
	TaskID       string               `json:"taskId"`
	ActionType   ActionType           `json:"actionType"`
	ScheduledFor time.Time            `json:"scheduledFor"`
	Contact      *ContactInfo         `json:"contactInfo,omitempty"`
	Settings     NotificationSettings `json:"notificationSettings"`
	Status       ActionStatus         `json:"status"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// NewActionID generates a scheduled-action identifier with "act-" prefix.
func NewActionID() string {
	return fmt.Sprintf("act-%s", uuid.NewString())
}

// Validate checks required fields before a durable write.
func (a *ScheduledAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action ID is required")
	}
	if a.TaskID == "" {
		return fmt.Errorf("action task ID is required")
	}
	if !a.ActionType.Schedulable() {
		return fmt.Errorf("action type %q is not schedulable", a.ActionType)
	}
	if a.ScheduledFor.IsZero() {
		return fmt.Errorf("action schedule is required")
	}
	return nil
}

// CompletedTask is one archived row in the append-only completion record.
type CompletedTask struct {
	ID             string     `json:"id"`
	OriginalTaskID string     `json:"originalTaskId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       Priority   `json:"priority"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	CompletedAt    time.Time  `json:"completedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Candidate is one actionable item proposed by the extraction stage, prior to
// persistence.
type Candidate struct {
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Priority     Priority     `json:"priority"`
	ActionType   ActionType   `json:"actionType"`
	ScheduledFor *time.Time   `json:"scheduledFor"`
	Contact      *ContactInfo `json:"contactInfo,omitempty"`
}

// TranscriptionResult is the ephemeral output of one full pipeline run. It is
// consumed on accept (automatic or explicit) and then discarded; only the
// cleaned text survives as an audit copy on the created tasks.
type TranscriptionResult struct {
	RawTranscription string      `json:"rawTranscription"`
	CleanedText      string      `json:"cleanedText"`
	Candidates       []Candidate `json:"extractedTasks"`
	Improvements     string      `json:"improvements"`
	Confidence       Confidence  `json:"confidence"`
	PotentialErrors  []string    `json:"potentialErrors"`
}
