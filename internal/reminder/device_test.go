package reminder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/internal/task"
)

type fakeScheduler struct {
	scheduled map[int64]string // id -> payload
	cancelled []int64
	fail      bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[int64]string)}
}

func (f *fakeScheduler) Schedule(id int64, _, _ string, _ time.Time, payload string) error {
	if f.fail {
		return errors.New("scheduler unavailable")
	}
	f.scheduled[id] = payload
	return nil
}

func (f *fakeScheduler) Cancel(id int64) error {
	f.cancelled = append(f.cancelled, id)
	delete(f.scheduled, id)
	return nil
}

func testAction(at time.Time) *task.ScheduledAction {
	return &task.ScheduledAction{
		ID:           task.NewActionID(),
		TaskID:       task.NewTaskID(),
		ActionType:   task.ActionCall,
		ScheduledFor: at,
		Contact:      &task.ContactInfo{Name: "nigel"},
		Settings:     task.DefaultNotificationSettings(),
		Status:       task.StatusPending,
	}
}

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reminders.yaml")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	return l, path
}

func TestDeviceUnavailableWithoutScheduler(t *testing.T) {
	ledger, _ := openTestLedger(t)
	d := NewDeviceDispatcher(nil, ledger, nil, nil)

	assert.False(t, d.Available())
	assert.False(t, d.ScheduleReminder(testAction(time.Now().Add(time.Hour))))
}

func TestDeviceSchedulesWithMonotonicIDs(t *testing.T) {
	ledger, _ := openTestLedger(t)
	sched := newFakeScheduler()
	d := NewDeviceDispatcher(sched, ledger, nil, nil)

	first := testAction(time.Now().Add(time.Hour))
	second := testAction(time.Now().Add(2 * time.Hour))
	require.True(t, d.ScheduleReminder(first))
	require.True(t, d.ScheduleReminder(second))

	firstID, ok := ledger.Lookup(first.ID)
	require.True(t, ok)
	secondID, ok := ledger.Lookup(second.ID)
	require.True(t, ok)
	assert.Greater(t, secondID, firstID)

	// The payload carries the durable action id.
	assert.Equal(t, first.ID, sched.scheduled[firstID])

	actionID, ok := d.ActionForNotification(secondID)
	require.True(t, ok)
	assert.Equal(t, second.ID, actionID)
}

func TestDeviceIDsNeverReuseAcrossRestart(t *testing.T) {
	ledger, path := openTestLedger(t)
	sched := newFakeScheduler()
	d := NewDeviceDispatcher(sched, ledger, nil, nil)

	a := testAction(time.Now().Add(time.Hour))
	require.True(t, d.ScheduleReminder(a))
	usedID, _ := ledger.Lookup(a.ID)
	require.True(t, d.CancelReminder(a.ID))

	// Reopen the ledger as a restart would.
	reopened, err := OpenLedger(path)
	require.NoError(t, err)
	d2 := NewDeviceDispatcher(sched, reopened, nil, nil)

	b := testAction(time.Now().Add(time.Hour))
	require.True(t, d2.ScheduleReminder(b))
	newID, _ := reopened.Lookup(b.ID)
	assert.Greater(t, newID, usedID)
}

func TestDeviceSchedulerFailureReleasesBinding(t *testing.T) {
	ledger, _ := openTestLedger(t)
	sched := newFakeScheduler()
	sched.fail = true
	d := NewDeviceDispatcher(sched, ledger, nil, nil)

	a := testAction(time.Now().Add(time.Hour))
	assert.False(t, d.ScheduleReminder(a))
	_, bound := ledger.Lookup(a.ID)
	assert.False(t, bound)
}

func TestCancelUnknownReminder(t *testing.T) {
	ledger, _ := openTestLedger(t)
	d := NewDeviceDispatcher(newFakeScheduler(), ledger, nil, nil)
	assert.False(t, d.CancelReminder("act-unknown"))
}

func TestRelativePhrase(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC) // a Saturday
	cases := []struct {
		at   time.Time
		want string
	}{
		{now.Add(30 * time.Second), "now"},
		{now.Add(time.Minute), "in 1 minute"},
		{now.Add(10 * time.Minute), "in 10 minutes"},
		{now.Add(time.Hour), "in 1 hour"},
		{now.Add(5 * time.Hour), "in 5 hours"},
		{now.Add(3 * 24 * time.Hour), "on Tuesday"},
		{now.Add(10 * 24 * time.Hour), "on Mar 24"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, relativePhrase(tc.at, now), tc.at.String())
	}
}

func TestNotificationTitles(t *testing.T) {
	a := testAction(time.Now())
	assert.Equal(t, "Time to call nigel", notificationTitle(a))

	a.Contact = nil
	assert.Equal(t, "Time to make a call", notificationTitle(a))

	a.ActionType = task.ActionReminder
	assert.Equal(t, "Reminder", notificationTitle(a))

	a.ActionType = task.ActionEmail
	a.Contact = &task.ContactInfo{Name: "sam"}
	assert.Equal(t, "Time to email sam", notificationTitle(a))
}
