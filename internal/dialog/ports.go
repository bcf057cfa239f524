package dialog

import (
	"context"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/todo"
)

// RemindersPort is the part of reminder.Service the dialogs drive.
type RemindersPort interface {
	Location() *time.Location
	Now() time.Time

	AddTask(ctx context.Context, actor int64, t todo.Task) error
	ScheduleReminder(ctx context.Context, actor int64, r todo.Reminder) error
	Complete(ctx context.Context, actor int64, key storage.Key) (storage.Job, error)
	Cancel(ctx context.Context, actor int64, key storage.Key) error

	ListTasks(ctx context.Context, owner int64) (reminder.Snapshot, error)
	ListReminders(ctx context.Context, owner int64) (reminder.Snapshot, error)
	Resolve(snap reminder.Snapshot, pos int) (reminder.Entry, error)
}

var _ RemindersPort = (*reminder.Service)(nil)
