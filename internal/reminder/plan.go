package reminder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/storage"
	"remindbot/internal/todo"
)

// PreDeadlinePrefix marks the name of a pre-deadline job.
const PreDeadlinePrefix = todo.PreDeadlinePrefix

// IsPreDeadline reports whether name belongs to a pre-deadline job.
func IsPreDeadline(name string) bool { return strings.HasPrefix(name, PreDeadlinePrefix) }

func preKey(k storage.Key) storage.Key {
	return storage.Key{Owner: k.Owner, Name: PreDeadlinePrefix + k.Name}
}

// TaskJob is the trigger-less job of a plain task.
func TaskJob(t todo.Task) (storage.Job, error) {
	if err := t.Validate(); err != nil {
		return storage.Job{}, err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		Key:     storage.Key{Owner: t.OwnerID, Name: t.Name},
		ChatID:  t.ChatID,
		Kind:    storage.KindTask,
		Message: todo.TaskText(t),
		Task:    raw,
	}, nil
}

// Plan computes the jobs of a reminder: the deadline job first, then the
// pre-deadline job when MinutesBefore > 0. loc anchors calendar triggers.
func Plan(r todo.Reminder, loc *time.Location) ([]storage.Job, error) {
	if err := r.Task.Validate(); err != nil {
		return nil, err
	}
	if err := todo.CheckRepeat(r.RepeatInterval, r.RepeatUnit); err != nil {
		return nil, err
	}
	deadline, err := r.Deadline(loc)
	if err != nil {
		return nil, err
	}
	taskRaw, err := json.Marshal(r.Task)
	if err != nil {
		return nil, err
	}
	remRaw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	key := storage.Key{Owner: r.Task.OwnerID, Name: r.Task.Name}
	main := storage.Job{
		Key:      key,
		ChatID:   r.Task.ChatID,
		Kind:     storage.KindReminder,
		Message:  todo.DeadlineText(r),
		Task:     taskRaw,
		Reminder: remRaw,
		Trigger:  deadlineTrigger(r, deadline),
	}
	if main.Trigger == nil {
		return nil, fmt.Errorf("unit %q: %w", r.RepeatUnit, todo.ErrUnknownUnit)
	}
	main.Trigger.ID = uuid.NewString()
	jobs := []storage.Job{main}

	if r.HasPreDeadline() {
		jobs = append(jobs, storage.Job{
			Key:      preKey(key),
			ChatID:   r.Task.ChatID,
			Kind:     storage.KindRemindBefore,
			Message:  todo.BeforeDeadlineText(r),
			Reminder: remRaw,
			Trigger:  preDeadlineTrigger(r, deadline),
		})
		jobs[1].Trigger.ID = uuid.NewString()
	}
	return jobs, nil
}

func deadlineTrigger(r todo.Reminder, deadline time.Time) *storage.Trigger {
	switch {
	case !r.Repeats():
		return &storage.Trigger{Kind: storage.TriggerOnce, Start: deadline}
	case r.RepeatUnit.Calendar():
		return &storage.Trigger{Kind: storage.TriggerCalendar, Start: deadline, Every: r.RepeatInterval}
	}
	every := r.RepeatUnit.Minutes(r.RepeatInterval)
	if every <= 0 {
		return nil
	}
	return &storage.Trigger{Kind: storage.TriggerInterval, Start: deadline, Every: every}
}

// preDeadlineTrigger fires RemindTimes times, RemindInterval minutes apart,
// starting MinutesBefore ahead of the deadline. Zero times count as one and
// several times without an interval collapse to one, so a lone "minutes
// before" still notifies.
func preDeadlineTrigger(r todo.Reminder, deadline time.Time) *storage.Trigger {
	anchor := deadline.Add(-time.Duration(r.MinutesBefore) * time.Minute)
	if r.RemindTimes > 1 && r.RemindInterval > 0 {
		return &storage.Trigger{Kind: storage.TriggerRepeat, Start: anchor, Every: r.RemindInterval, Count: r.RemindTimes}
	}
	return &storage.Trigger{Kind: storage.TriggerOnce, Start: anchor}
}

// decodeTask and decodeReminder read job payloads.

func decodeTask(j storage.Job) (todo.Task, bool) {
	var t todo.Task
	if len(j.Task) == 0 || json.Unmarshal(j.Task, &t) != nil {
		return todo.Task{}, false
	}
	return t, true
}

func decodeReminder(j storage.Job) (todo.Reminder, bool) {
	var r todo.Reminder
	if len(j.Reminder) == 0 || json.Unmarshal(j.Reminder, &r) != nil {
		return todo.Reminder{}, false
	}
	return r, true
}
