package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotFound reports a job identity that is not (or no longer) stored.
	ErrNotFound = errors.New("job not found")
	ErrClosed   = errors.New("storage closed")
	// ErrTriggerReplaced reports fire progress for a trigger that is no
	// longer the job's, e.g. after a reschedule. It matches ErrNotFound.
	ErrTriggerReplaced = fmt.Errorf("trigger replaced: %w", ErrNotFound)
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite and file drivers
	DSN         string        // postgres driver
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Key is the identity of a job.
type Key struct {
	Owner int64  `json:"owner"`
	Name  string `json:"name"`
}

func (k Key) String() string { return strconv.FormatInt(k.Owner, 10) + "/" + k.Name }

type Kind string

const (
	KindTask         Kind = "task"
	KindReminder     Kind = "reminder"
	KindRemindBefore Kind = "remind_before"
)

type TriggerKind string

const (
	// TriggerOnce fires a single time at Start.
	TriggerOnce TriggerKind = "once"
	// TriggerInterval fires every Every minutes from Start, forever.
	TriggerInterval TriggerKind = "interval"
	// TriggerCalendar fires every Every years on Start's month, day and clock time.
	TriggerCalendar TriggerKind = "calendar"
	// TriggerRepeat fires Count times, Every minutes apart, from Start.
	TriggerRepeat TriggerKind = "repeat"
)

// Trigger describes when a job fires and how far it has progressed.
// Next is the index of the next nominal fire point. ID is assigned when the
// trigger is planned and stays fixed while it fires.
type Trigger struct {
	ID       string      `json:"id,omitempty"`
	Kind     TriggerKind `json:"kind"`
	Start    time.Time   `json:"start"`
	Every    int         `json:"every,omitempty"`
	Count    int         `json:"count,omitempty"`
	Next     int         `json:"next"`
	Fired    int         `json:"fired"`
	LastFire time.Time   `json:"last_fire,omitzero"`
}

// Continues reports whether tr is progress of stored: the same planned
// trigger, not behind it.
func (tr Trigger) Continues(stored *Trigger) bool {
	return stored != nil &&
		stored.ID == tr.ID &&
		stored.Kind == tr.Kind &&
		stored.Start.Equal(tr.Start) &&
		stored.Every == tr.Every &&
		stored.Count == tr.Count &&
		stored.Next <= tr.Next
}

// Job is one row of the job table. Task and Reminder hold the JSON payloads
// the job was created from; either may be empty.
type Job struct {
	Key
	ChatID    int64           `json:"chat_id"`
	Kind      Kind            `json:"kind"`
	Message   string          `json:"message,omitempty"`
	Task      json.RawMessage `json:"task,omitempty"`
	Reminder  json.RawMessage `json:"reminder,omitempty"`
	Trigger   *Trigger        `json:"trigger,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers never share payload buffers.
func (j Job) Clone() Job {
	out := j
	if j.Task != nil {
		out.Task = append(json.RawMessage(nil), j.Task...)
	}
	if j.Reminder != nil {
		out.Reminder = append(json.RawMessage(nil), j.Reminder...)
	}
	if j.Trigger != nil {
		tr := *j.Trigger
		out.Trigger = &tr
	}
	return out
}

// AuditEntry records a user action on a job.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	ChatID  int64     `json:"chat_id"`
	Action  string    `json:"action"`
	Target  string    `json:"target"`
	Error   string    `json:"error,omitempty"`
}
