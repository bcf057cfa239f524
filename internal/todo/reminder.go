package todo

import (
	"strings"
	"time"
)

// DateLayout is the canonical dd-MM-yyyy-HH-mm format used in dialogs and
// persisted reminder payloads.
const DateLayout = "02-01-2006-15-04"

// HorizonYears bounds how far ahead a deadline may be.
const HorizonYears = 120

const horizonMinutes = HorizonYears * 365 * 24 * 60

// Reminder is a task with a deadline and optional repetition and
// pre-deadline notifications. Times are stored in DateLayout.
type Reminder struct {
	Task           Task   `json:"task"`
	Scheduled      string `json:"scheduled"`
	RepeatInterval int    `json:"repeat_interval"`
	RepeatUnit     Unit   `json:"repeat_unit"`
	MinutesBefore  int    `json:"minutes_before"`
	RemindTimes    int    `json:"remind_times"`
	RemindInterval int    `json:"remind_interval"`
	CreatedAt      string `json:"created_at"`
}

// Deadline parses Scheduled in loc.
func (r Reminder) Deadline(loc *time.Location) (time.Time, error) {
	return parseDate(r.Scheduled, loc)
}

// Created parses CreatedAt in loc.
func (r Reminder) Created(loc *time.Location) (time.Time, error) {
	return parseDate(r.CreatedAt, loc)
}

// Elapsed is the time spent since the reminder was committed.
func (r Reminder) Elapsed(now time.Time) time.Duration {
	c, err := r.Created(now.Location())
	if err != nil || now.Before(c) {
		return 0
	}
	return now.Sub(c)
}

// HasPreDeadline reports whether a separate notification runs before the deadline.
func (r Reminder) HasPreDeadline() bool { return r.MinutesBefore > 0 }

// Repeats reports whether the deadline notification recurs.
func (r Reminder) Repeats() bool { return r.RepeatInterval > 0 }

// CheckRepeat bounds a repeat of n units by HorizonYears, so one step never
// overflows minute or duration arithmetic.
func CheckRepeat(n int, u Unit) error {
	switch {
	case n <= 0:
		return nil
	case u.Calendar():
		if n > HorizonYears {
			return ErrRepeatRange
		}
		return nil
	}
	per, ok := unitMinutes[u]
	if !ok {
		return ErrUnknownUnit
	}
	if n > horizonMinutes/per {
		return ErrRepeatRange
	}
	return nil
}

// checkRemindWindow enforces that all pre-deadline notifications happen
// strictly before the deadline.
func checkRemindWindow(minutesBefore, times, interval int) error {
	if minutesBefore > 0 && times > 1 && times*interval >= minutesBefore {
		return ErrRemindOverlap
	}
	return nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, ErrDateFormat
	}
	return t, nil
}
