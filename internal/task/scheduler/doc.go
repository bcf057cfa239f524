// Package scheduler turns schedules into engine tasks.
//
// Two kinds of entries share one robfig/cron runner:
//   - maintenance schedules (cron specs, "@every" or plain intervals)
//   - job triggers (once, interval, calendar, repeat) whose progress is
//     reported back with every fire so the caller can persist it
//
// Execution happens in the task engine; the scheduler only decides when.
package scheduler
