// Package reminder commits tasks and reminders as jobs, keeps their
// triggers installed in the scheduler and answers listing, completion and
// cancellation requests.
//
// A reminder becomes up to two jobs: the deadline job under the task name
// and a pre-deadline job under PreDeadlinePrefix+name. Both fire into the
// notifier; an exhausted trigger deletes its job.
package reminder
