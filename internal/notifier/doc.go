// Package notifier delivers outbound messages asynchronously: a bounded
// queue, a small worker pool, a token-bucket rate limit, retries with
// backoff and duplicate suppression.
//
// Duplicate suppression keys on Notification.Key when set, otherwise on a
// hash of target, priority and text. Keys can be persisted in the job store
// so a reminder re-fired after a crash is not delivered twice.
package notifier
