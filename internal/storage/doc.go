// Package storage is the durable job table of remindbot.
//
// A job is keyed by (owner, name) and optionally carries a trigger
// descriptor with its fire state. Besides jobs the store keeps notifier
// dedup marks and an audit trail of user actions.
//
// Drivers:
//   - "sqlite" (default): modernc.org/sqlite, single writer, WAL
//   - "postgres": github.com/lib/pq, DSN from config
//   - "file": JSON snapshot plus append-only journal
//   - "memory": process-local, for tests and dry runs
package storage
