// Package storage persists users, reminders, weather subscriptions and
// notifier dedup state.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite file database (default)
//   - "postgres": pgx connection pool, schema managed by golang-migrate
//   - "file": in-process maps with a JSON snapshot on disk
//   - "memory": in-process maps only (tests, dry runs)
//
// Time fields of reminders and subscriptions are stored as written by the
// caller; decoding and validation happen in the reminder package.
package storage
