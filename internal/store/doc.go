// Package store provides SQLite-backed durable storage for catsync.
//
// The store holds three tables:
//   - records: one row per catalog record, with a version column used for
//     optimistic concurrency
//   - audit_events: append-only mutation log (UPDATE and DELETE are rejected
//     by triggers)
//   - checkpoints: one sync watermark per record type
//
// # Atomic conditional apply
//
// ApplyRecord is the only way to write a record. It inserts (expected version
// 0) or updates (WHERE version = expected) the row and appends the mutation's
// audit events in a single transaction, so a record change is never
// acknowledged without its audit trail and a concurrent writer is detected as
// ErrVersionConflict instead of being overwritten.
//
// # Timestamps
//
// Times are stored as fixed-width UTC text so that lexical order is
// chronological order in range queries.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
