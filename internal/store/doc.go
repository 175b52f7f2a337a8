// Package store provides SQLite-backed durable state for the coldline engine.
//
// The store holds two tables:
//   - dead_letters: append-only log of permanently failed archival attempts,
//     kept until an operator resolves or requeues them. Rows are never deleted.
//   - scan_checkpoints: the last acknowledged scan cursor per named scanner,
//     so a restart resumes instead of rescanning the hot store.
//
// # Dead-letter lifecycle
//
//	open ──MarkRequeue──▶ pending_requeue ──ClaimRequeued──▶ requeued
//	  │
//	  └──Resolve──▶ resolved
//
// At most one open (or pending_requeue) entry exists per record key. A record
// that fails again while an open entry exists bumps that entry's attempt
// count and last reason; first_seen is preserved. Once an entry has been
// requeued or resolved, a later failure opens a fresh entry.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// OpenSQLite applies the same configuration for other SQLite-backed
// components (the sqlitehot adapter).
package store
