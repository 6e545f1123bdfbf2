// Package storage persists per-query throttle state.
//
// Each record maps a query key (e.g. "daily/cleanup.sql") to the unix time
// (seconds) at which the query becomes eligible to run again. Records are
// written on every dispatch and never deleted; entries for removed files are
// harmless.
//
// Backends:
//   - "file": dependency-free JSONL journal + periodic snapshot
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "redis": a single Redis hash shared by all keys
//   - "memory": process-local map (tests, -once dry runs)
package storage
