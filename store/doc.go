// Package store provides EventStore implementations: a volatile in-memory
// store for tests and ephemeral workers, and a SQLite-backed store for
// durable single-host deployments. Both honor the same contract: strictly
// ordered append-only partitions, idempotent append, filtered forward scans,
// and whole-read failure on corrupt records.
package store
