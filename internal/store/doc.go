// Package store provides SQLite-backed durable storage for camino.
//
// One database holds all engine state:
//   - Templates: published playbook versions (immutable once written)
//   - Journeys: journey headers plus their step responses
//   - Knowledge: per-organization knowledge aggregates and fields
//   - Jobs: the enrichment job queue with lease and dead-letter state
//
// # Concurrency Patterns
//
// Optimistic writes
//   - Journeys: UPDATE ... WHERE updated_at = <expected>; zero rows
//     affected means a concurrent writer won and the caller retries.
//   - Knowledge: an integer version column, bumped on every merge;
//     stale versions fail with VersionConflictError.
//
// Idempotent enqueue
//   - UNIQUE(journey_id, kind) on enrichment_jobs
//   - INSERT ... ON CONFLICT reports whether the call changed anything,
//     so duplicate completion events coalesce into one job.
//
// Single active journey
//   - Partial unique index on (owner_id, playbook_id) WHERE status !=
//     'completed' backstops the engine's own check.
//
// Deterministic reads
//   - List queries order by stable keys (seq, step_index, field name),
//     never by wall-clock alone.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are RFC 3339 UTC text except job readiness columns
// (not_before, lease_expires_at), which are unix milliseconds so the
// queue's comparisons stay numeric.
package store
