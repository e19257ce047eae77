// Package store provides SQLite-backed durable storage for the sync layer.
//
// Tables:
//   - threads, turns, messages, approvals: the durable conversation view
//   - streams, stream_stats: cursor lanes and their running counters
//   - stream_deltas: persisted payloads (TTL, zstd-compressed when large)
//   - stream_events: the ingest ledger of every accepted stream event
//   - stream_checkpoints: highest acknowledged cursor per stream
//   - sessions, lifecycle_events, reasoning_segments
//   - tasks: the outbox of deferred jobs
//
// # Access Pattern
//
// Every read and write goes through a Tx obtained from WithTx or View.
// The connection pool is capped at one connection, so a Tx is the unit of
// serialization: an ingest batch or an outbox task runs as if single-threaded.
//
// # Deterministic Query Results
//
// Every list query has a total ORDER BY (cursor or order column, then key
// columns), and list reads return empty slices rather than nil.
//
// Writes that may be replayed use ON CONFLICT DO NOTHING or monotonic
// upserts so retries are idempotent.
package store
