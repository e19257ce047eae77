// Package outbox implements the deferred-work queue of the sync layer.
//
// Ingest never schedules side effects directly. It appends intents to the
// tasks table inside its own transaction; the Worker drains them later.
//
// Delivery is at-least-once. Every handler re-reads the rows it acts on
// and treats a missing or already-terminal row as done, so a task that
// runs twice (crash after the handler committed, or the same intent
// appended by two batches) has no additional effect.
//
// Task kinds:
//   - finalize_turn: settle a turn, its streaming messages and streams
//   - cleanup_stream: purge a finished stream's deltas, then the stream
//   - timeout_stream: abort a stream that stopped heartbeating
//   - cleanup_expired_deltas: TTL sweep over stream_deltas
//   - timeout_stale_sessions: mark silent sessions stale
//
// Payloads are CBOR (Core Deterministic Encoding), so the same intent
// always produces the same bytes.
package outbox
