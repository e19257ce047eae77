// Package ingest applies batches of agent-runtime events to the durable store.
//
// One call to Service.Ingest is one SQLite transaction:
//
//  1. Normalize: decode every payload once, sort by createdAt, resolve the
//     canonical turn id and derive the per-event projections.
//  2. Guard: the thread must belong to the actor and the batch's session
//     must exist, belong to the actor and be bound to the thread.
//  3. Apply, event by event: ensure the turn, admit the event (the
//     lifecycle row, or the stream cursor state machine and its ledger),
//     then project turn signals, approval signals and messages. Events
//     already admitted by an earlier batch are not projected again.
//  4. Settle: flush the buffered message patches, finalize turns, write
//     approvals, flush stream stats, write checkpoints, patch the session
//     and append maintenance tasks.
//
// Any error rolls the whole batch back. Side effects that must outlive the
// transaction (turn finalization, stream cleanup and timeouts, TTL sweeps)
// are appended to the outbox and run by outbox.Worker after commit.
//
// SafeIngest wraps Ingest for host adapters: it never returns a sync error,
// classifies failures into a small code set and recovers session-binding
// errors by rolling over to a fresh session exactly once.
package ingest
