// Package replay is the read side of the sync layer. It rebuilds the view a
// reconnecting client needs from the deltas still buffered in the store.
//
// For every stream the client names, a window is computed:
//
//  1. The effective cursor is the larger of the client cursor and the
//     stored checkpoint.
//  2. If the earliest retained delta starts after it, the window jumps
//     forward to that delta and is marked rebased.
//  3. Deltas from the effective cursor are read within the per-stream and
//     per-request budgets, and only the contiguous prefix is returned.
//  4. An empty prefix while the stream's stats show progress past the
//     effective cursor marks the window stale. The client must resync
//     from durable state.
//
// Streams are processed in caller order. Once the request budget is spent,
// the remaining streams are left out of the result entirely and the client
// asks again on its next poll.
//
// ResumeFromCursor runs the same window for the primary stream of a turn but
// starts from the caller's cursor as given, ignoring the checkpoint.
//
// All reads of one call run in a single read-only transaction.
package replay
