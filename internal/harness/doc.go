// Package harness runs scripted sync sessions against the real services.
//
// A scenario creates one thread, binds one session to it, and then walks a
// flow of steps: ingest batches, heartbeats, checkpoints, outbox drains,
// clock advances, replay pulls and cursor resumes. Every step lands in the
// trace with its outcome and its JSON result, and the trace can be compared
// against a golden file.
//
// # Scenario Format
//
//	name: turn_lifecycle
//	description: "A turn streams two deltas and completes"
//	thread: th-1
//	session: se-1
//	runtime:
//	  saveStreamDeltas: true
//	flow:
//	  - ingest:
//	      streamDeltas:
//	        - eventId: e1
//	          turnId: t1
//	          streamId: th-1:t1:0
//	          kind: item/agentMessage/delta
//	          params: { threadId: th-1, turnId: t1, itemId: m1, delta: "Hi" }
//	          cursorStart: 0
//	          cursorEnd: 1
//	    expect:
//	      result: { ingestStatus: ok }
//	  - advance: 1000
//	  - drain: true
//	  - resume: { turn: t1, from: 0, strict: true }
//	    expect:
//	      outcome: error
//	      code: E_SYNC_REPLAY_GAP
//	assertions:
//	  - type: final_state
//	    table: turns
//	    where: { turn_id: t1 }
//	    expect: { status: completed }
//
// # Assertion Types
//
//   - trace_contains: a successful step of a kind whose result contains the given fields
//   - trace_order: step kinds appear in the given order
//   - trace_count: a step kind appears exactly N times
//   - final_state: exactly one row of a table matches and carries the given values
//
// # Determinism
//
// Each run gets a fresh in-memory store, a testutil.ManualClock that only
// moves on advance steps, and a testutil.FixedIDs shared by the ingest
// service and the outbox worker. The same scenario always yields the same
// trace.
package harness
