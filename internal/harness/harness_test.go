package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func mustRun(t *testing.T, s *Scenario) *Result {
	t.Helper()
	res, err := Run(s)
	require.NoError(t, err)
	return res
}

const textDeltaScenario = `
name: text_delta
description: "One unpersisted text delta on the primary stream of t1"
thread: th-1
session: se-1
flow:
  - ingest:
      streamDeltas:
        - eventId: e1
          turnId: t1
          streamId: "th-1:t1:0"
          kind: item/agentMessage/delta
          params: { turnId: t1, itemId: m1, delta: "hello" }
          cursorStart: 0
          cursorEnd: 1
  - resume: { turn: t1, from: 0 }
    expect:
      result:
        deltas: []
        nextCursor: 0
        window: { status: stale }
  - resume: { turn: t1, from: 0, strict: true }
    expect: { outcome: error, code: E_SYNC_REPLAY_GAP }
`

func TestRun_LoadedScenarioPasses(t *testing.T) {
	files, err := CollectScenarioFiles([]string{"testdata/scenarios"})
	require.NoError(t, err)

	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			res := mustRun(t, s)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
			assert.Len(t, res.Trace, len(s.Flow))
		})
	}
}

func TestRun_StaleWindowAndStrictResume(t *testing.T) {
	res := mustRun(t, mustParse(t, textDeltaScenario))

	require.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Trace, 3)
	assert.Equal(t, OutcomeOK, res.Trace[1].Outcome)
	assert.Equal(t, OutcomeError, res.Trace[2].Outcome)
	assert.Equal(t, "E_SYNC_REPLAY_GAP", res.Trace[2].Code)
	assert.Equal(t, []int64{1, 2, 3}, []int64{res.Trace[0].Seq, res.Trace[1].Seq, res.Trace[2].Seq})
}

func TestRun_StepErrorIsTracedNotFatal(t *testing.T) {
	res := mustRun(t, mustParse(t, `
name: out_of_order
description: "A second event behind the stream cursor is rejected"
thread: th-1
session: se-1
flow:
  - ingest:
      streamDeltas:
        - { eventId: e1, turnId: t1, streamId: s1, kind: item/agentMessage/delta, params: { turnId: t1, itemId: m1, delta: x }, cursorStart: 0, cursorEnd: 2 }
  - ingest:
      streamDeltas:
        - { eventId: e2, turnId: t1, streamId: s1, kind: item/agentMessage/delta, params: { turnId: t1, itemId: m1, delta: x }, cursorStart: 1, cursorEnd: 3 }
    expect: { outcome: error, code: E_SYNC_OUT_OF_ORDER }
  - replay:
      cursors: [ { streamId: s1, cursor: 0 } ]
assertions:
  - type: trace_contains
    step: replay
    result:
      nextCheckpoints: [ { streamId: s1, cursor: 2 } ]
`))

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Trace, 3)
	failed, ok := res.Trace[1].Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, failed["message"], "E_SYNC_OUT_OF_ORDER")
}

func TestRun_UnmetExpectationsFail(t *testing.T) {
	res := mustRun(t, mustParse(t, `
name: wrong
description: "Expectations that do not hold"
thread: th-1
session: se-1
flow:
  - ingest:
      streamDeltas:
        - { eventId: e1, turnId: t1, streamId: s1, kind: item/agentMessage/delta, params: { turnId: t1, itemId: m1, delta: x }, cursorStart: 0, cursorEnd: 1 }
    expect:
      result: { ingestStatus: partial }
  - resume: { turn: t2, from: 0 }
  - ingest: {}
    expect: { outcome: error, code: E_SYNC_OUT_OF_ORDER }
assertions:
  - type: trace_count
    step: drain
    count: 1
  - type: final_state
    table: turns
    where: { turn_id: t1 }
    expect: { status: completed }
`))

	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 5)
	assert.Contains(t, res.Errors[0], "flow[0] ingest: result")
	assert.Contains(t, res.Errors[1], "flow[1] resume: expected outcome ok, got error E_SYNC_TURN_NOT_FOUND")
	assert.Contains(t, res.Errors[2], "flow[2] ingest: expected code E_SYNC_OUT_OF_ORDER, got E_SYNC_EMPTY_BATCH")
	assert.Contains(t, res.Errors[3], "trace_count")
	assert.Contains(t, res.Errors[4], `field "status" = inProgress`)
}

func TestRun_SafeIngestRollsOverSession(t *testing.T) {
	res := mustRun(t, mustParse(t, `
name: rollover
description: "SafeIngest replaces an unknown session"
thread: th-1
session: se-1
flow:
  - ingest:
      safe: true
      session: se-gone
      ensureLastEventCursor: 7
      streamDeltas:
        - eventId: e1
          turnId: t1
          streamId: s1
          kind: turn/started
          params: { threadId: th-1, turn: { id: t1, status: inProgress } }
          cursorStart: 0
          cursorEnd: 1
    expect:
      result:
        status: session_recovered
        recovery: { action: session_rolled_over, previousSessionId: se-gone, threadId: th-1 }
        errors: []
assertions:
  - type: final_state
    table: turns
    where: { turn_id: t1 }
    expect: { status: inProgress }
`))

	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestRun_AdvanceAndCheckpoint(t *testing.T) {
	res := mustRun(t, mustParse(t, `
name: clock
description: "Advance moves the manual clock; checkpoints are monotonic"
thread: th-1
session: se-1
start: 5000
flow:
  - advance: 250
    expect:
      result: { now: 5250 }
  - checkpoint: { stream: s1, cursor: 9 }
  - checkpoint: { stream: s1, cursor: 4 }
assertions:
  - type: final_state
    table: stream_checkpoints
    where: { stream_id: s1 }
    expect: { ack_cursor: 9, updated_at: 5250 }
`))

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Nil(t, res.Trace[1].Result, "checkpoint returns nothing")
}

func TestRun_AnonymousActorScope(t *testing.T) {
	res := mustRun(t, mustParse(t, `
name: anon
description: "Rows are stamped with the anonymous scope"
actor: { anonymousId: device-9 }
thread: th-1
session: se-1
flow:
  - heartbeat: { cursor: 3 }
assertions:
  - type: final_state
    table: threads
    where: { thread_id: th-1 }
    expect: { scope: "anon:device-9" }
`))

	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	s := mustParse(t, textDeltaScenario)

	first := mustRun(t, s)
	second := mustRun(t, s)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	s := mustParse(t, textDeltaScenario)

	// A shared store would reject the second run's e1 as a ledger repeat
	// and the trace would differ.
	mustRun(t, s)
	res := mustRun(t, s)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestRunContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunContext(ctx, mustParse(t, textDeltaScenario))
	require.Error(t, err)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestCheckExpect(t *testing.T) {
	ok := TraceEvent{Step: StepDrain, Outcome: OutcomeOK, Result: map[string]any{"ran": float64(1)}}
	failed := TraceEvent{Step: StepResume, Outcome: OutcomeError, Code: "E_SYNC_REPLAY_GAP"}

	assert.Empty(t, checkExpect(0, nil, ok))
	assert.NotEmpty(t, checkExpect(0, nil, failed))
	assert.Empty(t, checkExpect(0, &ExpectClause{Result: map[string]any{"ran": 1}}, ok))
	assert.NotEmpty(t, checkExpect(0, &ExpectClause{Result: map[string]any{"ran": 2}}, ok))
	assert.Empty(t, checkExpect(0, &ExpectClause{Outcome: OutcomeError}, failed))
	assert.Empty(t, checkExpect(0, &ExpectClause{Outcome: OutcomeError, Code: "E_SYNC_REPLAY_GAP"}, failed))
	assert.NotEmpty(t, checkExpect(0, &ExpectClause{Outcome: OutcomeError, Code: "E_SYNC_OUT_OF_ORDER"}, failed))
}
