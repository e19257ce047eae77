package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Step: StepIngest, Outcome: OutcomeOK, Result: map[string]any{
			"ingestStatus": "ok",
			"ackedStreams": []any{map[string]any{"streamId": "s1", "ackCursorEnd": float64(3)}},
		}},
		{Seq: 2, Step: StepDrain, Outcome: OutcomeOK, Result: map[string]any{"ran": float64(2)}},
		{Seq: 3, Step: StepResume, Outcome: OutcomeError, Code: "E_SYNC_REPLAY_GAP"},
		{Seq: 4, Step: StepReplay, Outcome: OutcomeOK, Result: map[string]any{"deltas": []any{}}},
	}
}

func TestAssertTraceContains(t *testing.T) {
	tests := []struct {
		name   string
		step   string
		result map[string]any
		found  bool
	}{
		{"step only", StepDrain, nil, true},
		{"subset of result", StepIngest, map[string]any{"ingestStatus": "ok"}, true},
		{"nested subset", StepIngest, map[string]any{
			"ackedStreams": []any{map[string]any{"ackCursorEnd": 3}},
		}, true},
		{"value mismatch", StepIngest, map[string]any{"ingestStatus": "partial"}, false},
		{"slice length mismatch", StepIngest, map[string]any{"ackedStreams": []any{}}, false},
		{"failed steps never match", StepResume, nil, false},
		{"absent step", StepHeartbeat, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Step: tt.step, Result: tt.result})
			if tt.found {
				assert.NoError(t, err)
				return
			}
			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, AssertTraceContains, aerr.Type)
			assert.Equal(t, "not found in trace", aerr.Actual)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Steps: []string{StepIngest, StepResume}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Steps: []string{StepIngest, StepDrain, StepReplay}}), "intervening steps are allowed")

	err := assertTraceOrder(trace, Assertion{Steps: []string{StepReplay, StepIngest}})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Actual, "missing step ingest")

	err = assertTraceOrder(trace, Assertion{Steps: []string{StepHeartbeat}})
	require.Error(t, err)
}

func TestAssertTraceOrder_RepeatedSteps(t *testing.T) {
	trace := []TraceEvent{{Step: StepIngest}, {Step: StepDrain}, {Step: StepIngest}}

	assert.NoError(t, assertTraceOrder(trace, Assertion{Steps: []string{StepIngest, StepDrain, StepIngest}}))
	assert.Error(t, assertTraceOrder(trace, Assertion{Steps: []string{StepIngest, StepIngest, StepDrain}}))
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Step: StepIngest, Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Step: StepResume, Count: 1}), "failed steps count")
	assert.NoError(t, assertTraceCount(trace, Assertion{Step: StepHeartbeat, Count: 0}))

	err := assertTraceCount(trace, Assertion{Step: StepIngest, Count: 2})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "2 occurrences of ingest", aerr.Expected)
	assert.Equal(t, "1 occurrences", aerr.Actual)
}

func TestMatchSubset(t *testing.T) {
	actual := map[string]any{
		"a": "x",
		"b": float64(2),
		"c": map[string]any{"d": true, "e": "extra"},
		"f": []any{float64(1), float64(2)},
	}

	assert.True(t, matchSubset(actual, map[string]any{}))
	assert.True(t, matchSubset(actual, map[string]any{"a": "x"}))
	assert.True(t, matchSubset(actual, map[string]any{"c": map[string]any{"d": true}}))
	assert.True(t, matchSubset(actual, map[string]any{"f": []any{float64(1), float64(2)}}))

	assert.False(t, matchSubset(actual, map[string]any{"missing": "x"}))
	assert.False(t, matchSubset(actual, map[string]any{"b": "2"}))
	assert.False(t, matchSubset(actual, map[string]any{"f": []any{float64(1)}}))
	assert.False(t, matchSubset(nil, map[string]any{"a": "x"}))
	assert.False(t, matchSubset("scalar", map[string]any{}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 occurrences of ingest",
		Actual:   "1 occurrences",
		Trace:    sampleTrace()[2:3],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 occurrences of ingest")
	assert.Contains(t, msg, "Actual: 1 occurrences")
	assert.Contains(t, msg, "[3] resume error E_SYNC_REPLAY_GAP")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	sql, args, err = buildWhereClause(map[string]any{"turn_id": "t1", "thread_id": "th-1"})
	require.NoError(t, err)
	assert.Equal(t, "thread_id = ? AND turn_id = ?", sql, "keys are sorted")
	assert.Equal(t, []any{"th-1", "t1"}, args)

	sql, args, err = buildWhereClause(map[string]any{"name": "'; DROP TABLE turns; --"})
	require.NoError(t, err)
	assert.Equal(t, "name = ?", sql)
	assert.Equal(t, []any{"'; DROP TABLE turns; --"}, args, "values are bound, never interpolated")

	_, _, err = buildWhereClause(map[string]any{"id; DROP": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestToSQLValue(t *testing.T) {
	assert.Equal(t, "x", toSQLValue("x"))
	assert.Equal(t, 3, toSQLValue(3))
	assert.Equal(t, int64(3), toSQLValue(float64(3)))
	assert.Equal(t, 2.5, toSQLValue(2.5))
	assert.Equal(t, true, toSQLValue(true))
	assert.Equal(t, "[a]", toSQLValue([]any{"a"}))
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"strings", "a", "a", true},
		{"string from bytes", "a", []byte("a"), true},
		{"string mismatch", "a", "b", false},
		{"int vs int64", 5, int64(5), true},
		{"int64", int64(5), int64(5), true},
		{"float vs int64", float64(5), int64(5), true},
		{"int vs string", 5, "5", false},
		{"bool vs int64", true, int64(1), true},
		{"false vs int64", false, int64(0), true},
		{"both nil", nil, nil, true},
		{"nil expected", nil, "a", false},
		{"nil actual", "a", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func createTestTable(t *testing.T, st *store.Store) {
	t.Helper()
	_, err := st.DB().Exec(`
		CREATE TABLE test_items (
			item_id TEXT PRIMARY KEY,
			quantity INTEGER,
			status TEXT,
			active INTEGER
		)
	`)
	require.NoError(t, err)
}

func TestAssertFinalState(t *testing.T) {
	st := setupTestStore(t)
	createTestTable(t, st)
	_, err := st.DB().Exec(`INSERT INTO test_items (item_id, quantity, status, active) VALUES (?, ?, ?, ?), (?, ?, ?, ?)`,
		"widget", 10, "available", 1,
		"gadget", 3, "available", 0)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		assertion Assertion
		actual    string
	}{
		{
			name: "row found",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "widget"},
				Expect: map[string]any{"quantity": 10, "status": "available", "active": true}},
		},
		{
			name: "multiple where conditions",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"status": "available", "active": 0},
				Expect: map[string]any{"item_id": "gadget"}},
		},
		{
			name: "row not found",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "nothing"},
				Expect: map[string]any{"quantity": 10}},
			actual: "row not found",
		},
		{
			name: "ambiguous",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"status": "available"},
				Expect: map[string]any{"quantity": 10}},
			actual: "multiple rows matched (assertion is ambiguous)",
		},
		{
			name: "value mismatch",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "widget"},
				Expect: map[string]any{"quantity": 11}},
			actual: `field "quantity" = 10 (type int64)`,
		},
		{
			name: "missing column",
			assertion: Assertion{Table: "test_items", Where: map[string]any{"item_id": "widget"},
				Expect: map[string]any{"colour": "red"}},
			actual: `field "colour" not present`,
		},
		{
			name: "table not found",
			assertion: Assertion{Table: "nope", Expect: map[string]any{"a": 1}},
			actual:    "query error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.actual == "" {
				assert.NoError(t, err)
				return
			}
			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Contains(t, aerr.Actual, tt.actual)
		})
	}
}

func TestAssertFinalState_InvalidTableName(t *testing.T) {
	st := setupTestStore(t)
	err := assertFinalState(context.Background(), st, Assertion{Table: "turns; DROP TABLE turns", Expect: map[string]any{"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Pass: true, Trace: sampleTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Step: StepIngest, Count: 1},
		{Type: AssertTraceContains, Step: StepHeartbeat},
		{Type: "bogus"},
		{Type: AssertFinalState, Table: "turns", Expect: map[string]any{"status": "completed"}},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "trace_contains")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
	assert.Contains(t, errs[2], "final_state requires database context")
}
