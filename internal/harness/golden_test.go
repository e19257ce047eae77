package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_ResumeTurn(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/resume_turn.yaml")
	require.NoError(t, err)

	res, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestAssertGolden_FromResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/resume_turn.yaml")
	require.NoError(t, err)

	res, err := Run(s)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "resume_turn", res))
}

func TestTraceSnapshot_Marshal(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "x",
		Trace: []TraceEvent{
			{Seq: 1, Step: StepDrain, Outcome: OutcomeOK, Result: map[string]any{"ran": float64(0)}},
			{Seq: 2, Step: StepCheckpoint, Outcome: OutcomeOK},
			{Seq: 3, Step: StepResume, Outcome: OutcomeError, Code: "E_SYNC_REPLAY_GAP", Result: map[string]any{"message": "gap"}},
		},
	}

	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	trace := decoded["trace"].([]any)
	require.Len(t, trace, 3)
	assert.NotContains(t, trace[1], "result", "empty results are omitted")
	assert.NotContains(t, trace[0], "code")
	assert.Equal(t, "E_SYNC_REPLAY_GAP", trace[2].(map[string]any)["code"])
}
