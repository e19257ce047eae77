package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/ingest"
	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/replay"
)

// Scenario is a scripted sync session: a thread, a session bound to it, and
// a flow of ingest, worker, clock and replay steps with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Actor owns the thread. Defaults to user "user-1".
	Actor model.Actor `yaml:"actor,omitempty"`

	// Thread is created before the flow runs.
	Thread string `yaml:"thread"`

	// Session is bound to Thread before the flow runs.
	Session string `yaml:"session"`

	// Runtime applies to every ingest and replay step.
	Runtime *config.RuntimeInput `yaml:"runtime,omitempty"`

	// Start is the initial clock value in unix milliseconds.
	Start int64 `yaml:"start,omitempty"`

	// Flow is executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is the clock value scenarios start at unless they set one.
const DefaultStart = int64(1_700_000_000_000)

// Step kinds.
const (
	StepIngest     = "ingest"
	StepHeartbeat  = "heartbeat"
	StepCheckpoint = "checkpoint"
	StepReplay     = "replay"
	StepResume     = "resume"
	StepDrain      = "drain"
	StepAdvance    = "advance"
)

// Step is one flow entry. Exactly one of the action fields is set.
type Step struct {
	Ingest     *IngestStep     `yaml:"ingest,omitempty"`
	Heartbeat  *HeartbeatStep  `yaml:"heartbeat,omitempty"`
	Checkpoint *CheckpointStep `yaml:"checkpoint,omitempty"`
	Replay     *ReplayStep     `yaml:"replay,omitempty"`
	Resume     *ResumeStep     `yaml:"resume,omitempty"`

	// Drain runs every outbox task that is due.
	Drain bool `yaml:"drain,omitempty"`

	// Advance moves the clock forward by this many milliseconds.
	Advance int64 `yaml:"advance,omitempty"`

	// Expect validates the step's outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Kind returns the step kind, or "" when no action field is set.
func (s Step) Kind() string {
	switch {
	case s.Ingest != nil:
		return StepIngest
	case s.Heartbeat != nil:
		return StepHeartbeat
	case s.Checkpoint != nil:
		return StepCheckpoint
	case s.Replay != nil:
		return StepReplay
	case s.Resume != nil:
		return StepResume
	case s.Drain:
		return StepDrain
	case s.Advance > 0:
		return StepAdvance
	default:
		return ""
	}
}

func (s Step) actionCount() int {
	n := 0
	for _, set := range []bool{s.Ingest != nil, s.Heartbeat != nil, s.Checkpoint != nil, s.Replay != nil, s.Resume != nil, s.Drain, s.Advance > 0} {
		if set {
			n++
		}
	}
	return n
}

// Event is a wire event written in scenario form. Params is wrapped into a
// {"method": kind, "params": ...} notification unless PayloadJSON is set.
type Event struct {
	EventID     string         `yaml:"eventId"`
	TurnID      string         `yaml:"turnId,omitempty"`
	StreamID    string         `yaml:"streamId,omitempty"`
	Kind        string         `yaml:"kind"`
	Params      map[string]any `yaml:"params,omitempty"`
	PayloadJSON string         `yaml:"payloadJson,omitempty"`
	CursorStart int64          `yaml:"cursorStart,omitempty"`
	CursorEnd   int64          `yaml:"cursorEnd,omitempty"`
	CreatedAt   int64          `yaml:"createdAt,omitempty"`
}

func (e Event) payload() (string, error) {
	if e.PayloadJSON != "" {
		return e.PayloadJSON, nil
	}
	params := e.Params
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(map[string]any{"method": e.Kind, "params": params})
	if err != nil {
		return "", fmt.Errorf("event %s: %w", e.EventID, err)
	}
	return string(data), nil
}

// IngestStep sends one batch.
type IngestStep struct {
	// Session overrides the scenario session for this batch.
	Session string `yaml:"session,omitempty"`

	// Safe routes the batch through SafeIngest.
	Safe bool `yaml:"safe,omitempty"`

	// EnsureLastEventCursor seeds a rolled-over session (safe only).
	EnsureLastEventCursor int64 `yaml:"ensureLastEventCursor,omitempty"`

	StreamDeltas    []Event `yaml:"streamDeltas,omitempty"`
	LifecycleEvents []Event `yaml:"lifecycleEvents,omitempty"`
}

// HeartbeatStep refreshes a session.
type HeartbeatStep struct {
	Session string `yaml:"session,omitempty"`
	Cursor  int64  `yaml:"cursor"`
}

// CheckpointStep acknowledges a stream cursor.
type CheckpointStep struct {
	Stream string `yaml:"stream"`
	Cursor int64  `yaml:"cursor"`
}

// ReplayStep pulls state for a set of stream cursors.
type ReplayStep struct {
	Cursors []replay.StreamCursor `yaml:"cursors"`
}

// ResumeStep resumes the primary stream of a turn.
type ResumeStep struct {
	Turn   string `yaml:"turn"`
	From   int64  `yaml:"from"`
	Strict bool   `yaml:"strict,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is "ok" or "error". Defaults to "ok".
	Outcome string `yaml:"outcome,omitempty"`

	// Code is the expected sync error code when Outcome is "error".
	Code string `yaml:"code,omitempty"`

	// Result contains expected result field values.
	// This is a subset match - only specified fields are validated.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check a step kind appears with a matching result
	// - "trace_order": Check step kinds appear in order
	// - "trace_count": Check a step kind appears exactly N times
	// - "final_state": Query table and verify expected values
	Type string `yaml:"type"`

	// Step is the step kind (used by trace_contains, trace_count).
	Step string `yaml:"step,omitempty"`

	// Result is the expected step result (used by trace_contains).
	// Subset match - only specified fields are validated.
	Result map[string]any `yaml:"result,omitempty"`

	// Table is the state table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Steps is the expected step order (used by trace_order).
	Steps []string `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Thread == "" {
		return fmt.Errorf("thread is required")
	}
	if s.Session == "" {
		return fmt.Errorf("session is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		switch step.actionCount() {
		case 0:
			return fmt.Errorf("flow[%d]: one of ingest, heartbeat, checkpoint, replay, resume, drain or advance is required", i)
		case 1:
		default:
			return fmt.Errorf("flow[%d]: exactly one action per step", i)
		}
		if step.Ingest != nil && len(step.Ingest.StreamDeltas) == 0 && len(step.Ingest.LifecycleEvents) == 0 {
			// Empty batches are legal input; the engine rejects them.
			if step.Expect == nil || step.Expect.Outcome != OutcomeError {
				return fmt.Errorf("flow[%d]: an empty ingest must expect an error", i)
			}
		}
		if e := step.Expect; e != nil {
			switch e.Outcome {
			case "", OutcomeOK:
				if e.Code != "" {
					return fmt.Errorf("flow[%d].expect: code requires outcome %q", i, OutcomeError)
				}
			case OutcomeError:
			default:
				return fmt.Errorf("flow[%d].expect: unknown outcome %q", i, e.Outcome)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toStreamDeltas converts scenario events into ingest stream deltas.
func toStreamDeltas(events []Event) ([]ingest.StreamDelta, error) {
	out := make([]ingest.StreamDelta, 0, len(events))
	for _, e := range events {
		payload, err := e.payload()
		if err != nil {
			return nil, err
		}
		out = append(out, ingest.StreamDelta{
			EventID:     e.EventID,
			TurnID:      e.TurnID,
			StreamID:    e.StreamID,
			Kind:        e.Kind,
			PayloadJSON: payload,
			CursorStart: e.CursorStart,
			CursorEnd:   e.CursorEnd,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out, nil
}

// toLifecycleEvents converts scenario events into ingest lifecycle events.
func toLifecycleEvents(events []Event) ([]ingest.LifecycleEvent, error) {
	out := make([]ingest.LifecycleEvent, 0, len(events))
	for _, e := range events {
		payload, err := e.payload()
		if err != nil {
			return nil, err
		}
		out = append(out, ingest.LifecycleEvent{
			EventID:     e.EventID,
			TurnID:      e.TurnID,
			Kind:        e.Kind,
			PayloadJSON: payload,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out, nil
}
