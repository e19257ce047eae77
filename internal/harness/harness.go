package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/streamsync/internal/ingest"
	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/outbox"
	"github.com/roach88/streamsync/internal/replay"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/testutil"
)

// DefaultUser owns the thread of a scenario that names no actor.
const DefaultUser = "user-1"

// Harness is the test execution engine.
// It runs scenarios against the real ingest, outbox and replay services
// with a manual clock and fixed ids.
type Harness struct {
	store    *store.Store
	clock    *testutil.ManualClock
	ingest   *ingest.Service
	worker   *outbox.Worker
	replay   *replay.Service
	logger   *slog.Logger
	scenario *Scenario
	actor    model.Actor
	seq      int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Create fresh in-memory database
// 2. Create the thread and bind the session
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace and the final tables
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, scenario)
	if err := h.setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	if err := h.executeFlow(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) *Harness {
	start := scenario.Start
	if start == 0 {
		start = DefaultStart
	}
	actor := scenario.Actor
	if actor.UserID == "" && actor.AnonymousID == "" {
		actor.UserID = DefaultUser
	}

	clock := testutil.NewManualClock(start)
	ids := testutil.NewFixedIDs("id")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	// The worker is driven by drain steps, never by its own loop, so it is
	// not registered as the ingest notifier.
	worker := outbox.New(st,
		outbox.WithClock(clock),
		outbox.WithIDs(ids),
		outbox.WithLogger(logger),
	)
	return &Harness{
		store: st,
		clock: clock,
		ingest: ingest.New(st,
			ingest.WithClock(clock),
			ingest.WithIDs(ids),
			ingest.WithLogger(logger),
			ingest.WithRuntimeDefaults(scenario.Runtime),
		),
		worker: worker,
		replay: replay.New(st,
			replay.WithLogger(logger),
			replay.WithRuntimeDefaults(scenario.Runtime),
		),
		logger:   logger,
		scenario: scenario,
		actor:    actor,
	}
}

func (h *Harness) setup(ctx context.Context) error {
	if _, err := h.ingest.EnsureThread(ctx, h.actor, h.scenario.Thread, "", ""); err != nil {
		return err
	}
	_, err := h.ingest.EnsureSession(ctx, ingest.SessionArgs{
		Actor:     h.actor,
		SessionID: h.scenario.Session,
		ThreadID:  h.scenario.Thread,
	})
	return err
}

// executeFlow runs all flow steps and validates expect clauses.
// A failed step is recorded in the trace and the flow continues; only
// harness faults (bad events, cancelled context) abort the run.
func (h *Harness) executeFlow(ctx context.Context, result *Result) error {
	for i, step := range h.scenario.Flow {
		value, stepErr := h.executeStep(ctx, step)
		if stepErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		h.seq++
		ev := TraceEvent{Seq: h.seq, Step: step.Kind(), Outcome: OutcomeOK}
		if stepErr != nil {
			code := model.CodeOf(stepErr)
			if code == "" {
				return fmt.Errorf("flow step %d (%s): %w", i, step.Kind(), stepErr)
			}
			ev.Outcome = OutcomeError
			ev.Code = string(code)
			value = map[string]any{"message": stepErr.Error()}
		}
		normalized, err := normalize(value)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		ev.Result = normalized
		result.AddTrace(ev)

		if msg := checkExpect(i, step.Expect, ev); msg != "" {
			result.AddError(msg)
		}

		h.logger.Info("flow step completed",
			"step", i,
			"kind", ev.Step,
			"outcome", ev.Outcome,
			"code", ev.Code,
		)
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) (any, error) {
	switch step.Kind() {
	case StepIngest:
		return h.runIngest(ctx, step.Ingest)
	case StepHeartbeat:
		return h.ingest.EnsureSession(ctx, ingest.SessionArgs{
			Actor:           h.actor,
			SessionID:       h.session(step.Heartbeat.Session),
			ThreadID:        h.scenario.Thread,
			LastEventCursor: step.Heartbeat.Cursor,
		})
	case StepCheckpoint:
		return nil, h.ingest.UpsertCheckpoint(ctx, ingest.CheckpointArgs{
			Actor:    h.actor,
			ThreadID: h.scenario.Thread,
			StreamID: step.Checkpoint.Stream,
			Cursor:   step.Checkpoint.Cursor,
		})
	case StepReplay:
		return h.replay.PullState(ctx, replay.Args{
			Actor:             h.actor,
			ThreadID:          h.scenario.Thread,
			StreamCursorsByID: step.Replay.Cursors,
		})
	case StepResume:
		return h.replay.ResumeFromCursor(ctx, replay.ResumeArgs{
			Actor:      h.actor,
			ThreadID:   h.scenario.Thread,
			TurnID:     step.Resume.Turn,
			FromCursor: step.Resume.From,
			Strict:     step.Resume.Strict,
		})
	case StepDrain:
		ran, err := h.worker.RunOnce(ctx)
		return map[string]any{"ran": ran}, err
	case StepAdvance:
		now := h.clock.Advance(time.Duration(step.Advance) * time.Millisecond)
		return map[string]any{"now": now}, nil
	}
	return nil, fmt.Errorf("step has no action")
}

func (h *Harness) runIngest(ctx context.Context, step *IngestStep) (any, error) {
	deltas, err := toStreamDeltas(step.StreamDeltas)
	if err != nil {
		return nil, err
	}
	lifecycle, err := toLifecycleEvents(step.LifecycleEvents)
	if err != nil {
		return nil, err
	}
	args := ingest.Args{
		Actor:           h.actor,
		SessionID:       h.session(step.Session),
		ThreadID:        h.scenario.Thread,
		StreamDeltas:    deltas,
		LifecycleEvents: lifecycle,
	}
	if step.Safe {
		return h.ingest.SafeIngest(ctx, ingest.SafeArgs{Args: args, EnsureLastEventCursor: step.EnsureLastEventCursor})
	}
	return h.ingest.Ingest(ctx, args)
}

func (h *Harness) session(override string) string {
	if override != "" {
		return override
	}
	return h.scenario.Session
}

// checkExpect returns an error message when ev does not satisfy expect.
// A nil expect requires success.
func checkExpect(index int, expect *ExpectClause, ev TraceEvent) string {
	wantOutcome := OutcomeOK
	if expect != nil && expect.Outcome != "" {
		wantOutcome = expect.Outcome
	}
	if ev.Outcome != wantOutcome {
		return fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s %s %v", index, ev.Step, wantOutcome, ev.Outcome, ev.Code, ev.Result)
	}
	if expect == nil {
		return ""
	}
	if expect.Code != "" && expect.Code != ev.Code {
		return fmt.Sprintf("flow[%d] %s: expected code %s, got %s", index, ev.Step, expect.Code, ev.Code)
	}
	if len(expect.Result) > 0 {
		want, err := normalize(expect.Result)
		if err != nil {
			return fmt.Sprintf("flow[%d] %s: expected result: %v", index, ev.Step, err)
		}
		if !matchSubset(ev.Result, want) {
			return fmt.Sprintf("flow[%d] %s: result %v does not contain %v", index, ev.Step, ev.Result, want)
		}
	}
	return ""
}

// normalize round-trips v through JSON so results and YAML expectations
// compare on the same types: maps, slices, float64, string, bool.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize result: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize result: %w", err)
	}
	return out, nil
}
