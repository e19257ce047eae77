package ingest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/outbox"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/testutil"
	"github.com/roach88/streamsync/internal/wire"
)

const (
	testThread  = "th-1"
	testSession = "se-1"
	testStart   = int64(1_700_000_000_000)
)

var testActor = model.Actor{UserID: "user-1"}

// fixture wires a Service and an outbox Worker over one temp store,
// sharing a manual clock and deterministic ids.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	clock  *testutil.ManualClock
	ids    *testutil.FixedIDs
	svc    *Service
	worker *outbox.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewManualClock(testStart)
	ids := testutil.NewFixedIDs("task")
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: s,
		clock: clock,
		ids:   ids,
	}
	f.worker = outbox.New(s, outbox.WithClock(clock), outbox.WithIDs(ids))
	f.svc = New(s, WithClock(clock), WithIDs(ids), WithNotifier(f.worker))
	return f
}

// newBoundFixture also creates testThread and testSession for testActor.
func newBoundFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.bindSession(testActor, testThread, testSession)
	return f
}

func (f *fixture) bindSession(actor model.Actor, threadID, sessionID string) {
	f.t.Helper()
	_, err := f.svc.EnsureThread(f.ctx, actor, threadID, "gpt-test", "/tmp")
	require.NoError(f.t, err)
	_, err = f.svc.EnsureSession(f.ctx, SessionArgs{Actor: actor, SessionID: sessionID, ThreadID: threadID})
	require.NoError(f.t, err)
}

func (f *fixture) ingest(deltas []StreamDelta, lifecycle ...LifecycleEvent) (Result, error) {
	return f.svc.Ingest(f.ctx, f.args(deltas, lifecycle...))
}

func (f *fixture) mustIngest(deltas []StreamDelta, lifecycle ...LifecycleEvent) Result {
	f.t.Helper()
	res, err := f.ingest(deltas, lifecycle...)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) args(deltas []StreamDelta, lifecycle ...LifecycleEvent) Args {
	return Args{
		Actor:           testActor,
		SessionID:       testSession,
		ThreadID:        testThread,
		StreamDeltas:    deltas,
		LifecycleEvents: lifecycle,
	}
}

// drain runs every outbox task that is due.
func (f *fixture) drain() int {
	f.t.Helper()
	n, err := f.worker.RunOnce(f.ctx)
	require.NoError(f.t, err)
	return n
}

// setSessionStatus overwrites the status of a session, keeping its cursor.
func (f *fixture) setSessionStatus(sessionID string, status model.SessionStatus) {
	f.t.Helper()
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		se, err := tx.GetSession(f.ctx, sessionID)
		if err != nil {
			return err
		}
		return tx.UpdateSession(f.ctx, sessionID, status, se.LastHeartbeatAt, se.LastEventCursor)
	}))
}

// view runs fn in a read transaction.
func (f *fixture) view(fn func(ctx context.Context, tx *store.Tx)) {
	f.t.Helper()
	require.NoError(f.t, f.store.View(f.ctx, func(tx *store.Tx) error {
		fn(f.ctx, tx)
		return nil
	}))
}

func (f *fixture) turn(turnID string) store.Turn {
	f.t.Helper()
	var tr store.Turn
	f.view(func(ctx context.Context, tx *store.Tx) {
		var err error
		tr, err = tx.GetTurn(ctx, testThread, turnID)
		require.NoError(f.t, err)
	})
	return tr
}

func (f *fixture) message(turnID, messageID string) store.Message {
	f.t.Helper()
	var m store.Message
	f.view(func(ctx context.Context, tx *store.Tx) {
		var err error
		m, err = tx.GetMessage(ctx, testThread, turnID, messageID)
		require.NoError(f.t, err)
	})
	return m
}

func (f *fixture) stream(streamID string) store.Stream {
	f.t.Helper()
	var st store.Stream
	f.view(func(ctx context.Context, tx *store.Tx) {
		var err error
		st, err = tx.GetStream(ctx, testActor.Scope(), streamID)
		require.NoError(f.t, err)
	})
	return st
}

func (f *fixture) session(sessionID string) store.Session {
	f.t.Helper()
	var se store.Session
	f.view(func(ctx context.Context, tx *store.Tx) {
		var err error
		se, err = tx.GetSession(ctx, sessionID)
		require.NoError(f.t, err)
	})
	return se
}

func (f *fixture) pendingTaskKinds() []string {
	f.t.Helper()
	var kinds []string
	f.view(func(ctx context.Context, tx *store.Tx) {
		tasks, err := tx.ListTasks(ctx, store.TaskPending)
		require.NoError(f.t, err)
		for _, tk := range tasks {
			kinds = append(kinds, tk.Kind)
		}
	})
	return kinds
}

// notification renders a JSON-RPC notification payload.
func notification(method string, params map[string]any) string {
	data, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func turnStartedPayload(turnID string) string {
	return notification(wire.KindTurnStarted, map[string]any{
		"threadId": testThread,
		"turn":     map[string]any{"id": turnID, "status": "inProgress"},
	})
}

func turnCompletedPayload(turnID, status, errMsg string) string {
	turn := map[string]any{"id": turnID, "status": status}
	if errMsg != "" {
		turn["error"] = map[string]any{"message": errMsg}
	}
	return notification(wire.KindTurnCompleted, map[string]any{"threadId": testThread, "turn": turn})
}

func itemPayload(kind, turnID string, item map[string]any) string {
	return notification(kind, map[string]any{"threadId": testThread, "turnId": turnID, "item": item})
}

func agentMessageItem(id, text string) map[string]any {
	return map[string]any{"type": "agentMessage", "id": id, "text": text}
}

func agentDeltaPayload(turnID, itemID, text string) string {
	return notification(wire.KindAgentMessageDelta, map[string]any{"turnId": turnID, "itemId": itemID, "delta": text})
}

// delta builds a stream delta whose createdAt follows its cursorEnd, so
// a batch keeps cursor order after normalization.
func delta(eventID, turnID, streamID, kind, payload string, start, end int64) StreamDelta {
	return StreamDelta{
		EventID:     eventID,
		TurnID:      turnID,
		StreamID:    streamID,
		Kind:        kind,
		PayloadJSON: payload,
		CursorStart: start,
		CursorEnd:   end,
		CreatedAt:   testStart + end,
	}
}

// textDelta is an agent message delta on stream s1 of turn t1.
func textDelta(eventID, itemID, text string, start, end int64) StreamDelta {
	return delta(eventID, "t1", "s1", wire.KindAgentMessageDelta, agentDeltaPayload("t1", itemID, text), start, end)
}

func ptr[T any](v T) *T { return &v }
