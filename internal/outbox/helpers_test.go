package outbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/testutil"
)

const (
	testScope  = "user-1"
	testThread = "th-1"
	testStart  = int64(1_700_000_000_000)
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	clock *testutil.ManualClock
	ids   *testutil.FixedIDs
	w     *Worker
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: s,
		clock: testutil.NewManualClock(testStart),
		ids:   testutil.NewFixedIDs("task"),
	}
	h.w = New(s, append([]Option{WithClock(h.clock), WithIDs(h.ids)}, opts...)...)
	return h
}

func (h *harness) tx(fn func(ctx context.Context, tx *store.Tx)) {
	h.t.Helper()
	require.NoError(h.t, h.store.WithTx(h.ctx, func(tx *store.Tx) error {
		fn(h.ctx, tx)
		return nil
	}))
}

func (h *harness) enqueue(p Payload, runAt int64) string {
	h.t.Helper()
	var id string
	h.tx(func(ctx context.Context, tx *store.Tx) {
		var err error
		id, err = Enqueue(ctx, tx, h.ids, p, runAt, h.clock.Millis())
		require.NoError(h.t, err)
	})
	return id
}

func (h *harness) runOnce() int {
	h.t.Helper()
	n, err := h.w.RunOnce(h.ctx)
	require.NoError(h.t, err)
	return n
}

func (h *harness) task(id string) store.Task {
	h.t.Helper()
	var tk store.Task
	h.tx(func(ctx context.Context, tx *store.Tx) {
		var err error
		tk, err = tx.GetTask(ctx, id)
		require.NoError(h.t, err)
	})
	return tk
}

func (h *harness) pending() []store.Task {
	h.t.Helper()
	var tasks []store.Task
	h.tx(func(ctx context.Context, tx *store.Tx) {
		var err error
		tasks, err = tx.ListTasks(ctx, store.TaskPending)
		require.NoError(h.t, err)
	})
	return tasks
}

// seedTurn inserts the thread, an in-progress turn with one streaming
// message and one streaming stream with stats.
func (h *harness) seedTurn(turnID, streamID string) {
	h.t.Helper()
	h.tx(func(ctx context.Context, tx *store.Tx) {
		if _, err := tx.GetThread(ctx, testThread); store.IsNotFound(err) {
			require.NoError(h.t, tx.InsertThread(ctx, store.Thread{
				ThreadID: testThread, Scope: testScope, Status: model.ThreadActive, CreatedAt: testStart, UpdatedAt: testStart,
			}))
		}
		require.NoError(h.t, tx.InsertTurn(ctx, store.Turn{
			ThreadID: testThread, TurnID: turnID, Scope: testScope, Status: model.TurnInProgress,
			IdempotencyKey: "sync:" + testThread + ":" + turnID, StartedAt: testStart,
		}))
		require.NoError(h.t, tx.InsertMessage(ctx, store.Message{
			ThreadID: testThread, TurnID: turnID, MessageID: "m1", Scope: testScope,
			Role: model.RoleAssistant, Status: model.MessageStreaming, Text: "par", SourceType: "agentMessage",
			Payload: "{}", CreatedAt: testStart, UpdatedAt: testStart,
		}))
		h.insertStream(ctx, tx, turnID, streamID, model.StreamStreaming)
	})
}

func (h *harness) insertStream(ctx context.Context, tx *store.Tx, turnID, streamID string, state model.StreamState) {
	h.t.Helper()
	require.NoError(h.t, tx.InsertStream(ctx, store.Stream{
		Scope: testScope, StreamID: streamID, ThreadID: testThread, TurnID: turnID,
		State: state, LastHeartbeatAt: h.clock.Millis(), CreatedAt: testStart,
	}))
	require.NoError(h.t, tx.InsertStreamStats(ctx, store.StreamStats{
		Scope: testScope, StreamID: streamID, ThreadID: testThread, TurnID: turnID, State: state, UpdatedAt: testStart,
	}))
}

func (h *harness) insertDeltas(ctx context.Context, tx *store.Tx, streamID string, n int, expiresAt int64) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(h.t, tx.InsertDelta(ctx, store.Delta{
			Scope: testScope, StreamID: streamID, EventID: streamID + "-e" + string(rune('a'+i)),
			ThreadID: testThread, TurnID: "t1", CursorStart: int64(i), CursorEnd: int64(i + 1),
			Kind: "item/started", Payload: []byte(`{}`), CreatedAt: testStart, ExpiresAt: expiresAt,
		}))
	}
}
