package replay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

const (
	testThread = "th-1"
	testStart  = int64(1_700_000_000_000)
)

var testActor = model.Actor{UserID: "user-1"}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{t: t, ctx: context.Background(), store: s, svc: New(s, opts...)}
	f.tx(func(ctx context.Context, tx *store.Tx) {
		require.NoError(t, tx.InsertThread(ctx, store.Thread{
			ThreadID: testThread, Scope: testActor.Scope(), Status: model.ThreadActive,
			CreatedAt: testStart, UpdatedAt: testStart,
		}))
		require.NoError(t, tx.InsertTurn(ctx, store.Turn{
			ThreadID: testThread, TurnID: "t1", Scope: testActor.Scope(), Status: model.TurnInProgress,
			IdempotencyKey: "sync:" + testThread + ":t1", StartedAt: testStart,
		}))
	})
	return f
}

func (f *fixture) tx(fn func(ctx context.Context, tx *store.Tx)) {
	f.t.Helper()
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		fn(f.ctx, tx)
		return nil
	}))
}

// addStream inserts a stream of turn t1 with stats reporting latest as the
// highest cursor seen.
func (f *fixture) addStream(streamID string, state model.StreamState, latest int64) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx *store.Tx) {
		require.NoError(f.t, tx.InsertStream(ctx, store.Stream{
			Scope: testActor.Scope(), StreamID: streamID, ThreadID: testThread, TurnID: "t1",
			State: state, LastHeartbeatAt: testStart, CreatedAt: testStart,
		}))
		require.NoError(f.t, tx.InsertStreamStats(ctx, store.StreamStats{
			Scope: testActor.Scope(), StreamID: streamID, ThreadID: testThread, TurnID: "t1",
			State: state, LatestCursor: latest, UpdatedAt: testStart,
		}))
	})
}

func (f *fixture) addDelta(streamID string, start, end int64, kind, payload string) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx *store.Tx) {
		require.NoError(f.t, tx.InsertDelta(ctx, store.Delta{
			Scope: testActor.Scope(), StreamID: streamID, EventID: streamID + ":" + string(rune('a'+start)),
			ThreadID: testThread, TurnID: "t1", CursorStart: start, CursorEnd: end,
			Kind: kind, Payload: []byte(payload), CreatedAt: testStart + end, ExpiresAt: testStart + 1_000_000,
		}))
	})
}

// addFiller appends n one-cursor deltas to a stream starting at start.
func (f *fixture) addFiller(streamID string, start int64, n int) {
	f.t.Helper()
	for i := int64(0); i < int64(n); i++ {
		f.addDelta(streamID, start+i, start+i+1, "item/started", `{}`)
	}
}

func (f *fixture) checkpoint(streamID string, cursor int64) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx *store.Tx) {
		require.NoError(f.t, tx.UpsertCheckpoint(ctx, testActor.Scope(), testThread, streamID, cursor, testStart))
	})
}

func (f *fixture) pull(cursors ...StreamCursor) State {
	f.t.Helper()
	state, err := f.svc.PullState(f.ctx, Args{Actor: testActor, ThreadID: testThread, StreamCursorsByID: cursors})
	require.NoError(f.t, err)
	return state
}

func notification(method string, params map[string]any) string {
	data, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func ptr[T any](v T) *T { return &v }
