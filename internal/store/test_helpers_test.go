package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/model"
)

const testScope = "user-1"

// createTestStore creates a new file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// withTx runs fn in a committed transaction and fails the test on error.
func withTx(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

// seedTurn inserts a thread and one in-progress turn.
func seedTurn(t *testing.T, s *Store, threadID, turnID string) {
	t.Helper()
	withTx(t, s, func(ctx context.Context, tx *Tx) {
		require.NoError(t, tx.InsertThread(ctx, Thread{
			ThreadID: threadID, Scope: testScope, Status: model.ThreadActive, CreatedAt: 1, UpdatedAt: 1,
		}))
		require.NoError(t, tx.InsertTurn(ctx, Turn{
			ThreadID: threadID, TurnID: turnID, Scope: testScope, Status: model.TurnInProgress,
			IdempotencyKey: "sync:" + threadID + ":" + turnID, StartedAt: 1,
		}))
	})
}
