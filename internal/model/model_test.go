package model

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorScope(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		want  string
	}{
		{"user id wins", Actor{UserID: "u1", AnonymousID: "a1"}, "u1"},
		{"trimmed user id", Actor{UserID: "  u1 "}, "u1"},
		{"anonymous", Actor{AnonymousID: "a1"}, "anon:a1"},
		{"blank user falls back", Actor{UserID: "  ", AnonymousID: "a1"}, "anon:a1"},
		{"nobody", Actor{}, AnonymousScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.actor.Scope())
		})
	}
}

func TestHigherPriority_FailedWinsRegardlessOfOrder(t *testing.T) {
	completed := TerminalStatus{Status: TurnCompleted}
	failed := TerminalStatus{Status: TurnFailed, Error: "boom"}
	interrupted := TerminalStatus{Status: TurnInterrupted, Error: "stop"}

	orders := [][]TerminalStatus{
		{completed, failed, interrupted},
		{interrupted, completed, failed},
		{failed, interrupted, completed},
	}
	for i, order := range orders {
		t.Run(fmt.Sprintf("order-%d", i), func(t *testing.T) {
			var current *TerminalStatus
			for _, next := range order {
				picked := HigherPriority(current, next)
				current = &picked
			}
			require.NotNil(t, current)
			assert.Equal(t, TurnFailed, current.Status)
			assert.Equal(t, "boom", current.Error)
		})
	}
}

func TestHigherPriority_EqualKeepsCurrent(t *testing.T) {
	first := TerminalStatus{Status: TurnInterrupted, Error: "first"}
	got := HigherPriority(&first, TerminalStatus{Status: TurnInterrupted, Error: "second"})
	assert.Equal(t, "first", got.Error)
}

func TestPickTerminal(t *testing.T) {
	assert.Equal(t, TurnFailed, PickTerminal(TurnFailed, TurnCompleted))
	assert.Equal(t, TurnInterrupted, PickTerminal(TurnCompleted, TurnInterrupted))
	assert.Equal(t, TurnCompleted, PickTerminal(TurnInProgress, TurnCompleted))
	assert.Equal(t, TurnCompleted, PickTerminal(TurnQueued, TurnCompleted))
}

func TestTurnStatusIsTerminal(t *testing.T) {
	assert.False(t, TurnQueued.IsTerminal())
	assert.False(t, TurnInProgress.IsTerminal())
	assert.True(t, TurnCompleted.IsTerminal())
	assert.True(t, TurnInterrupted.IsTerminal())
	assert.True(t, TurnFailed.IsTerminal())
}

func TestSyncError_CodeThroughWrapping(t *testing.T) {
	err := NewOutOfOrderError("s1", "e3", 4, 2)
	wrapped := fmt.Errorf("ingest batch: %w", err)

	assert.Equal(t, ErrCodeOutOfOrder, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeOutOfOrder))
	assert.False(t, IsCode(wrapped, ErrCodeReplayGap))
	assert.Contains(t, wrapped.Error(), "stream=s1, event=e3")
	assert.Equal(t, "4", err.Details["expected"])
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsCode(nil, ErrCodeOutOfOrder))
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(NewSyncError(ErrCodeThreadForbidden, "denied")))
	assert.False(t, IsAuthError(NewSyncError(ErrCodeSessionNotFound, "missing")))
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.NewID(), gen.NewID()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
