package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/wire"
)

func TestSafeIngest_Accepted(t *testing.T) {
	f := newBoundFixture(t)

	res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: f.args([]StreamDelta{textDelta("e1", "m1", "a", 0, 1)})})
	require.NoError(t, err)

	assert.Equal(t, SafeOK, res.Status)
	assert.Equal(t, model.IngestOK, res.IngestStatus)
	assert.Nil(t, res.Recovery)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []AckedStream{{StreamID: "s1", AckCursorEnd: 1}}, res.AckedStreams)
}

func TestSafeIngest_Partial(t *testing.T) {
	f := newBoundFixture(t)

	res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: f.args([]StreamDelta{textDelta("e1", "m1", "a", 3, 4)})})
	require.NoError(t, err)

	assert.Equal(t, SafePartial, res.Status)
	assert.Equal(t, model.IngestPartial, res.IngestStatus)
}

func TestSafeIngest_RollsOverMissingSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EnsureThread(f.ctx, testActor, testThread, "", "")
	require.NoError(t, err)

	args := f.args([]StreamDelta{
		delta("e1", "t1", "s1", wire.KindTurnStarted, turnStartedPayload("t1"), 0, 1),
	})
	args.SessionID = "se-gone"
	res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: args, EnsureLastEventCursor: 7})
	require.NoError(t, err)

	assert.Equal(t, SafeSessionRecovered, res.Status)
	require.NotNil(t, res.Recovery)
	assert.Equal(t, RecoveryRolledOver, res.Recovery.Action)
	assert.Equal(t, "se-gone", res.Recovery.PreviousSessionID)
	assert.Equal(t, testThread, res.Recovery.ThreadID)
	assert.NotEqual(t, "se-gone", res.Recovery.SessionID)
	assert.Equal(t, []AckedStream{{StreamID: "s1", AckCursorEnd: 1}}, res.AckedStreams)

	se := f.session(res.Recovery.SessionID)
	assert.Equal(t, testThread, se.ThreadID)
	assert.Equal(t, int64(7), se.LastEventCursor, "rolled-over session starts at the supplied cursor")
}

func TestSafeIngest_RollsOverThreadMismatch(t *testing.T) {
	f := newBoundFixture(t)
	f.bindSession(testActor, "th-2", "se-2")

	args := f.args([]StreamDelta{textDelta("e1", "m1", "a", 0, 1)})
	args.SessionID = "se-2"
	res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: args})
	require.NoError(t, err)

	assert.Equal(t, SafeSessionRecovered, res.Status)
	require.NotNil(t, res.Recovery)
	assert.Equal(t, "se-2", res.Recovery.PreviousSessionID)
	assert.Equal(t, "th-2", f.session("se-2").ThreadID, "the old session is left alone")
}

func TestSafeIngest_RollsOverEndedSession(t *testing.T) {
	f := newBoundFixture(t)
	f.setSessionStatus(testSession, model.SessionEnded)

	res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: f.args([]StreamDelta{textDelta("e1", "m1", "a", 0, 1)})})
	require.NoError(t, err)

	assert.Equal(t, SafeSessionRecovered, res.Status)
	require.NotNil(t, res.Recovery)
	assert.Equal(t, testSession, res.Recovery.PreviousSessionID)
	assert.Equal(t, model.SessionEnded, f.session(testSession).Status)
	assert.Equal(t, model.SessionActive, f.session(res.Recovery.SessionID).Status)
}

func TestSafeIngest_RetriesOnlyOnce(t *testing.T) {
	f := newBoundFixture(t)
	f.mustIngest([]StreamDelta{textDelta("e1", "m1", "ab", 0, 2)})

	args := f.args([]StreamDelta{textDelta("e2", "m1", "x", 0, 1)})
	args.SessionID = "se-gone"
	res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: args})
	require.NoError(t, err)

	assert.Equal(t, SafeRejected, res.Status)
	assert.Nil(t, res.Recovery)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, SafeCodeOutOfOrder, res.Errors[0].Code, "the retry's failure is reported")
	assert.False(t, res.Errors[0].Recoverable)
}

func TestSafeIngest_RejectsWithoutRetry(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *fixture) Args
		code        SafeCode
		recoverable bool
	}{
		{
			name: "out of order",
			setup: func(f *fixture) Args {
				f.mustIngest([]StreamDelta{textDelta("e1", "m1", "ab", 0, 2)})
				return f.args([]StreamDelta{textDelta("e2", "m1", "x", 1, 2)})
			},
			code: SafeCodeOutOfOrder,
		},
		{
			name: "missing turn id",
			setup: func(f *fixture) Args {
				return f.args([]StreamDelta{
					delta("e1", "t1", "s1", wire.KindTurnStarted, notification(wire.KindTurnStarted, map[string]any{"turn": map[string]any{}}), 0, 1),
				})
			},
			code: SafeCodeTurnIDRequiredForTurn,
		},
		{
			name: "session of another scope",
			setup: func(f *fixture) Args {
				f.bindSession(model.Actor{UserID: "user-2"}, "th-other", "se-other")
				a := f.args([]StreamDelta{textDelta("e1", "m1", "a", 0, 1)})
				a.SessionID = "se-other"
				return a
			},
			code: SafeCodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBoundFixture(t)
			res, err := f.svc.SafeIngest(f.ctx, SafeArgs{Args: tt.setup(f)})
			require.NoError(t, err)

			assert.Equal(t, SafeRejected, res.Status)
			assert.Equal(t, model.IngestPartial, res.IngestStatus)
			assert.Empty(t, res.AckedStreams)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.code, res.Errors[0].Code)
			assert.Equal(t, tt.recoverable, res.Errors[0].Recoverable)
			assert.NotEmpty(t, res.Errors[0].Message)
		})
	}
}

func TestSafeIngest_ReturnsContextErrors(t *testing.T) {
	f := newBoundFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	_, err := f.svc.SafeIngest(ctx, SafeArgs{Args: f.args([]StreamDelta{textDelta("e1", "m1", "a", 0, 1)})})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSafeCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want SafeCode
	}{
		{&model.SyncError{Code: model.ErrCodeSessionNotFound}, SafeCodeSessionNotFound},
		{&model.SyncError{Code: model.ErrCodeSessionThreadMismatch}, SafeCodeSessionThreadMismatch},
		{&model.SyncError{Code: model.ErrCodeTurnIDRequiredForCodex}, SafeCodeTurnIDRequiredForCodex},
		{&model.SyncError{Code: model.ErrCodeReplayGap}, SafeCodeReplayGap},
		{fmt.Errorf("wrapped: %w", &model.SyncError{Code: model.ErrCodeOutOfOrder}), SafeCodeOutOfOrder},
		{&model.SyncError{Code: model.ErrCodeStreamIDCollision}, SafeCodeUnknown},
		{errors.New("disk full"), SafeCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, SafeCodeOf(tt.err))
		})
	}
}
