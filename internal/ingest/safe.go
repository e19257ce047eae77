package ingest

import (
	"context"
	"errors"

	"github.com/roach88/streamsync/internal/model"
)

// SafeStatus is the outcome of SafeIngest.
type SafeStatus string

const (
	SafeOK               SafeStatus = "ok"
	SafePartial          SafeStatus = "partial"
	SafeSessionRecovered SafeStatus = "session_recovered"
	SafeRejected         SafeStatus = "rejected"
)

// SafeCode is the caller-facing classification of an ingest failure.
type SafeCode string

const (
	SafeCodeSessionNotFound        SafeCode = "SESSION_NOT_FOUND"
	SafeCodeSessionThreadMismatch  SafeCode = "SESSION_THREAD_MISMATCH"
	SafeCodeTurnIDRequiredForTurn  SafeCode = "TURN_ID_REQUIRED_FOR_TURN_EVENT"
	SafeCodeTurnIDRequiredForCodex SafeCode = "TURN_ID_REQUIRED_FOR_CODEX_EVENT"
	SafeCodeOutOfOrder             SafeCode = "OUT_OF_ORDER"
	SafeCodeReplayGap              SafeCode = "REPLAY_GAP"
	SafeCodeUnknown                SafeCode = "UNKNOWN"
)

// RecoveryRolledOver is the only recovery action SafeIngest takes.
const RecoveryRolledOver = "session_rolled_over"

// SafeArgs is an ingest batch plus the cursor a rolled-over session starts at.
type SafeArgs struct {
	Args
	EnsureLastEventCursor int64 `json:"ensureLastEventCursor,omitempty" yaml:"ensureLastEventCursor,omitempty"`
}

// SafeError describes one classified failure.
type SafeError struct {
	Code        SafeCode `json:"code"`
	Message     string   `json:"message"`
	Recoverable bool     `json:"recoverable"`
}

// Recovery describes a session rollover.
type Recovery struct {
	Action            string `json:"action"`
	PreviousSessionID string `json:"previousSessionId"`
	SessionID         string `json:"sessionId"`
	ThreadID          string `json:"threadId"`
}

// SafeResult is the outcome of SafeIngest. Errors is empty unless Status
// is rejected.
type SafeResult struct {
	Status       SafeStatus         `json:"status"`
	IngestStatus model.IngestStatus `json:"ingestStatus"`
	AckedStreams []AckedStream      `json:"ackedStreams"`
	Recovery     *Recovery          `json:"recovery,omitempty"`
	Errors       []SafeError        `json:"errors"`
}

// SafeCodeOf maps an ingest error to its caller-facing code.
func SafeCodeOf(err error) SafeCode {
	switch model.CodeOf(err) {
	case model.ErrCodeSessionNotFound:
		return SafeCodeSessionNotFound
	case model.ErrCodeSessionThreadMismatch:
		return SafeCodeSessionThreadMismatch
	case model.ErrCodeTurnIDRequiredForTurn:
		return SafeCodeTurnIDRequiredForTurn
	case model.ErrCodeTurnIDRequiredForCodex:
		return SafeCodeTurnIDRequiredForCodex
	case model.ErrCodeOutOfOrder:
		return SafeCodeOutOfOrder
	case model.ErrCodeReplayGap:
		return SafeCodeReplayGap
	}
	return SafeCodeUnknown
}

// IsRecoverable reports whether a fresh session and a retry can fix err.
// Only session-binding errors qualify.
func IsRecoverable(err error) bool {
	switch model.CodeOf(err) {
	case model.ErrCodeSessionNotFound, model.ErrCodeSessionThreadMismatch:
		return true
	}
	return false
}

// SafeIngest runs Ingest and classifies any failure instead of returning
// it. A session-binding failure is retried exactly once under a fresh
// session id created with EnsureLastEventCursor.
//
// The only error returned is context cancellation.
func (s *Service) SafeIngest(ctx context.Context, args SafeArgs) (SafeResult, error) {
	first, err := s.Ingest(ctx, args.Args)
	if err == nil {
		return acceptedResult(first, nil), nil
	}
	if isContextError(ctx, err) {
		return SafeResult{}, err
	}
	if !IsRecoverable(err) {
		return rejectedResult(err), nil
	}

	previous := args.SessionID
	rolled := args.Args
	rolled.SessionID = s.ids.NewID()
	logger := s.logger.With("thread_id", args.ThreadID, "previous_session_id", previous, "session_id", rolled.SessionID)
	logger.Info("rolling over session", "code", model.CodeOf(err))

	if _, err := s.EnsureSession(ctx, SessionArgs{
		Actor:           args.Actor,
		SessionID:       rolled.SessionID,
		ThreadID:        args.ThreadID,
		LastEventCursor: max(0, args.EnsureLastEventCursor),
	}); err != nil {
		if isContextError(ctx, err) {
			return SafeResult{}, err
		}
		return rejectedResult(err), nil
	}

	retried, err := s.Ingest(ctx, rolled)
	if err != nil {
		if isContextError(ctx, err) {
			return SafeResult{}, err
		}
		logger.Warn("ingest rejected after rollover", "error", err)
		return rejectedResult(err), nil
	}
	return acceptedResult(retried, &Recovery{
		Action:            RecoveryRolledOver,
		PreviousSessionID: previous,
		SessionID:         rolled.SessionID,
		ThreadID:          args.ThreadID,
	}), nil
}

func acceptedResult(res Result, recovery *Recovery) SafeResult {
	status := SafeOK
	switch {
	case recovery != nil:
		status = SafeSessionRecovered
	case res.IngestStatus == model.IngestPartial:
		status = SafePartial
	}
	return SafeResult{
		Status:       status,
		IngestStatus: res.IngestStatus,
		AckedStreams: res.AckedStreams,
		Recovery:     recovery,
		Errors:       []SafeError{},
	}
}

func rejectedResult(err error) SafeResult {
	return SafeResult{
		Status:       SafeRejected,
		IngestStatus: model.IngestPartial,
		AckedStreams: []AckedStream{},
		Errors: []SafeError{{
			Code:        SafeCodeOf(err),
			Message:     err.Error(),
			Recoverable: IsRecoverable(err),
		}},
	}
}

func isContextError(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
