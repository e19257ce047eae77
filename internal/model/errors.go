package model

import (
	"errors"
	"fmt"
)

// SyncError is the tagged error every ingest, session, and replay rejection
// is reported with. Callers classify it by Code, never by Message.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ThreadID identifies the affected thread, when known.
	ThreadID string

	// StreamID identifies the affected stream (cursor errors).
	StreamID string

	// EventID identifies the offending event (cursor and dedup errors).
	EventID string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	ErrCodeInvalidArgs            ErrorCode = "E_SYNC_INVALID_ARGS"
	ErrCodeEmptyBatch             ErrorCode = "E_SYNC_EMPTY_BATCH"
	ErrCodeThreadNotFound         ErrorCode = "E_SYNC_THREAD_NOT_FOUND"
	ErrCodeTurnNotFound           ErrorCode = "E_SYNC_TURN_NOT_FOUND"
	ErrCodeSessionNotFound        ErrorCode = "E_SYNC_SESSION_NOT_FOUND"
	ErrCodeSessionThreadMismatch  ErrorCode = "E_SYNC_SESSION_THREAD_MISMATCH"
	ErrCodeTurnIDRequiredForTurn  ErrorCode = "E_SYNC_TURN_ID_REQUIRED_FOR_TURN_EVENT"
	ErrCodeTurnIDRequiredForCodex ErrorCode = "E_SYNC_TURN_ID_REQUIRED_FOR_CODEX_EVENT"
	ErrCodeInvalidCursorRange     ErrorCode = "E_SYNC_INVALID_CURSOR_RANGE"
	ErrCodeOutOfOrder             ErrorCode = "E_SYNC_OUT_OF_ORDER"
	ErrCodeDupEventInBatch        ErrorCode = "E_SYNC_DUP_EVENT_IN_BATCH"
	ErrCodeStreamIDCollision      ErrorCode = "E_SYNC_STREAM_ID_COLLISION"
	ErrCodeStreamNotBound         ErrorCode = "E_SYNC_STREAM_NOT_BOUND"
	ErrCodeReplayGap              ErrorCode = "E_SYNC_REPLAY_GAP"

	// Authorization failures. Never retried.
	ErrCodeThreadForbidden  ErrorCode = "E_AUTH_THREAD_FORBIDDEN"
	ErrCodeTurnForbidden    ErrorCode = "E_AUTH_TURN_FORBIDDEN"
	ErrCodeSessionForbidden ErrorCode = "E_AUTH_SESSION_FORBIDDEN"
	ErrCodeStreamForbidden  ErrorCode = "E_AUTH_STREAM_FORBIDDEN"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.StreamID != "" && e.EventID != "" {
		return fmt.Sprintf("%s: %s (stream=%s, event=%s)", e.Code, e.Message, e.StreamID, e.EventID)
	}
	if e.ThreadID != "" {
		return fmt.Sprintf("%s: %s (thread=%s)", e.Code, e.Message, e.ThreadID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the ErrorCode from err, or "" when err carries none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err is a SyncError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsAuthError reports whether err is an authorization failure.
func IsAuthError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeThreadForbidden, ErrCodeTurnForbidden, ErrCodeSessionForbidden, ErrCodeStreamForbidden:
		return true
	}
	return false
}

// NewSyncError creates a SyncError with a formatted message.
func NewSyncError(code ErrorCode, format string, args ...any) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewOutOfOrderError reports a delta whose cursorStart is behind the
// expected cursor of its stream.
func NewOutOfOrderError(streamID, eventID string, expected, got int64) *SyncError {
	return &SyncError{
		Code:     ErrCodeOutOfOrder,
		Message:  fmt.Sprintf("expected cursorStart>=%d but got %d", expected, got),
		StreamID: streamID,
		EventID:  eventID,
		Details: map[string]string{
			"expected": fmt.Sprintf("%d", expected),
			"actual":   fmt.Sprintf("%d", got),
		},
	}
}

// NewInvalidCursorRangeError reports a delta with cursorStart >= cursorEnd.
func NewInvalidCursorRangeError(streamID, eventID string, start, end int64) *SyncError {
	return &SyncError{
		Code:     ErrCodeInvalidCursorRange,
		Message:  fmt.Sprintf("invalid cursor range start=%d end=%d", start, end),
		StreamID: streamID,
		EventID:  eventID,
	}
}

// NewStreamCollisionError reports a streamId already bound to another
// (thread, turn).
func NewStreamCollisionError(streamID, boundThread, boundTurn, thread, turn string) *SyncError {
	return &SyncError{
		Code: ErrCodeStreamIDCollision,
		Message: fmt.Sprintf("stream is bound to thread=%s turn=%s and cannot be reused by thread=%s turn=%s",
			boundThread, boundTurn, thread, turn),
		ThreadID: thread,
		StreamID: streamID,
	}
}

// NewReplayGapError reports a replay window that cannot continue from the
// requested cursor.
func NewReplayGapError(streamID string, requested, server int64, status string) *SyncError {
	return &SyncError{
		Code:     ErrCodeReplayGap,
		Message:  fmt.Sprintf("replay of cursor %d is %s (server cursor %d)", requested, status, server),
		StreamID: streamID,
		Details: map[string]string{
			"requested": fmt.Sprintf("%d", requested),
			"server":    fmt.Sprintf("%d", server),
			"status":    status,
		},
	}
}
