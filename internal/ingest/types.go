package ingest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/model"
)

// StreamDelta is one stream-scoped event: a cursor range on a stream.
type StreamDelta struct {
	EventID     string `json:"eventId" yaml:"eventId"`
	TurnID      string `json:"turnId" yaml:"turnId"`
	StreamID    string `json:"streamId" yaml:"streamId"`
	Kind        string `json:"kind" yaml:"kind"`
	PayloadJSON string `json:"payloadJson" yaml:"payloadJson"`
	CursorStart int64  `json:"cursorStart" yaml:"cursorStart"`
	CursorEnd   int64  `json:"cursorEnd" yaml:"cursorEnd"`
	CreatedAt   int64  `json:"createdAt" yaml:"createdAt"`
}

// Validate implements validation.Validatable.
func (d StreamDelta) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.EventID, validation.Required),
		validation.Field(&d.StreamID, validation.Required),
		validation.Field(&d.Kind, validation.Required),
		validation.Field(&d.CursorStart, validation.Min(int64(0))),
		validation.Field(&d.CursorEnd, validation.Min(int64(0))),
	)
}

// LifecycleEvent is a thread- or turn-level signal without a cursor.
// TurnID is advisory; the canonical id always comes from the payload.
type LifecycleEvent struct {
	EventID     string `json:"eventId" yaml:"eventId"`
	TurnID      string `json:"turnId,omitempty" yaml:"turnId,omitempty"`
	Kind        string `json:"kind" yaml:"kind"`
	PayloadJSON string `json:"payloadJson" yaml:"payloadJson"`
	CreatedAt   int64  `json:"createdAt" yaml:"createdAt"`
}

// Validate implements validation.Validatable.
func (e LifecycleEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.EventID, validation.Required),
		validation.Field(&e.Kind, validation.Required),
	)
}

// Args is one ingest batch.
type Args struct {
	Actor           model.Actor          `json:"actor" yaml:"actor"`
	SessionID       string               `json:"sessionId" yaml:"sessionId"`
	ThreadID        string               `json:"threadId" yaml:"threadId"`
	StreamDeltas    []StreamDelta        `json:"streamDeltas" yaml:"streamDeltas"`
	LifecycleEvents []LifecycleEvent     `json:"lifecycleEvents" yaml:"lifecycleEvents"`
	Runtime         *config.RuntimeInput `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// Validate checks the shape of a batch. Cursor ranges and turn ids are
// checked later with their own error codes.
func (a Args) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.SessionID, validation.Required),
		validation.Field(&a.ThreadID, validation.Required),
		validation.Field(&a.StreamDeltas),
		validation.Field(&a.LifecycleEvents),
	)
	if err != nil {
		return &model.SyncError{Code: model.ErrCodeInvalidArgs, Message: err.Error(), ThreadID: a.ThreadID}
	}
	return nil
}

// AckedStream is the cursor a client may acknowledge for a stream.
type AckedStream struct {
	StreamID     string `json:"streamId"`
	AckCursorEnd int64  `json:"ackCursorEnd"`
}

// Result is the outcome of an accepted batch.
type Result struct {
	AckedStreams []AckedStream      `json:"ackedStreams"`
	IngestStatus model.IngestStatus `json:"ingestStatus"`
}

// SessionArgs identifies a session for Heartbeat and EnsureSession.
type SessionArgs struct {
	Actor           model.Actor `json:"actor" yaml:"actor"`
	SessionID       string      `json:"sessionId" yaml:"sessionId"`
	ThreadID        string      `json:"threadId" yaml:"threadId"`
	LastEventCursor int64       `json:"lastEventCursor" yaml:"lastEventCursor"`
}

// Validate implements validation.Validatable.
func (a SessionArgs) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.SessionID, validation.Required),
		validation.Field(&a.ThreadID, validation.Required),
		validation.Field(&a.LastEventCursor, validation.Min(int64(0))),
	)
	if err != nil {
		return &model.SyncError{Code: model.ErrCodeInvalidArgs, Message: err.Error(), ThreadID: a.ThreadID}
	}
	return nil
}

// Session upsert outcomes.
const (
	SessionCreated = "created"
	SessionActive  = "active"
)

// SessionResult reports whether EnsureSession created or refreshed a session.
type SessionResult struct {
	SessionID string `json:"sessionId"`
	ThreadID  string `json:"threadId"`
	Status    string `json:"status"`
}

// CheckpointArgs is an explicit client acknowledgement of a stream cursor.
type CheckpointArgs struct {
	Actor    model.Actor `json:"actor"`
	ThreadID string      `json:"threadId"`
	StreamID string      `json:"streamId"`
	Cursor   int64       `json:"cursor"`
}

// Validate implements validation.Validatable.
func (a CheckpointArgs) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.ThreadID, validation.Required),
		validation.Field(&a.StreamID, validation.Required),
	)
	if err != nil {
		return &model.SyncError{Code: model.ErrCodeInvalidArgs, Message: err.Error(), ThreadID: a.ThreadID}
	}
	return nil
}
