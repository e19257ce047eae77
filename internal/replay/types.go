package replay

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/model"
)

// WindowStatus classifies a replay window.
type WindowStatus string

const (
	// WindowOK means the window continues from the requested cursor.
	WindowOK WindowStatus = "ok"

	// WindowRebased means older deltas were purged and the window starts
	// at the earliest retained cursor instead.
	WindowRebased WindowStatus = "rebased"

	// WindowStale means the stream moved past the cursor but no contiguous
	// delta is buffered to bridge the gap.
	WindowStale WindowStatus = "stale"
)

// StreamCursor is a cursor the client holds for one stream.
type StreamCursor struct {
	StreamID string `json:"streamId" yaml:"streamId"`
	Cursor   int64  `json:"cursor" yaml:"cursor"`
}

// Validate implements validation.Validatable.
func (c StreamCursor) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StreamID, validation.Required),
		validation.Field(&c.Cursor, validation.Min(int64(0))),
	)
}

// Args is a PullState request.
type Args struct {
	Actor             model.Actor          `json:"actor" yaml:"actor"`
	ThreadID          string               `json:"threadId" yaml:"threadId"`
	StreamCursorsByID []StreamCursor       `json:"streamCursorsById" yaml:"streamCursorsById"`
	Runtime           *config.RuntimeInput `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// Validate implements validation.Validatable.
func (a Args) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.ThreadID, validation.Required),
		validation.Field(&a.StreamCursorsByID),
	)
	if err != nil {
		return &model.SyncError{Code: model.ErrCodeInvalidArgs, Message: err.Error(), ThreadID: a.ThreadID}
	}
	return nil
}

// ResumeArgs is a ResumeFromCursor request.
type ResumeArgs struct {
	Actor      model.Actor          `json:"actor" yaml:"actor"`
	ThreadID   string               `json:"threadId" yaml:"threadId"`
	TurnID     string               `json:"turnId" yaml:"turnId"`
	FromCursor int64                `json:"fromCursor" yaml:"fromCursor"`
	Strict     bool                 `json:"strict,omitempty" yaml:"strict,omitempty"`
	Runtime    *config.RuntimeInput `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// Validate implements validation.Validatable.
func (a ResumeArgs) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.ThreadID, validation.Required),
		validation.Field(&a.TurnID, validation.Required),
		validation.Field(&a.FromCursor, validation.Min(int64(0))),
	)
	if err != nil {
		return &model.SyncError{Code: model.ErrCodeInvalidArgs, Message: err.Error(), ThreadID: a.ThreadID}
	}
	return nil
}

// TurnStreamID returns the id of the primary stream of a turn.
func TurnStreamID(threadID, turnID string) string {
	return fmt.Sprintf("%s:%s:0", threadID, turnID)
}

// Window is the cursor range replay returned for one stream.
type Window struct {
	StreamID          string       `json:"streamId"`
	Status            WindowStatus `json:"status"`
	ServerCursorStart int64        `json:"serverCursorStart"`
	ServerCursorEnd   int64        `json:"serverCursorEnd"`
}

// Checkpoint is the cursor a client should hold after applying a window.
type Checkpoint struct {
	StreamID string `json:"streamId"`
	Cursor   int64  `json:"cursor"`
}

// Delta is one buffered stream event.
type Delta struct {
	StreamID    string `json:"streamId"`
	CursorStart int64  `json:"cursorStart"`
	CursorEnd   int64  `json:"cursorEnd"`
	Kind        string `json:"kind"`
	PayloadJSON string `json:"payloadJson"`
}

// Snapshot is the latest known state of a thread item.
type Snapshot struct {
	ItemID      string `json:"itemId"`
	ItemType    string `json:"itemType"`
	Status      string `json:"status"`
	PayloadJSON string `json:"payloadJson"`
}

// StreamInfo is a stream of the thread and its lifecycle state.
type StreamInfo struct {
	StreamID string            `json:"streamId"`
	State    model.StreamState `json:"state"`
}

// State is the result of PullState.
type State struct {
	Streams         []StreamInfo `json:"streams"`
	StreamWindows   []Window     `json:"streamWindows"`
	NextCheckpoints []Checkpoint `json:"nextCheckpoints"`
	Deltas          []Delta      `json:"deltas"`
	Snapshots       []Snapshot   `json:"snapshots"`
}

// ResumeResult is the result of ResumeFromCursor.
type ResumeResult struct {
	Deltas     []Delta `json:"deltas"`
	NextCursor int64   `json:"nextCursor"`
	Window     Window  `json:"window"`
}
