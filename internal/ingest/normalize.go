package ingest

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/wire"
)

// Event is one inbound event after normalization.
//
// Projections are independently nil. A lifecycle event whose payload names
// no turn carries no TurnID, no Terminal and no projections.
type Event struct {
	// Lifecycle is set for lifecycle events; stream deltas leave it false.
	Lifecycle bool

	EventID     string
	TurnID      string
	StreamID    string
	Kind        string
	PayloadJSON string
	CursorStart int64
	CursorEnd   int64
	CreatedAt   int64

	Decoded         wire.Event
	SyntheticStatus model.TurnStatus
	Terminal        *model.TerminalStatus

	ApprovalRequest    *wire.ApprovalSignal
	ApprovalResolution *wire.ApprovalResolution
	DurableMessage     *wire.DurableMessage
	DurableDelta       *wire.DurableDelta
	ReasoningDelta     *wire.ReasoningDelta
}

// Normalize merges stream deltas and lifecycle events into one list ordered
// by createdAt. Events with equal timestamps keep their input order, stream
// deltas first.
//
// Turn ids are fail-closed for stream deltas of turn/started and
// turn/completed and for every codex/event/* kind: a payload without a turn
// id rejects the batch. Other lifecycle events without a payload turn id are
// kept, with no turn.
func Normalize(deltas []StreamDelta, lifecycle []LifecycleEvent) ([]Event, error) {
	events := make([]Event, 0, len(deltas)+len(lifecycle))
	for _, d := range deltas {
		events = append(events, Event{
			EventID:     d.EventID,
			TurnID:      d.TurnID,
			StreamID:    d.StreamID,
			Kind:        d.Kind,
			PayloadJSON: d.PayloadJSON,
			CursorStart: d.CursorStart,
			CursorEnd:   d.CursorEnd,
			CreatedAt:   d.CreatedAt,
		})
	}
	for _, l := range lifecycle {
		events = append(events, Event{
			Lifecycle:   true,
			EventID:     l.EventID,
			Kind:        l.Kind,
			PayloadJSON: l.PayloadJSON,
			CreatedAt:   l.CreatedAt,
		})
	}
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.CreatedAt, b.CreatedAt)
	})

	for i := range events {
		if err := normalizeEvent(&events[i]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func normalizeEvent(ev *Event) error {
	decoded := wire.Decode(ev.Kind, []byte(ev.PayloadJSON))
	ev.Decoded = decoded
	payloadTurnID := decoded.TurnID()

	if !ev.Lifecycle && (ev.Kind == wire.KindTurnStarted || ev.Kind == wire.KindTurnCompleted) && payloadTurnID == "" {
		return &model.SyncError{
			Code:     model.ErrCodeTurnIDRequiredForTurn,
			Message:  "missing canonical payload turn id for turn lifecycle event kind=" + ev.Kind,
			StreamID: ev.StreamID,
			EventID:  ev.EventID,
		}
	}
	if wire.IsLegacyKind(ev.Kind) && payloadTurnID == "" {
		return &model.SyncError{
			Code:     model.ErrCodeTurnIDRequiredForCodex,
			Message:  "missing canonical payload turn id for legacy event kind=" + ev.Kind,
			StreamID: ev.StreamID,
			EventID:  ev.EventID,
		}
	}

	if ev.Lifecycle {
		ev.TurnID = payloadTurnID
	} else if payloadTurnID != "" {
		ev.TurnID = payloadTurnID
	}

	if !ev.Lifecycle || ev.TurnID != "" {
		ev.Terminal = wire.TerminalStatusOf(decoded)
		ev.ApprovalRequest = wire.ApprovalRequestOf(decoded)
		ev.ApprovalResolution = wire.ApprovalResolutionOf(decoded)
		ev.DurableMessage = wire.DurableMessageOf(decoded)
		ev.DurableDelta = wire.DurableDeltaOf(decoded)
		ev.ReasoningDelta = wire.ReasoningDeltaOf(decoded)
	}
	ev.SyntheticStatus = syntheticStatus(ev.Kind, ev.Terminal)
	return nil
}

// syntheticStatus is the status a turn row gets when this event is the
// first to mention it.
func syntheticStatus(kind string, terminal *model.TerminalStatus) model.TurnStatus {
	if terminal != nil {
		return terminal.Status
	}
	if kind == wire.KindTurnStarted || strings.HasPrefix(kind, "item/") {
		return model.TurnInProgress
	}
	return model.TurnQueued
}
