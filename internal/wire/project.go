package wire

import (
	"encoding/json"

	"github.com/roach88/streamsync/internal/model"
)

// DurableMessage is the message row projected from an item notification.
type DurableMessage struct {
	MessageID  string
	Role       model.MessageRole
	Status     model.MessageStatus
	SourceType string
	Text       string
	Payload    json.RawMessage
}

// DurableDelta is a token append to an existing or synthesized message.
type DurableDelta struct {
	MessageID string
	Delta     string
}

// ApprovalSignal is an approval request projected from a requestApproval
// notification.
type ApprovalSignal struct {
	ItemID   string
	ItemKind string
	Reason   string
}

// ApprovalResolution is the outcome of an approvable item.
type ApprovalResolution struct {
	ItemID string
	Status model.ApprovalStatus
}

// Reasoning channels and segment operations.
const (
	ChannelSummary = "summary"
	ChannelRaw     = "raw"

	SegmentTextDelta    = "textDelta"
	SegmentSectionBreak = "sectionBreak"
)

// ReasoningDelta is one fragment of a reasoning channel.
type ReasoningDelta struct {
	ItemID    string
	Channel   string
	Op        string
	PartIndex int
	Delta     string
}

// ItemSnapshot is the latest known state of an item, used by replay.
type ItemSnapshot struct {
	ItemID    string          `json:"itemId"`
	ItemType  string          `json:"itemType"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CursorEnd int64           `json:"cursorEnd"`
}

// TerminalStatusOf returns the terminal outcome carried by ev, if any.
func TerminalStatusOf(ev Event) *model.TerminalStatus {
	switch e := ev.(type) {
	case TurnCompleted:
		switch model.TurnStatus(e.Turn.Status) {
		case model.TurnInterrupted:
			return &model.TerminalStatus{
				Status: model.TurnInterrupted,
				Code:   model.TerminalCodeInterrupted,
				Error:  errorMessage(e.Turn.Error, "turn interrupted"),
			}
		case model.TurnFailed:
			return &model.TerminalStatus{
				Status: model.TurnFailed,
				Code:   model.TerminalCodeFailed,
				Error:  errorMessage(e.Turn.Error, "turn failed"),
			}
		default:
			return &model.TerminalStatus{Status: model.TurnCompleted}
		}
	case ErrorNotice:
		return &model.TerminalStatus{
			Status: model.TurnFailed,
			Code:   model.TerminalCodeFailed,
			Error:  errorMessage(&e.Error, "stream error"),
		}
	case LegacyEvent:
		if e.kind == KindTurnAborted {
			return &model.TerminalStatus{
				Status: model.TurnInterrupted,
				Code:   model.TerminalCodeInterrupted,
				Error:  "turn aborted",
			}
		}
	case Malformed:
		// An unparsable turn/completed still ends the turn.
		if e.kind == KindTurnCompleted {
			return &model.TerminalStatus{Status: model.TurnCompleted}
		}
	}
	return nil
}

func errorMessage(info *ErrorInfo, fallback string) string {
	if info == nil || info.Message == "" {
		return fallback
	}
	return info.Message
}

// DurableMessageOf projects item/started and item/completed into a message row.
func DurableMessageOf(ev Event) *DurableMessage {
	var (
		item   Item
		status model.MessageStatus
	)
	switch e := ev.(type) {
	case ItemStarted:
		item, status = e.Item, model.MessageStreaming
	case ItemCompleted:
		item, status = e.Item, e.Item.completedStatus()
	default:
		return nil
	}
	return &DurableMessage{
		MessageID:  item.ID,
		Role:       item.Role(),
		Status:     status,
		SourceType: item.Type,
		Text:       item.DurableText(),
		Payload:    item.Raw,
	}
}

// DurableDeltaOf projects an agent message delta.
func DurableDeltaOf(ev Event) *DurableDelta {
	e, ok := ev.(AgentMessageDelta)
	if !ok {
		return nil
	}
	return &DurableDelta{MessageID: e.ItemID, Delta: e.Delta}
}

// ApprovalRequestOf projects a requestApproval notification.
func ApprovalRequestOf(ev Event) *ApprovalSignal {
	e, ok := ev.(ApprovalRequest)
	if !ok {
		return nil
	}
	return &ApprovalSignal{ItemID: e.ItemID, ItemKind: e.ItemKind(), Reason: e.Reason}
}

// ApprovalResolutionOf projects the completion of an approvable item.
// Items completed in any status other than completed, failed or declined
// resolve nothing.
func ApprovalResolutionOf(ev Event) *ApprovalResolution {
	e, ok := ev.(ItemCompleted)
	if !ok || !e.Item.isApprovable() {
		return nil
	}
	switch e.Item.Status {
	case "declined":
		return &ApprovalResolution{ItemID: e.Item.ID, Status: model.ApprovalDeclined}
	case "completed", "failed":
		return &ApprovalResolution{ItemID: e.Item.ID, Status: model.ApprovalAccepted}
	}
	return nil
}

// ReasoningDeltaOf projects the three reasoning notifications.
func ReasoningDeltaOf(ev Event) *ReasoningDelta {
	switch e := ev.(type) {
	case ReasoningSummaryTextDelta:
		return &ReasoningDelta{ItemID: e.ItemID, Channel: ChannelSummary, Op: SegmentTextDelta, PartIndex: e.SummaryIndex, Delta: e.Delta}
	case ReasoningSummaryPartAdded:
		return &ReasoningDelta{ItemID: e.ItemID, Channel: ChannelSummary, Op: SegmentSectionBreak, PartIndex: e.SummaryIndex}
	case ReasoningTextDelta:
		return &ReasoningDelta{ItemID: e.ItemID, Channel: ChannelRaw, Op: SegmentTextDelta, PartIndex: e.ContentIndex, Delta: e.Delta}
	}
	return nil
}

// ItemSnapshotOf builds the replay snapshot of an item notification.
// payload is the full event payload as stored.
func ItemSnapshotOf(ev Event, payload []byte, cursorEnd int64) *ItemSnapshot {
	var (
		item     Item
		fallback string
	)
	switch e := ev.(type) {
	case ItemStarted:
		item, fallback = e.Item, "inProgress"
	case ItemCompleted:
		item, fallback = e.Item, "completed"
	default:
		return nil
	}
	status := fallback
	if item.isApprovable() && item.Status != "" {
		status = item.Status
	}
	return &ItemSnapshot{
		ItemID:    item.ID,
		ItemType:  item.Type,
		Status:    status,
		Payload:   json.RawMessage(payload),
		CursorEnd: cursorEnd,
	}
}
