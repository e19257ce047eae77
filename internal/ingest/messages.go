package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

// Error text stored on messages whose item failed.
const itemFailedError = "item failed"

// sourceAgentMessage is the source type of messages synthesized from deltas.
const sourceAgentMessage = "agentMessage"

// applyMessage applies the durable message snapshot and the text delta
// carried by ev, in that order.
func (b *batch) applyMessage(ctx context.Context, ev *Event) error {
	if ev.TurnID == "" {
		return nil
	}
	if ev.DurableMessage != nil {
		if err := b.applySnapshot(ctx, ev); err != nil {
			return err
		}
	}
	if ev.DurableDelta != nil {
		return b.applyDelta(ctx, ev)
	}
	return nil
}

func (b *batch) applySnapshot(ctx context.Context, ev *Event) error {
	dm := ev.DurableMessage
	existing, err := b.uow.message(ctx, ev.TurnID, dm.MessageID)
	if err != nil {
		return err
	}

	if existing == nil {
		order, err := b.uow.nextOrderInTurn(ctx, ev.TurnID)
		if err != nil {
			return err
		}
		m := store.Message{
			ThreadID:    b.threadID,
			TurnID:      ev.TurnID,
			MessageID:   dm.MessageID,
			Scope:       b.scope,
			Role:        dm.Role,
			Status:      dm.Status,
			Text:        dm.Text,
			SourceType:  dm.SourceType,
			Payload:     string(dm.Payload),
			OrderInTurn: order,
			CreatedAt:   ev.CreatedAt,
			UpdatedAt:   b.now,
		}
		if m.Status == model.MessageFailed {
			m.Error = itemFailedError
		}
		if m.Status != model.MessageStreaming {
			m.CompletedAt = b.now
		}
		return b.uow.insertMessage(ctx, m)
	}

	existing.Status = nextMessageStatus(existing.Status, dm.Status)
	existing.Role = dm.Role
	if existing.Status == model.MessageStreaming {
		existing.Text = preferredText(existing.Text, dm.Text)
	} else {
		existing.Text = dm.Text
	}
	existing.SourceType = dm.SourceType
	existing.Payload = string(dm.Payload)
	existing.UpdatedAt = b.now
	if existing.Status == model.MessageFailed {
		existing.Error = itemFailedError
	}
	if existing.Status != model.MessageStreaming {
		existing.CompletedAt = b.now
	}
	return b.uow.patchMessage(existing)
}

// preferredText merges a streaming snapshot into accumulated text,
// keeping whichever of the two is more complete.
func preferredText(current, incoming string) string {
	switch {
	case incoming == "":
		return current
	case current == "":
		return incoming
	case strings.HasPrefix(incoming, current):
		return incoming
	case strings.HasPrefix(current, incoming):
		return current
	case len(incoming) < len(current):
		return current
	case strings.HasPrefix(incoming, " "):
		return current + incoming
	}
	return incoming
}

// nextMessageStatus guards against status downgrades: failed is final,
// interrupted yields only to failed, and a streaming snapshot never
// reopens a row.
func nextMessageStatus(current, incoming model.MessageStatus) model.MessageStatus {
	switch {
	case current == model.MessageFailed:
		return model.MessageFailed
	case current == model.MessageInterrupted && incoming != model.MessageFailed:
		return model.MessageInterrupted
	case incoming == model.MessageStreaming:
		return current
	}
	return incoming
}

func (b *batch) applyDelta(ctx context.Context, ev *Event) error {
	dd := ev.DurableDelta
	existing, err := b.uow.message(ctx, ev.TurnID, dd.MessageID)
	if err != nil {
		return err
	}

	if existing == nil {
		order, err := b.uow.nextOrderInTurn(ctx, ev.TurnID)
		if err != nil {
			return err
		}
		payload, err := agentMessagePayload(dd.MessageID, dd.Delta)
		if err != nil {
			return err
		}
		return b.uow.insertMessage(ctx, store.Message{
			ThreadID:    b.threadID,
			TurnID:      ev.TurnID,
			MessageID:   dd.MessageID,
			Scope:       b.scope,
			Role:        model.RoleAssistant,
			Status:      model.MessageStreaming,
			Text:        dd.Delta,
			SourceType:  sourceAgentMessage,
			Payload:     payload,
			OrderInTurn: order,
			CreatedAt:   ev.CreatedAt,
			UpdatedAt:   b.now,
		})
	}

	// Late tokens never reopen a settled message.
	if existing.Status != model.MessageStreaming {
		return nil
	}

	text := existing.Text + dd.Delta
	payload, err := agentMessagePayload(dd.MessageID, text)
	if err != nil {
		return err
	}
	existing.Text = text
	existing.Payload = payload
	existing.UpdatedAt = b.now
	return b.uow.patchMessage(existing)
}

func agentMessagePayload(id, text string) (string, error) {
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Text string `json:"text"`
	}{sourceAgentMessage, id, text})
	if err != nil {
		return "", fmt.Errorf("encode message payload: %w", err)
	}
	return string(data), nil
}
