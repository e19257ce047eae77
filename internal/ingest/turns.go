package ingest

import (
	"context"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/outbox"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/wire"
)

// IdempotencyKey is the stable key of a turn created by ingest.
func IdempotencyKey(threadID, turnID string) string {
	return "sync:" + threadID + ":" + turnID
}

// ensureTurn inserts the turn the first time the batch mentions it. The
// row starts in the event's synthetic status.
func (b *batch) ensureTurn(ctx context.Context, ev *Event) error {
	if ev.TurnID == "" || b.knownTurns[ev.TurnID] {
		return nil
	}

	existing, err := b.uow.turn(ctx, ev.TurnID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		tr := store.Turn{
			ThreadID:       b.threadID,
			TurnID:         ev.TurnID,
			Scope:          b.scope,
			Status:         ev.SyntheticStatus,
			IdempotencyKey: IdempotencyKey(b.threadID, ev.TurnID),
			StartedAt:      b.now,
		}
		if tr.Status.IsTerminal() {
			tr.CompletedAt = b.now
		}
		if err := b.tx.InsertTurn(ctx, tr); err != nil {
			return err
		}
		b.uow.putTurn(tr)
	case existing.Scope != b.scope:
		return &model.SyncError{
			Code:     model.ErrCodeTurnForbidden,
			Message:  "turn " + ev.TurnID + " belongs to another scope",
			ThreadID: b.threadID,
		}
	}

	b.knownTurns[ev.TurnID] = true
	return nil
}

// collectTurnSignals records started turns and the strongest terminal
// status seen per turn.
func (b *batch) collectTurnSignals(ev *Event) {
	if ev.TurnID == "" {
		return
	}
	if ev.Kind == wire.KindTurnStarted {
		b.startedTurns[ev.TurnID] = true
	}
	if ev.Terminal != nil {
		if current, ok := b.terminal[ev.TurnID]; ok {
			b.terminal[ev.TurnID] = model.HigherPriority(&current, *ev.Terminal)
		} else {
			b.terminal[ev.TurnID] = *ev.Terminal
		}
	}
}

// finalizeTurns promotes started turns, appends a finalize_turn task per
// terminal turn and sweeps the streaming messages of failed and
// interrupted turns.
//
// The sweep runs inline so no message is left streaming between commit
// and the finalize task; finalize_turn repeats it idempotently.
func (b *batch) finalizeTurns(ctx context.Context) error {
	for _, turnID := range sortedKeys(b.startedTurns) {
		tr, err := b.uow.turn(ctx, turnID)
		if err != nil {
			return err
		}
		if tr == nil || tr.Status != model.TurnQueued {
			continue
		}
		if err := b.tx.UpdateTurnStatus(ctx, b.threadID, turnID, model.TurnInProgress, "", 0); err != nil {
			return err
		}
		tr.Status = model.TurnInProgress
	}

	for _, turnID := range sortedKeys(b.terminal) {
		term := b.terminal[turnID]
		if _, err := outbox.Enqueue(ctx, b.tx, b.ids, outbox.FinalizeTurn{
			Scope:          b.scope,
			ThreadID:       b.threadID,
			TurnID:         turnID,
			Status:         term.Status,
			Code:           term.Code,
			Error:          term.Error,
			CleanupDelayMs: b.runtime.FinishedStreamDeleteDelayMs,
		}, b.now, b.now); err != nil {
			return err
		}

		if term.Status != model.TurnFailed && term.Status != model.TurnInterrupted {
			continue
		}
		if err := b.sweepStreamingMessages(ctx, turnID, term); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) sweepStreamingMessages(ctx context.Context, turnID string, term model.TerminalStatus) error {
	streaming, err := b.tx.ListStreamingMessages(ctx, b.threadID, turnID)
	if err != nil {
		return err
	}
	status := outbox.MessageStatusFor(term.Status)
	for _, m := range streaming {
		m.Status = status
		if term.Error != "" {
			m.Error = term.Error
		}
		m.UpdatedAt = b.now
		m.CompletedAt = b.now
		if err := b.tx.UpdateMessage(ctx, m); err != nil {
			return err
		}
		b.uow.setMessage(m)
	}
	if len(streaming) > 0 {
		b.logger.Debug("swept streaming messages", "turn_id", turnID, "status", status, "count", len(streaming))
	}
	return nil
}
