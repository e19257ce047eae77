package ingest

import (
	"context"
	"fmt"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/outbox"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/wire"
)

// persistLifecycleEvent stores a lifecycle event once per
// (scope, thread, eventId). It reports whether the event is new.
func (b *batch) persistLifecycleEvent(ctx context.Context, ev *Event) (bool, error) {
	return b.tx.InsertLifecycleEvent(ctx, store.LifecycleEvent{
		Scope:     b.scope,
		ThreadID:  b.threadID,
		EventID:   ev.EventID,
		TurnID:    ev.TurnID,
		Kind:      ev.Kind,
		Payload:   ev.PayloadJSON,
		CreatedAt: ev.CreatedAt,
	})
}

// admitStreamEvent runs the cursor state machine for one stream delta and
// reports whether the event is new. Events without a turn and events the
// ledger already holds are not new; their projections must not run again.
func (b *batch) admitStreamEvent(ctx context.Context, ev *Event) (bool, error) {
	if ev.TurnID == "" {
		b.logger.Warn("stream delta without turn skipped", "stream_id", ev.StreamID, "event_id", ev.EventID, "kind", ev.Kind)
		return false, nil
	}
	if err := b.resolveStream(ctx, ev); err != nil {
		return false, err
	}

	if ev.CursorStart >= ev.CursorEnd {
		return false, model.NewInvalidCursorRangeError(ev.StreamID, ev.EventID, ev.CursorStart, ev.CursorEnd)
	}

	// Checked before the ledger, so a repeat inside one batch is an error
	// even when the first copy was just accepted.
	if b.inBatchEventIDs[ev.EventID] {
		return false, &model.SyncError{
			Code:     model.ErrCodeDupEventInBatch,
			Message:  "duplicate eventId in request batch",
			ThreadID: b.threadID,
			StreamID: ev.StreamID,
			EventID:  ev.EventID,
		}
	}
	b.inBatchEventIDs[ev.EventID] = true

	expected, err := b.expectedCursor(ctx, ev.StreamID)
	if err != nil {
		return false, err
	}

	prior, err := b.tx.GetLedgerEntry(ctx, b.scope, ev.StreamID, ev.EventID)
	switch {
	case err == nil:
		// Already accepted by an earlier batch: advance bookkeeping only.
		if prior.Fingerprint != wire.Fingerprint(ev.Kind, []byte(ev.PayloadJSON)) {
			b.logger.Warn("retried event has a different payload",
				"stream_id", ev.StreamID, "event_id", ev.EventID, "kind", ev.Kind)
		}
		b.expected[ev.StreamID] = max(expected, prior.CursorEnd)
		b.checkpoints[ev.StreamID] = max(b.checkpoints[ev.StreamID], prior.CursorEnd)
		return false, nil
	case !store.IsNotFound(err):
		return false, fmt.Errorf("load ledger entry: %w", err)
	}

	if ev.CursorStart < expected {
		return false, model.NewOutOfOrderError(ev.StreamID, ev.EventID, expected, ev.CursorStart)
	}
	if ev.CursorStart > expected {
		b.status = model.IngestPartial
	}
	b.expected[ev.StreamID] = ev.CursorEnd
	return true, nil
}

// recordStreamEvent persists an admitted stream delta when the runtime
// options allow it, writes its ledger entry and accumulates stream stats.
func (b *batch) recordStreamEvent(ctx context.Context, ev *Event) error {
	persist := b.runtime.PersistsDelta(ev.Kind)
	expiresAt := b.now + config.DeltaTTL.Milliseconds()
	if persist {
		if err := b.tx.InsertDelta(ctx, store.Delta{
			Scope:       b.scope,
			StreamID:    ev.StreamID,
			EventID:     ev.EventID,
			ThreadID:    b.threadID,
			TurnID:      ev.TurnID,
			CursorStart: ev.CursorStart,
			CursorEnd:   ev.CursorEnd,
			Kind:        ev.Kind,
			Payload:     []byte(ev.PayloadJSON),
			CreatedAt:   ev.CreatedAt,
			ExpiresAt:   expiresAt,
		}); err != nil {
			return err
		}
		if err := b.mergeReasoning(ctx, ev); err != nil {
			return err
		}
		b.lastPersistedCursor = max(b.lastPersistedCursor, ev.CursorEnd)
		b.persistedAny = true
	}
	if err := b.tx.InsertLedgerEntry(ctx, store.LedgerEntry{
		Scope:       b.scope,
		StreamID:    ev.StreamID,
		EventID:     ev.EventID,
		CursorStart: ev.CursorStart,
		CursorEnd:   ev.CursorEnd,
		Fingerprint: wire.Fingerprint(ev.Kind, []byte(ev.PayloadJSON)),
		Persisted:   persist,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return err
	}

	d := b.statsDelta(ev.StreamID)
	d.LatestCursor = max(d.LatestCursor, ev.CursorEnd)
	if persist {
		d.DeltaCount++
		d.LastPersistedCursor = max(d.LastPersistedCursor, ev.CursorEnd)
	}
	b.checkpoints[ev.StreamID] = max(b.checkpoints[ev.StreamID], ev.CursorEnd)
	return nil
}

// resolveStream loads or creates the stream of ev and rejects a streamId
// bound to another (thread, turn).
func (b *batch) resolveStream(ctx context.Context, ev *Event) error {
	st, err := b.uow.stream(ctx, ev.StreamID)
	if err != nil {
		return err
	}
	if st != nil {
		if st.ThreadID != b.threadID || st.TurnID != ev.TurnID {
			return model.NewStreamCollisionError(ev.StreamID, st.ThreadID, st.TurnID, b.threadID, ev.TurnID)
		}
		return nil
	}

	created := store.Stream{
		Scope:           b.scope,
		StreamID:        ev.StreamID,
		ThreadID:        b.threadID,
		TurnID:          ev.TurnID,
		State:           model.StreamStreaming,
		LastHeartbeatAt: b.now,
		CreatedAt:       b.now,
	}
	if err := b.tx.InsertStream(ctx, created); err != nil {
		return err
	}
	if err := b.tx.InsertStreamStats(ctx, store.StreamStats{
		Scope:     b.scope,
		StreamID:  ev.StreamID,
		ThreadID:  b.threadID,
		TurnID:    ev.TurnID,
		State:     model.StreamStreaming,
		UpdatedAt: b.now,
	}); err != nil {
		return err
	}
	if _, err := outbox.Enqueue(ctx, b.tx, b.ids, outbox.TimeoutStream{
		Scope:          b.scope,
		StreamID:       ev.StreamID,
		TimeoutMs:      b.runtime.StreamTimeoutMs,
		CleanupDelayMs: b.runtime.FinishedStreamDeleteDelayMs,
	}, b.now+b.runtime.StreamTimeoutMs, b.now); err != nil {
		return err
	}
	b.uow.putStream(created)
	b.logger.Debug("stream opened", "stream_id", ev.StreamID, "turn_id", ev.TurnID)
	return nil
}

// expectedCursor returns the cursor the next delta of a stream must start
// at, seeded from the stream's stats on first use.
func (b *batch) expectedCursor(ctx context.Context, streamID string) (int64, error) {
	if c, ok := b.expected[streamID]; ok {
		return c, nil
	}
	stats, err := b.tx.GetStreamStats(ctx, b.scope, streamID)
	if err != nil && !store.IsNotFound(err) {
		return 0, fmt.Errorf("load stream stats: %w", err)
	}
	b.expected[streamID] = stats.LatestCursor
	return stats.LatestCursor, nil
}

func (b *batch) statsDelta(streamID string) *store.StatsDelta {
	d, ok := b.stats[streamID]
	if !ok {
		d = &store.StatsDelta{StreamID: streamID}
		b.stats[streamID] = d
	}
	return d
}

// mergeReasoning folds a persisted reasoning delta into its segment.
func (b *batch) mergeReasoning(ctx context.Context, ev *Event) error {
	rd := ev.ReasoningDelta
	if rd == nil {
		return nil
	}
	return b.tx.MergeReasoningSegment(ctx, store.ReasoningSegment{
		ThreadID:    b.threadID,
		TurnID:      ev.TurnID,
		ItemID:      rd.ItemID,
		Channel:     rd.Channel,
		PartIndex:   rd.PartIndex,
		Scope:       b.scope,
		EventID:     ev.EventID,
		Text:        rd.Delta,
		CursorStart: ev.CursorStart,
		CursorEnd:   ev.CursorEnd,
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   b.now,
	})
}

// flushStreamStats writes the batch's stat increments in one statement
// and refreshes the heartbeat of every stream that accepted an event.
func (b *batch) flushStreamStats(ctx context.Context) error {
	keys := sortedKeys(b.stats)
	deltas := make([]store.StatsDelta, 0, len(keys))
	for _, id := range keys {
		deltas = append(deltas, *b.stats[id])
	}
	if err := b.tx.AddStreamStats(ctx, b.scope, deltas, b.now); err != nil {
		return err
	}
	for _, id := range keys {
		if err := b.tx.TouchStream(ctx, b.scope, id, b.now); err != nil {
			return err
		}
	}
	return nil
}
