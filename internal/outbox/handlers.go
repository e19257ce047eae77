package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/wire"
)

// Reasons recorded on rows the worker ends.
const (
	ReasonStreamTimeout    = "stream timeout"
	ReasonHeartbeatTimeout = "heartbeat timeout"
)

// DrainMarkerID returns the lifecycle event id of a stream's drain marker.
func DrainMarkerID(streamID string) string {
	return wire.KindStreamDrainComplete + ":" + streamID
}

// finalizeTurn settles a turn that received a terminal signal. The stored
// status only moves up the failed > interrupted > completed ladder.
func (w *Worker) finalizeTurn(ctx context.Context, tx *store.Tx, task store.Task, now int64) error {
	var p FinalizeTurn
	if err := Decode(task, &p); err != nil {
		return err
	}
	logger := w.logger.With("task_id", task.ID, "thread_id", p.ThreadID, "turn_id", p.TurnID)

	turn, err := tx.GetTurn(ctx, p.ThreadID, p.TurnID)
	if store.IsNotFound(err) {
		logger.Debug("finalize skipped: turn not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load turn: %w", err)
	}
	if turn.Scope != p.Scope {
		logger.Warn("finalize skipped: turn owned by another scope")
		return nil
	}

	status := model.PickTerminal(turn.Status, p.Status)
	errText := ""
	if status != model.TurnCompleted {
		errText = firstNonEmpty(p.Error, turn.Error, string(status))
	}
	if err := tx.UpdateTurnStatus(ctx, p.ThreadID, p.TurnID, status, errText, now); err != nil {
		return err
	}

	streaming, err := tx.ListStreamingMessages(ctx, p.ThreadID, p.TurnID)
	if err != nil {
		return err
	}
	msgStatus := MessageStatusFor(status)
	for _, m := range streaming {
		m.Status = msgStatus
		m.Error = errText
		m.UpdatedAt = now
		m.CompletedAt = now
		if err := tx.UpdateMessage(ctx, m); err != nil {
			return err
		}
	}

	streams, err := tx.ListTurnStreams(ctx, p.Scope, p.ThreadID, p.TurnID, model.StreamStreaming)
	if err != nil {
		return err
	}
	state, reason := model.StreamFinished, ""
	if status != model.TurnCompleted {
		state, reason = model.StreamAborted, errText
	}
	for _, st := range streams {
		if err := w.endStream(ctx, tx, st, state, reason, p.CleanupDelayMs, now); err != nil {
			return err
		}
	}

	logger.Debug("turn finalized", "status", status, "messages_swept", len(streaming), "streams_ended", len(streams))
	return nil
}

// endStream moves a streaming stream to a terminal state and schedules its
// cleanup. A stream that already ended is left alone.
func (w *Worker) endStream(ctx context.Context, tx *store.Tx, st store.Stream, state model.StreamState, reason string, cleanupDelayMs, now int64) error {
	ended, err := tx.EndStream(ctx, st.Scope, st.StreamID, state, reason, now)
	if err != nil || !ended {
		return err
	}
	if err := tx.SetStreamStatsState(ctx, st.Scope, st.StreamID, state, now); err != nil {
		return err
	}
	return w.enqueue(ctx, tx, CleanupStream{
		Scope:     st.Scope,
		StreamID:  st.StreamID,
		BatchSize: DefaultStreamDeleteBatchSize,
	}, now+cleanupDelayMs, now)
}

// cleanupStream purges one batch of a stream's deltas. Once nothing is
// left and the stream has ended, it emits the drain marker and removes the
// stream, its stats and its checkpoints.
func (w *Worker) cleanupStream(ctx context.Context, tx *store.Tx, task store.Task, now int64) error {
	var p CleanupStream
	if err := Decode(task, &p); err != nil {
		return err
	}
	batch := clampBatch(p.BatchSize, DefaultStreamDeleteBatchSize, MaxStreamDeleteBatchSize)

	st, err := tx.GetStream(ctx, p.Scope, p.StreamID)
	if store.IsNotFound(err) {
		return tx.DeleteStreamStats(ctx, p.Scope, p.StreamID)
	}
	if err != nil {
		return fmt.Errorf("load stream: %w", err)
	}

	deleted, err := tx.DeleteStreamDeltaBatch(ctx, p.Scope, p.StreamID, batch)
	if err != nil {
		return err
	}
	remaining := deleted >= batch
	if !remaining {
		n, err := tx.CountDeltas(ctx, p.Scope, p.StreamID)
		if err != nil {
			return err
		}
		remaining = n > 0
	}
	if remaining {
		return w.enqueue(ctx, tx, CleanupStream{Scope: p.Scope, StreamID: p.StreamID, BatchSize: batch}, now, now)
	}

	if st.State == model.StreamStreaming {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"streamId": st.StreamID})
	if err != nil {
		return fmt.Errorf("encode drain marker: %w", err)
	}
	if _, err := tx.InsertLifecycleEvent(ctx, store.LifecycleEvent{
		Scope:     st.Scope,
		ThreadID:  st.ThreadID,
		EventID:   DrainMarkerID(st.StreamID),
		TurnID:    st.TurnID,
		Kind:      wire.KindStreamDrainComplete,
		Payload:   string(payload),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := tx.DeleteStream(ctx, st.Scope, st.StreamID); err != nil {
		return err
	}
	if err := tx.DeleteStreamStats(ctx, st.Scope, st.StreamID); err != nil {
		return err
	}
	if err := tx.DeleteCheckpoints(ctx, st.Scope, st.StreamID); err != nil {
		return err
	}
	w.logger.Debug("stream drained", "task_id", task.ID, "stream_id", st.StreamID, "thread_id", st.ThreadID)
	return nil
}

// timeoutStream aborts a stream whose heartbeat is older than its timeout,
// or reschedules itself for the stream's current deadline.
func (w *Worker) timeoutStream(ctx context.Context, tx *store.Tx, task store.Task, now int64) error {
	var p TimeoutStream
	if err := Decode(task, &p); err != nil {
		return err
	}

	st, err := tx.GetStream(ctx, p.Scope, p.StreamID)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load stream: %w", err)
	}
	if st.State != model.StreamStreaming {
		return nil
	}

	if deadline := st.LastHeartbeatAt + p.TimeoutMs; deadline > now {
		return w.enqueue(ctx, tx, p, deadline, now)
	}

	w.logger.Info("stream timed out", "task_id", task.ID, "stream_id", st.StreamID, "thread_id", st.ThreadID)
	return w.endStream(ctx, tx, st, model.StreamAborted, ReasonStreamTimeout, p.CleanupDelayMs, now)
}

// cleanupExpiredDeltas removes one batch of deltas past their TTL and
// re-enqueues itself while batches come back full.
func (w *Worker) cleanupExpiredDeltas(ctx context.Context, tx *store.Tx, task store.Task, now int64) error {
	var p CleanupExpiredDeltas
	if err := Decode(task, &p); err != nil {
		return err
	}
	batch := clampBatch(p.BatchSize, DefaultDeltaCleanupBatchSize, MaxDeltaCleanupBatchSize)

	deleted, err := tx.DeleteExpiredDeltas(ctx, now, batch)
	if err != nil {
		return err
	}
	if deleted > 0 {
		w.logger.Debug("expired deltas removed", "task_id", task.ID, "count", deleted)
	}
	if deleted >= batch {
		return w.enqueue(ctx, tx, CleanupExpiredDeltas{BatchSize: batch}, now, now)
	}
	return nil
}

// timeoutStaleSessions marks silent sessions stale.
func (w *Worker) timeoutStaleSessions(ctx context.Context, tx *store.Tx, task store.Task, now int64) error {
	var p TimeoutStaleSessions
	if err := Decode(task, &p); err != nil {
		return err
	}
	batch := clampBatch(p.BatchSize, DefaultStaleSessionBatchSize, DefaultStaleSessionBatchSize)

	n, err := tx.MarkStaleSessions(ctx, p.StaleBefore, now, ReasonHeartbeatTimeout, batch)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("sessions marked stale", "task_id", task.ID, "count", n)
	}
	if n >= batch {
		return w.enqueue(ctx, tx, TimeoutStaleSessions{StaleBefore: p.StaleBefore, BatchSize: batch}, now, now)
	}
	return nil
}

// MessageStatusFor maps a terminal turn status to the status swept onto
// its still-streaming messages.
func MessageStatusFor(s model.TurnStatus) model.MessageStatus {
	switch s {
	case model.TurnFailed:
		return model.MessageFailed
	case model.TurnInterrupted:
		return model.MessageInterrupted
	default:
		return model.MessageCompleted
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
