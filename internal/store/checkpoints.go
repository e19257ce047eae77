package store

import (
	"context"
	"fmt"
)

// Checkpoint is the highest acknowledged cursor of a stream.
type Checkpoint struct {
	ThreadID  string `json:"threadId"`
	StreamID  string `json:"streamId"`
	AckCursor int64  `json:"ackCursor"`
	UpdatedAt int64  `json:"updatedAt"`
}

// GetCheckpoint returns the acknowledged cursor of a stream, or 0 when the
// stream was never acknowledged.
func (t *Tx) GetCheckpoint(ctx context.Context, scope, threadID, streamID string) (int64, error) {
	var cursor int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT ack_cursor FROM stream_checkpoints
		WHERE scope = ? AND thread_id = ? AND stream_id = ?
	`, scope, threadID, streamID).Scan(&cursor)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query checkpoint: %w", err)
	}
	return cursor, nil
}

// ListCheckpoints returns every checkpoint of a thread.
func (t *Tx) ListCheckpoints(ctx context.Context, scope, threadID string) ([]Checkpoint, error) {
	return queryList(ctx, t.tx, "checkpoints", func(s scanner) (Checkpoint, error) {
		var c Checkpoint
		err := s.Scan(&c.ThreadID, &c.StreamID, &c.AckCursor, &c.UpdatedAt)
		return c, err
	}, `
		SELECT thread_id, stream_id, ack_cursor, updated_at
		FROM stream_checkpoints
		WHERE scope = ? AND thread_id = ?
		ORDER BY stream_id COLLATE BINARY ASC
	`, scope, threadID)
}

// UpsertCheckpoint raises the checkpoint of a stream to cursor. A lower
// cursor never regresses an existing checkpoint.
func (t *Tx) UpsertCheckpoint(ctx context.Context, scope, threadID, streamID string, cursor, updatedAt int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stream_checkpoints (scope, thread_id, stream_id, ack_cursor, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, thread_id, stream_id) DO UPDATE
		SET ack_cursor = excluded.ack_cursor, updated_at = excluded.updated_at
		WHERE excluded.ack_cursor > stream_checkpoints.ack_cursor
	`, scope, threadID, streamID, cursor, updatedAt)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoints removes every checkpoint of a stream.
func (t *Tx) DeleteCheckpoints(ctx context.Context, scope, streamID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM stream_checkpoints WHERE scope = ? AND stream_id = ?`, scope, streamID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}
