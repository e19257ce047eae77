package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
)

// Stream is one cursor lane bound to a (thread, turn).
type Stream struct {
	Scope           string            `json:"-"`
	StreamID        string            `json:"streamId"`
	ThreadID        string            `json:"threadId"`
	TurnID          string            `json:"turnId"`
	State           model.StreamState `json:"state"`
	Reason          string            `json:"reason,omitempty"`
	LastHeartbeatAt int64             `json:"lastHeartbeatAt"`
	EndedAt         int64             `json:"endedAt,omitempty"`
	CreatedAt       int64             `json:"createdAt"`
}

const streamColumns = `scope, stream_id, thread_id, turn_id, state, reason, last_heartbeat_at, ended_at, created_at`

func scanStream(s scanner) (Stream, error) {
	var (
		st      Stream
		reason  sql.NullString
		endedAt sql.NullInt64
	)
	err := s.Scan(&st.Scope, &st.StreamID, &st.ThreadID, &st.TurnID, &st.State, &reason, &st.LastHeartbeatAt, &endedAt, &st.CreatedAt)
	st.Reason = reason.String
	st.EndedAt = endedAt.Int64
	return st, err
}

// GetStream returns a stream by (scope, streamId).
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetStream(ctx context.Context, scope, streamID string) (Stream, error) {
	return scanStream(t.tx.QueryRowContext(ctx, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE scope = ? AND stream_id = ?
	`, scope, streamID))
}

// ListThreadStreams returns the streams of a thread.
func (t *Tx) ListThreadStreams(ctx context.Context, scope, threadID string) ([]Stream, error) {
	return queryList(ctx, t.tx, "streams", scanStream, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE scope = ? AND thread_id = ?
		ORDER BY created_at ASC, stream_id COLLATE BINARY ASC
	`, scope, threadID)
}

// ListTurnStreams returns the streams of a turn in the given state.
func (t *Tx) ListTurnStreams(ctx context.Context, scope, threadID, turnID string, state model.StreamState) ([]Stream, error) {
	return queryList(ctx, t.tx, "turn streams", scanStream, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE scope = ? AND thread_id = ? AND turn_id = ? AND state = ?
		ORDER BY stream_id COLLATE BINARY ASC
	`, scope, threadID, turnID, state)
}

// InsertStream inserts a stream. Uses ON CONFLICT DO NOTHING for idempotency.
func (t *Tx) InsertStream(ctx context.Context, st Stream) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO streams (`+streamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, stream_id) DO NOTHING
	`, st.Scope, st.StreamID, st.ThreadID, st.TurnID, st.State, nullString(st.Reason), st.LastHeartbeatAt,
		nullInt64(st.EndedAt), st.CreatedAt)
	if err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}

// TouchStream refreshes the heartbeat of a streaming stream.
func (t *Tx) TouchStream(ctx context.Context, scope, streamID string, heartbeatAt int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE streams SET last_heartbeat_at = MAX(last_heartbeat_at, ?)
		WHERE scope = ? AND stream_id = ? AND state = ?
	`, heartbeatAt, scope, streamID, model.StreamStreaming)
	if err != nil {
		return fmt.Errorf("touch stream: %w", err)
	}
	return nil
}

// EndStream moves a streaming stream to a terminal state. Streams that
// already ended are left untouched. Reports whether a row changed.
func (t *Tx) EndStream(ctx context.Context, scope, streamID string, state model.StreamState, reason string, endedAt int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE streams SET state = ?, reason = ?, ended_at = ?
		WHERE scope = ? AND stream_id = ? AND state = ?
	`, state, nullString(reason), endedAt, scope, streamID, model.StreamStreaming)
	if err != nil {
		return false, fmt.Errorf("end stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end stream: %w", err)
	}
	return n > 0, nil
}

// DeleteStream removes a stream row.
func (t *Tx) DeleteStream(ctx context.Context, scope, streamID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM streams WHERE scope = ? AND stream_id = ?`, scope, streamID); err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	return nil
}

// StreamStats holds the running counters of a stream.
type StreamStats struct {
	Scope               string            `json:"-"`
	StreamID            string            `json:"streamId"`
	ThreadID            string            `json:"threadId"`
	TurnID              string            `json:"turnId"`
	State               model.StreamState `json:"state"`
	DeltaCount          int64             `json:"deltaCount"`
	LatestCursor        int64             `json:"latestCursor"`
	LastPersistedCursor int64             `json:"lastPersistedCursor"`
	UpdatedAt           int64             `json:"updatedAt"`
}

const statsColumns = `scope, stream_id, thread_id, turn_id, state, delta_count, latest_cursor, last_persisted_cursor, updated_at`

func scanStats(s scanner) (StreamStats, error) {
	var st StreamStats
	err := s.Scan(&st.Scope, &st.StreamID, &st.ThreadID, &st.TurnID, &st.State, &st.DeltaCount, &st.LatestCursor,
		&st.LastPersistedCursor, &st.UpdatedAt)
	return st, err
}

// GetStreamStats returns the stats of a stream.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetStreamStats(ctx context.Context, scope, streamID string) (StreamStats, error) {
	return scanStats(t.tx.QueryRowContext(ctx, `
		SELECT `+statsColumns+`
		FROM stream_stats
		WHERE scope = ? AND stream_id = ?
	`, scope, streamID))
}

// ListThreadStreamStats returns the stats of every stream of a thread.
func (t *Tx) ListThreadStreamStats(ctx context.Context, scope, threadID string) ([]StreamStats, error) {
	return queryList(ctx, t.tx, "stream stats", scanStats, `
		SELECT `+statsColumns+`
		FROM stream_stats
		WHERE scope = ? AND thread_id = ?
		ORDER BY stream_id COLLATE BINARY ASC
	`, scope, threadID)
}

// InsertStreamStats inserts a zeroed stats row. Uses ON CONFLICT DO NOTHING.
func (t *Tx) InsertStreamStats(ctx context.Context, st StreamStats) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stream_stats (`+statsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, stream_id) DO NOTHING
	`, st.Scope, st.StreamID, st.ThreadID, st.TurnID, st.State, st.DeltaCount, st.LatestCursor, st.LastPersistedCursor, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write stream stats: %w", err)
	}
	return nil
}

// StatsDelta is one batched increment of a stream's counters.
type StatsDelta struct {
	StreamID            string
	DeltaCount          int64
	LatestCursor        int64
	LastPersistedCursor int64
}

// AddStreamStats applies increments to stream stats. Cursors only move
// forward; delta counts accumulate.
func (t *Tx) AddStreamStats(ctx context.Context, scope string, deltas []StatsDelta, updatedAt int64) error {
	if len(deltas) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		UPDATE stream_stats
		SET delta_count = delta_count + ?,
		    latest_cursor = MAX(latest_cursor, ?),
		    last_persisted_cursor = MAX(last_persisted_cursor, ?),
		    updated_at = ?
		WHERE scope = ? AND stream_id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare stream stats: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		if _, err := stmt.ExecContext(ctx, d.DeltaCount, d.LatestCursor, d.LastPersistedCursor, updatedAt, scope, d.StreamID); err != nil {
			return fmt.Errorf("update stream stats %s: %w", d.StreamID, err)
		}
	}
	return nil
}

// SetStreamStatsState records the state of a stream on its stats row.
func (t *Tx) SetStreamStatsState(ctx context.Context, scope, streamID string, state model.StreamState, updatedAt int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE stream_stats SET state = ?, updated_at = ?
		WHERE scope = ? AND stream_id = ?
	`, state, updatedAt, scope, streamID)
	if err != nil {
		return fmt.Errorf("update stream stats state: %w", err)
	}
	return nil
}

// DeleteStreamStats removes the stats row of a stream.
func (t *Tx) DeleteStreamStats(ctx context.Context, scope, streamID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM stream_stats WHERE scope = ? AND stream_id = ?`, scope, streamID); err != nil {
		return fmt.Errorf("delete stream stats: %w", err)
	}
	return nil
}

// ListOrphanStreamStats returns stats rows whose stream row no longer
// exists. A cleanup task interrupted between deleting the stream and its
// stats leaves one behind.
func (t *Tx) ListOrphanStreamStats(ctx context.Context) ([]StreamStats, error) {
	return queryList(ctx, t.tx, "orphan stream stats", scanStats, `
		SELECT `+statsColumnsQualified+`
		FROM stream_stats ss
		LEFT JOIN streams s ON s.scope = ss.scope AND s.stream_id = ss.stream_id
		WHERE s.stream_id IS NULL
		ORDER BY ss.scope, ss.stream_id COLLATE BINARY ASC
	`)
}

const statsColumnsQualified = `ss.scope, ss.stream_id, ss.thread_id, ss.turn_id, ss.state, ss.delta_count, ss.latest_cursor, ss.last_persisted_cursor, ss.updated_at`
