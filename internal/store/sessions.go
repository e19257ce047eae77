package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
)

// Session is a liveness handle binding ingest batches to a thread.
type Session struct {
	SessionID       string              `json:"sessionId"`
	Scope           string              `json:"-"`
	ThreadID        string              `json:"threadId"`
	Status          model.SessionStatus `json:"status"`
	LastHeartbeatAt int64               `json:"lastHeartbeatAt"`
	LastEventCursor int64               `json:"lastEventCursor"`
	Error           string              `json:"error,omitempty"`
	StartedAt       int64               `json:"startedAt"`
	EndedAt         int64               `json:"endedAt,omitempty"`
}

const sessionColumns = `session_id, scope, thread_id, status, last_heartbeat_at, last_event_cursor, error, started_at, ended_at`

func scanSession(s scanner) (Session, error) {
	var (
		se      Session
		errText sql.NullString
		endedAt sql.NullInt64
	)
	err := s.Scan(&se.SessionID, &se.Scope, &se.ThreadID, &se.Status, &se.LastHeartbeatAt, &se.LastEventCursor, &errText, &se.StartedAt, &endedAt)
	se.Error = errText.String
	se.EndedAt = endedAt.Int64
	return se, err
}

// GetSession returns a session by id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE session_id = ?
	`, sessionID))
}

// InsertSession inserts a session. Uses ON CONFLICT DO NOTHING.
func (t *Tx) InsertSession(ctx context.Context, se Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`, se.SessionID, se.Scope, se.ThreadID, se.Status, se.LastHeartbeatAt, se.LastEventCursor, nullString(se.Error),
		se.StartedAt, nullInt64(se.EndedAt))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// UpdateSession writes status, heartbeat and cursor of a session and
// clears any error or end time.
func (t *Tx) UpdateSession(ctx context.Context, sessionID string, status model.SessionStatus, heartbeatAt, lastEventCursor int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, last_heartbeat_at = ?, last_event_cursor = ?, error = NULL, ended_at = NULL
		WHERE session_id = ?
	`, status, heartbeatAt, lastEventCursor, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// MarkStaleSessions moves active sessions whose heartbeat is older than
// staleBefore to stale, up to limit rows. Returns the number of sessions
// timed out.
func (t *Tx) MarkStaleSessions(ctx context.Context, staleBefore, endedAt int64, reason string, limit int) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, ended_at = ?, error = ?
		WHERE session_id IN (
			SELECT session_id FROM sessions
			WHERE status = ? AND last_heartbeat_at < ?
			ORDER BY last_heartbeat_at ASC
			LIMIT ?
		)
	`, model.SessionStale, endedAt, reason, model.SessionActive, staleBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	return int(n), nil
}
