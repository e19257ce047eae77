package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LifecycleEvent is a thread or turn signal persisted outside any stream.
type LifecycleEvent struct {
	Scope     string `json:"-"`
	ThreadID  string `json:"threadId"`
	EventID   string `json:"eventId"`
	TurnID    string `json:"turnId,omitempty"`
	Kind      string `json:"kind"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"createdAt"`
}

// InsertLifecycleEvent persists a lifecycle event once per (scope, thread,
// eventId). Reports whether the row was new.
func (t *Tx) InsertLifecycleEvent(ctx context.Context, ev LifecycleEvent) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO lifecycle_events (scope, thread_id, event_id, turn_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, thread_id, event_id) DO NOTHING
	`, ev.Scope, ev.ThreadID, ev.EventID, nullString(ev.TurnID), ev.Kind, ev.Payload, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("write lifecycle event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write lifecycle event: %w", err)
	}
	return n > 0, nil
}

// ListLifecycleEvents returns the lifecycle events of a thread by creation time.
func (t *Tx) ListLifecycleEvents(ctx context.Context, scope, threadID string) ([]LifecycleEvent, error) {
	return queryList(ctx, t.tx, "lifecycle events", func(s scanner) (LifecycleEvent, error) {
		var (
			ev     LifecycleEvent
			turnID sql.NullString
		)
		err := s.Scan(&ev.Scope, &ev.ThreadID, &ev.EventID, &turnID, &ev.Kind, &ev.Payload, &ev.CreatedAt)
		ev.TurnID = turnID.String
		return ev, err
	}, `
		SELECT scope, thread_id, event_id, turn_id, kind, payload, created_at
		FROM lifecycle_events
		WHERE scope = ? AND thread_id = ?
		ORDER BY created_at ASC, event_id COLLATE BINARY ASC
	`, scope, threadID)
}
