package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
)

// Turn is one request/response cycle of a thread.
type Turn struct {
	ThreadID       string           `json:"threadId"`
	TurnID         string           `json:"turnId"`
	Scope          string           `json:"-"`
	Status         model.TurnStatus `json:"status"`
	IdempotencyKey string           `json:"idempotencyKey"`
	Error          string           `json:"error,omitempty"`
	StartedAt      int64            `json:"startedAt"`
	CompletedAt    int64            `json:"completedAt,omitempty"`
}

func scanTurn(s scanner) (Turn, error) {
	var (
		tr          Turn
		errText     sql.NullString
		completedAt sql.NullInt64
	)
	err := s.Scan(&tr.ThreadID, &tr.TurnID, &tr.Scope, &tr.Status, &tr.IdempotencyKey, &errText, &tr.StartedAt, &completedAt)
	tr.Error = errText.String
	tr.CompletedAt = completedAt.Int64
	return tr, err
}

const turnColumns = `thread_id, turn_id, scope, status, idempotency_key, error, started_at, completed_at`

// GetTurn returns a turn by (thread, turn).
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetTurn(ctx context.Context, threadID, turnID string) (Turn, error) {
	return scanTurn(t.tx.QueryRowContext(ctx, `
		SELECT `+turnColumns+`
		FROM turns
		WHERE thread_id = ? AND turn_id = ?
	`, threadID, turnID))
}

// ListTurns returns the turns of a thread ordered by start time.
func (t *Tx) ListTurns(ctx context.Context, threadID string) ([]Turn, error) {
	return queryList(ctx, t.tx, "turns", scanTurn, `
		SELECT `+turnColumns+`
		FROM turns
		WHERE thread_id = ?
		ORDER BY started_at ASC, turn_id COLLATE BINARY ASC
	`, threadID)
}

// InsertTurn inserts a turn. Uses ON CONFLICT DO NOTHING for idempotency.
func (t *Tx) InsertTurn(ctx context.Context, tr Turn) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO turns (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, turn_id) DO NOTHING
	`, tr.ThreadID, tr.TurnID, tr.Scope, tr.Status, tr.IdempotencyKey, nullString(tr.Error), tr.StartedAt, nullInt64(tr.CompletedAt))
	if err != nil {
		return fmt.Errorf("write turn: %w", err)
	}
	return nil
}

// UpdateTurnStatus sets status, error and completedAt of a turn.
// An empty errText clears the error.
func (t *Tx) UpdateTurnStatus(ctx context.Context, threadID, turnID string, status model.TurnStatus, errText string, completedAt int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE turns
		SET status = ?, error = ?, completed_at = ?
		WHERE thread_id = ? AND turn_id = ?
	`, status, nullString(errText), nullInt64(completedAt), threadID, turnID)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	return nil
}
