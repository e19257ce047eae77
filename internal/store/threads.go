package store

import (
	"context"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
)

// Thread is a conversation row.
type Thread struct {
	ThreadID  string             `json:"threadId"`
	Scope     string             `json:"-"`
	Status    model.ThreadStatus `json:"status"`
	Model     string             `json:"model,omitempty"`
	Cwd       string             `json:"cwd,omitempty"`
	CreatedAt int64              `json:"createdAt"`
	UpdatedAt int64              `json:"updatedAt"`
}

// GetThread returns a thread by id, regardless of scope.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var th Thread
	err := t.tx.QueryRowContext(ctx, `
		SELECT thread_id, scope, status, model, cwd, created_at, updated_at
		FROM threads
		WHERE thread_id = ?
	`, threadID).Scan(&th.ThreadID, &th.Scope, &th.Status, &th.Model, &th.Cwd, &th.CreatedAt, &th.UpdatedAt)
	return th, err
}

// InsertThread inserts a thread. Uses ON CONFLICT DO NOTHING for idempotency.
func (t *Tx) InsertThread(ctx context.Context, th Thread) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO threads (thread_id, scope, status, model, cwd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO NOTHING
	`, th.ThreadID, th.Scope, th.Status, th.Model, th.Cwd, th.CreatedAt, th.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write thread: %w", err)
	}
	return nil
}
