package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Task statuses.
const (
	TaskPending = "pending"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Task is one outbox row.
type Task struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Payload   []byte `json:"payload"`
	RunAt     int64  `json:"runAt"`
	Attempts  int    `json:"attempts"`
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

const taskColumns = `id, kind, payload, run_at, attempts, status, last_error, created_at, updated_at`

func scanTask(s scanner) (Task, error) {
	var (
		tk      Task
		lastErr sql.NullString
	)
	err := s.Scan(&tk.ID, &tk.Kind, &tk.Payload, &tk.RunAt, &tk.Attempts, &tk.Status, &lastErr, &tk.CreatedAt, &tk.UpdatedAt)
	tk.LastError = lastErr.String
	return tk, err
}

// InsertTask appends a task to the outbox.
func (t *Tx) InsertTask(ctx context.Context, tk Task) error {
	if tk.Status == "" {
		tk.Status = TaskPending
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tk.ID, tk.Kind, tk.Payload, tk.RunAt, tk.Attempts, tk.Status, nullString(tk.LastError), tk.CreatedAt, tk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write task: %w", err)
	}
	return nil
}

// GetTask returns a task by id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetTask(ctx context.Context, id string) (Task, error) {
	return scanTask(t.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
}

// ListDueTasks returns up to limit pending tasks with run_at <= now in
// (run_at, id) order.
func (t *Tx) ListDueTasks(ctx context.Context, now int64, limit int) ([]Task, error) {
	return queryList(ctx, t.tx, "due tasks", scanTask, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, TaskPending, now, limit)
}

// ListTasks returns tasks in the given status, or all tasks when status is
// empty, in (run_at, id) order.
func (t *Tx) ListTasks(ctx context.Context, status string) ([]Task, error) {
	return queryList(ctx, t.tx, "tasks", scanTask, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE ? = '' OR status = ?
		ORDER BY run_at ASC, id COLLATE BINARY ASC
	`, status, status)
}

// NextTaskRunAt returns the earliest run_at among pending tasks.
// ok is false when no task is pending.
func (t *Tx) NextTaskRunAt(ctx context.Context) (runAt int64, ok bool, err error) {
	var v sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MIN(run_at) FROM tasks WHERE status = ?`, TaskPending).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("query next task: %w", err)
	}
	return v.Int64, v.Valid, nil
}

// CompleteTask marks a task done.
func (t *Tx) CompleteTask(ctx context.Context, id string, updatedAt int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, attempts = attempts + 1, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, TaskDone, updatedAt, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask records a failed attempt. The task is retried at retryAt, or
// marked failed when final is set.
func (t *Tx) FailTask(ctx context.Context, id, errText string, retryAt int64, final bool, updatedAt int64) error {
	status := TaskPending
	if final {
		status = TaskFailed
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, attempts = attempts + 1, last_error = ?, run_at = ?, updated_at = ?
		WHERE id = ?
	`, status, errText, retryAt, updatedAt, id)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// PurgeTasks deletes finished tasks updated before cutoff.
func (t *Tx) PurgeTasks(ctx context.Context, cutoff int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE status = ? AND updated_at < ?`, TaskDone, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return int(n), nil
}
