package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
)

// Approval is a durable approval row keyed by (thread, turn, item).
type Approval struct {
	ThreadID  string               `json:"threadId"`
	TurnID    string               `json:"turnId"`
	ItemID    string               `json:"itemId"`
	Scope     string               `json:"-"`
	Kind      string               `json:"kind"`
	Status    model.ApprovalStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	DecidedBy string               `json:"decidedBy,omitempty"`
	DecidedAt int64                `json:"decidedAt,omitempty"`
	CreatedAt int64                `json:"createdAt"`
}

const approvalColumns = `thread_id, turn_id, item_id, scope, kind, status, reason, decided_by, decided_at, created_at`

func scanApproval(s scanner) (Approval, error) {
	var (
		a         Approval
		reason    sql.NullString
		decidedBy sql.NullString
		decidedAt sql.NullInt64
	)
	err := s.Scan(&a.ThreadID, &a.TurnID, &a.ItemID, &a.Scope, &a.Kind, &a.Status, &reason, &decidedBy, &decidedAt, &a.CreatedAt)
	a.Reason = reason.String
	a.DecidedBy = decidedBy.String
	a.DecidedAt = decidedAt.Int64
	return a, err
}

// GetApproval returns an approval by key.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetApproval(ctx context.Context, threadID, turnID, itemID string) (Approval, error) {
	return scanApproval(t.tx.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE thread_id = ? AND turn_id = ? AND item_id = ?
	`, threadID, turnID, itemID))
}

// ListApprovals returns the approvals of a thread.
func (t *Tx) ListApprovals(ctx context.Context, threadID string) ([]Approval, error) {
	return queryList(ctx, t.tx, "approvals", scanApproval, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE thread_id = ?
		ORDER BY created_at ASC, turn_id COLLATE BINARY ASC, item_id COLLATE BINARY ASC
	`, threadID)
}

// InsertApproval inserts an approval. Uses ON CONFLICT DO NOTHING so an
// existing decision is never reset to pending.
func (t *Tx) InsertApproval(ctx context.Context, a Approval) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, turn_id, item_id) DO NOTHING
	`, a.ThreadID, a.TurnID, a.ItemID, a.Scope, a.Kind, a.Status, nullString(a.Reason), nullString(a.DecidedBy),
		nullInt64(a.DecidedAt), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("write approval: %w", err)
	}
	return nil
}

// ResolveApproval decides a pending approval. Rows that are no longer
// pending are left untouched. Reports whether a row changed.
func (t *Tx) ResolveApproval(ctx context.Context, threadID, turnID, itemID string, status model.ApprovalStatus, decidedBy string, decidedAt int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decided_by = ?, decided_at = ?
		WHERE thread_id = ? AND turn_id = ? AND item_id = ? AND status = ?
	`, status, decidedBy, decidedAt, threadID, turnID, itemID, model.ApprovalPending)
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	return n > 0, nil
}
