package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/streamsync/internal/model"
)

// Message is a durable chat message row keyed by (thread, turn, message).
type Message struct {
	ThreadID    string              `json:"threadId"`
	TurnID      string              `json:"turnId"`
	MessageID   string              `json:"messageId"`
	Scope       string              `json:"-"`
	Role        model.MessageRole   `json:"role"`
	Status      model.MessageStatus `json:"status"`
	Text        string              `json:"text"`
	SourceType  string              `json:"sourceType"`
	Payload     string              `json:"payload"`
	OrderInTurn int64               `json:"orderInTurn"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   int64               `json:"createdAt"`
	UpdatedAt   int64               `json:"updatedAt"`
	CompletedAt int64               `json:"completedAt,omitempty"`
}

const messageColumns = `thread_id, turn_id, message_id, scope, role, status, text, source_type, payload,
	order_in_turn, error, created_at, updated_at, completed_at`

func scanMessage(s scanner) (Message, error) {
	var (
		m           Message
		errText     sql.NullString
		completedAt sql.NullInt64
	)
	err := s.Scan(&m.ThreadID, &m.TurnID, &m.MessageID, &m.Scope, &m.Role, &m.Status, &m.Text, &m.SourceType,
		&m.Payload, &m.OrderInTurn, &errText, &m.CreatedAt, &m.UpdatedAt, &completedAt)
	m.Error = errText.String
	m.CompletedAt = completedAt.Int64
	return m, err
}

// GetMessage returns a message by key.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetMessage(ctx context.Context, threadID, turnID, messageID string) (Message, error) {
	return scanMessage(t.tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND turn_id = ? AND message_id = ?
	`, threadID, turnID, messageID))
}

// ListTurnMessages returns the messages of a turn by orderInTurn.
func (t *Tx) ListTurnMessages(ctx context.Context, threadID, turnID string) ([]Message, error) {
	return queryList(ctx, t.tx, "messages", scanMessage, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND turn_id = ?
		ORDER BY order_in_turn ASC
	`, threadID, turnID)
}

// ListStreamingMessages returns the messages of a turn still in streaming status.
func (t *Tx) ListStreamingMessages(ctx context.Context, threadID, turnID string) ([]Message, error) {
	return queryList(ctx, t.tx, "streaming messages", scanMessage, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND turn_id = ? AND status = ?
		ORDER BY order_in_turn ASC
	`, threadID, turnID, model.MessageStreaming)
}

// NextOrderInTurn returns max(orderInTurn)+1 for a turn, or 0 when the turn
// has no messages.
func (t *Tx) NextOrderInTurn(ctx context.Context, threadID, turnID string) (int64, error) {
	var maxOrder sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `
		SELECT MAX(order_in_turn) FROM messages WHERE thread_id = ? AND turn_id = ?
	`, threadID, turnID).Scan(&maxOrder); err != nil {
		return 0, fmt.Errorf("query next order: %w", err)
	}
	if !maxOrder.Valid {
		return 0, nil
	}
	return maxOrder.Int64 + 1, nil
}

// InsertMessage inserts a message. Uses ON CONFLICT DO NOTHING for idempotency.
func (t *Tx) InsertMessage(ctx context.Context, m Message) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, turn_id, message_id) DO NOTHING
	`, m.ThreadID, m.TurnID, m.MessageID, m.Scope, m.Role, m.Status, m.Text, m.SourceType, m.Payload,
		m.OrderInTurn, nullString(m.Error), m.CreatedAt, m.UpdatedAt, nullInt64(m.CompletedAt))
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// UpdateMessage overwrites the mutable columns of an existing message.
func (t *Tx) UpdateMessage(ctx context.Context, m Message) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE messages
		SET role = ?, status = ?, text = ?, source_type = ?, payload = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE thread_id = ? AND turn_id = ? AND message_id = ?
	`, m.Role, m.Status, m.Text, m.SourceType, m.Payload, nullString(m.Error), m.UpdatedAt, nullInt64(m.CompletedAt),
		m.ThreadID, m.TurnID, m.MessageID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}
