package store

import (
	"context"
	"fmt"
)

// ReasoningSegment is the accumulated text of one reasoning part.
type ReasoningSegment struct {
	ThreadID    string `json:"threadId"`
	TurnID      string `json:"turnId"`
	ItemID      string `json:"itemId"`
	Channel     string `json:"channel"`
	PartIndex   int    `json:"partIndex"`
	Scope       string `json:"-"`
	EventID     string `json:"eventId"`
	Text        string `json:"text"`
	CursorStart int64  `json:"cursorStart"`
	CursorEnd   int64  `json:"cursorEnd"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// MergeReasoningSegment appends seg.Text to the segment with the same key,
// widening its cursor range, or inserts it when absent.
func (t *Tx) MergeReasoningSegment(ctx context.Context, seg ReasoningSegment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reasoning_segments
		(thread_id, turn_id, item_id, channel, part_index, scope, event_id, text, cursor_start, cursor_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, turn_id, item_id, channel, part_index) DO UPDATE
		SET text = reasoning_segments.text || excluded.text,
		    event_id = excluded.event_id,
		    cursor_start = MIN(reasoning_segments.cursor_start, excluded.cursor_start),
		    cursor_end = MAX(reasoning_segments.cursor_end, excluded.cursor_end),
		    updated_at = excluded.updated_at
	`, seg.ThreadID, seg.TurnID, seg.ItemID, seg.Channel, seg.PartIndex, seg.Scope, seg.EventID, seg.Text,
		seg.CursorStart, seg.CursorEnd, seg.CreatedAt, seg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write reasoning segment: %w", err)
	}
	return nil
}

// ListReasoningSegments returns the reasoning segments of a thread. Raw
// channel segments are included only when includeRaw is set.
func (t *Tx) ListReasoningSegments(ctx context.Context, scope, threadID string, includeRaw bool) ([]ReasoningSegment, error) {
	query := `
		SELECT thread_id, turn_id, item_id, channel, part_index, scope, event_id, text, cursor_start, cursor_end, created_at, updated_at
		FROM reasoning_segments
		WHERE scope = ? AND thread_id = ?`
	if !includeRaw {
		query += ` AND channel = 'summary'`
	}
	query += `
		ORDER BY created_at ASC, turn_id COLLATE BINARY ASC, item_id COLLATE BINARY ASC, channel ASC, part_index ASC`

	return queryList(ctx, t.tx, "reasoning segments", func(s scanner) (ReasoningSegment, error) {
		var seg ReasoningSegment
		err := s.Scan(&seg.ThreadID, &seg.TurnID, &seg.ItemID, &seg.Channel, &seg.PartIndex, &seg.Scope, &seg.EventID,
			&seg.Text, &seg.CursorStart, &seg.CursorEnd, &seg.CreatedAt, &seg.UpdatedAt)
		return seg, err
	}, query, scope, threadID)
}
