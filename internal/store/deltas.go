package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Delta is one persisted stream event.
type Delta struct {
	Scope       string `json:"-"`
	StreamID    string `json:"streamId"`
	EventID     string `json:"eventId"`
	ThreadID    string `json:"threadId"`
	TurnID      string `json:"turnId"`
	CursorStart int64  `json:"cursorStart"`
	CursorEnd   int64  `json:"cursorEnd"`
	Kind        string `json:"kind"`
	Payload     []byte `json:"payload"`
	CreatedAt   int64  `json:"createdAt"`
	ExpiresAt   int64  `json:"expiresAt"`
}

const deltaColumns = `scope, stream_id, event_id, thread_id, turn_id, cursor_start, cursor_end, kind, payload, payload_encoding, created_at, expires_at`

func (t *Tx) scanDelta(s scanner) (Delta, error) {
	var (
		d        Delta
		stored   []byte
		encoding string
	)
	if err := s.Scan(&d.Scope, &d.StreamID, &d.EventID, &d.ThreadID, &d.TurnID, &d.CursorStart, &d.CursorEnd, &d.Kind,
		&stored, &encoding, &d.CreatedAt, &d.ExpiresAt); err != nil {
		return d, err
	}
	payload, err := t.codec.decode(stored, encoding)
	if err != nil {
		return d, err
	}
	d.Payload = payload
	return d, nil
}

// InsertDelta persists a delta payload. Large payloads are stored zstd
// compressed. Uses ON CONFLICT DO NOTHING for idempotency.
func (t *Tx) InsertDelta(ctx context.Context, d Delta) error {
	stored, encoding := t.codec.encode(d.Payload)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stream_deltas (`+deltaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, stream_id, event_id) DO NOTHING
	`, d.Scope, d.StreamID, d.EventID, d.ThreadID, d.TurnID, d.CursorStart, d.CursorEnd, d.Kind,
		stored, encoding, d.CreatedAt, d.ExpiresAt)
	if err != nil {
		return fmt.Errorf("write delta: %w", err)
	}
	return nil
}

// ListDeltasFrom returns up to limit deltas of a stream with
// cursorStart >= from, ordered by cursor.
func (t *Tx) ListDeltasFrom(ctx context.Context, scope, streamID string, from int64, limit int) ([]Delta, error) {
	return queryList(ctx, t.tx, "deltas", t.scanDelta, `
		SELECT `+deltaColumns+`
		FROM stream_deltas
		WHERE scope = ? AND stream_id = ? AND cursor_start >= ?
		ORDER BY cursor_start ASC, event_id COLLATE BINARY ASC
		LIMIT ?
	`, scope, streamID, from, limit)
}

// EarliestDeltaCursor returns the smallest retained cursorStart of a stream.
// ok is false when the stream has no retained deltas.
func (t *Tx) EarliestDeltaCursor(ctx context.Context, scope, streamID string) (cursor int64, ok bool, err error) {
	var v sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `
		SELECT MIN(cursor_start) FROM stream_deltas WHERE scope = ? AND stream_id = ?
	`, scope, streamID).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("query earliest delta: %w", err)
	}
	return v.Int64, v.Valid, nil
}

// CountDeltas returns the number of retained deltas of a stream.
func (t *Tx) CountDeltas(ctx context.Context, scope, streamID string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stream_deltas WHERE scope = ? AND stream_id = ?
	`, scope, streamID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deltas: %w", err)
	}
	return n, nil
}

// DeleteStreamDeltaBatch deletes up to limit deltas of a stream, together
// with their ledger rows, and reports how many deltas were removed. Ledger
// rows of un-persisted events are removed in the same batch.
func (t *Tx) DeleteStreamDeltaBatch(ctx context.Context, scope, streamID string, limit int) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM stream_deltas
		WHERE rowid IN (
			SELECT rowid FROM stream_deltas
			WHERE scope = ? AND stream_id = ?
			ORDER BY cursor_start ASC
			LIMIT ?
		)
	`, scope, streamID, limit)
	if err != nil {
		return 0, fmt.Errorf("delete deltas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete deltas: %w", err)
	}

	ledger, err := t.tx.ExecContext(ctx, `
		DELETE FROM stream_events
		WHERE rowid IN (
			SELECT rowid FROM stream_events
			WHERE scope = ? AND stream_id = ?
			ORDER BY cursor_start ASC
			LIMIT ?
		)
	`, scope, streamID, limit)
	if err != nil {
		return 0, fmt.Errorf("delete ledger: %w", err)
	}
	m, err := ledger.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete ledger: %w", err)
	}
	return int(max(n, m)), nil
}

// DeleteExpiredDeltas deletes up to limit deltas and up to limit ledger rows
// whose expiry is at or before now. Returns the larger of the two counts.
func (t *Tx) DeleteExpiredDeltas(ctx context.Context, now int64, limit int) (int, error) {
	var removed int64
	for _, table := range []string{"stream_deltas", "stream_events"} {
		res, err := t.tx.ExecContext(ctx, `
			DELETE FROM `+table+`
			WHERE rowid IN (
				SELECT rowid FROM `+table+`
				WHERE expires_at <= ?
				ORDER BY expires_at ASC
				LIMIT ?
			)
		`, now, limit)
		if err != nil {
			return 0, fmt.Errorf("delete expired %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete expired %s: %w", table, err)
		}
		removed = max(removed, n)
	}
	return int(removed), nil
}

// LedgerEntry records one accepted stream event in the ingest ledger.
type LedgerEntry struct {
	Scope       string
	StreamID    string
	EventID     string
	CursorStart int64
	CursorEnd   int64
	Fingerprint string
	Persisted   bool
	ExpiresAt   int64
}

// GetLedgerEntry returns the ledger row of an event.
// Returns sql.ErrNoRows if the event was never accepted.
func (t *Tx) GetLedgerEntry(ctx context.Context, scope, streamID, eventID string) (LedgerEntry, error) {
	var e LedgerEntry
	err := t.tx.QueryRowContext(ctx, `
		SELECT scope, stream_id, event_id, cursor_start, cursor_end, fingerprint, persisted, expires_at
		FROM stream_events
		WHERE scope = ? AND stream_id = ? AND event_id = ?
	`, scope, streamID, eventID).Scan(&e.Scope, &e.StreamID, &e.EventID, &e.CursorStart, &e.CursorEnd, &e.Fingerprint, &e.Persisted, &e.ExpiresAt)
	return e, err
}

// InsertLedgerEntry records an accepted event. Uses ON CONFLICT DO NOTHING.
func (t *Tx) InsertLedgerEntry(ctx context.Context, e LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stream_events (scope, stream_id, event_id, cursor_start, cursor_end, fingerprint, persisted, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, stream_id, event_id) DO NOTHING
	`, e.Scope, e.StreamID, e.EventID, e.CursorStart, e.CursorEnd, e.Fingerprint, e.Persisted, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	return nil
}
