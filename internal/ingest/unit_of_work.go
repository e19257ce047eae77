package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/streamsync/internal/store"
)

// errFlushed is returned when a patch is buffered after the unit of work
// was flushed.
var errFlushed = errors.New("ingest: message patch after flush")

type messageKey struct {
	turnID    string
	messageID string
}

// unitOfWork memoizes the rows one batch reads and buffers message patches
// until the end of the batch. It belongs to a single Ingest call.
//
// A nil map value records a lookup that found nothing, so absent rows are
// not queried twice.
type unitOfWork struct {
	tx       *store.Tx
	scope    string
	threadID string

	turns     map[string]*store.Turn
	messages  map[messageKey]*store.Message
	approvals map[messageKey]*store.Approval
	streams   map[string]*store.Stream
	nextOrder map[string]int64

	dirty   map[messageKey]bool
	flushed bool
}

func newUnitOfWork(tx *store.Tx, scope, threadID string) *unitOfWork {
	return &unitOfWork{
		tx:        tx,
		scope:     scope,
		threadID:  threadID,
		turns:     make(map[string]*store.Turn),
		messages:  make(map[messageKey]*store.Message),
		approvals: make(map[messageKey]*store.Approval),
		streams:   make(map[string]*store.Stream),
		nextOrder: make(map[string]int64),
		dirty:     make(map[messageKey]bool),
	}
}

// turn returns the turn row, or nil when it does not exist.
func (u *unitOfWork) turn(ctx context.Context, turnID string) (*store.Turn, error) {
	if tr, ok := u.turns[turnID]; ok {
		return tr, nil
	}
	tr, err := u.tx.GetTurn(ctx, u.threadID, turnID)
	if store.IsNotFound(err) {
		u.turns[turnID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load turn %s: %w", turnID, err)
	}
	u.turns[turnID] = &tr
	return &tr, nil
}

func (u *unitOfWork) putTurn(tr store.Turn) {
	u.turns[tr.TurnID] = &tr
}

// message returns the message row, or nil when it does not exist.
// The returned pointer is the cached row; callers mutate it and call
// patchMessage.
func (u *unitOfWork) message(ctx context.Context, turnID, messageID string) (*store.Message, error) {
	key := messageKey{turnID, messageID}
	if m, ok := u.messages[key]; ok {
		return m, nil
	}
	m, err := u.tx.GetMessage(ctx, u.threadID, turnID, messageID)
	if store.IsNotFound(err) {
		u.messages[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	u.messages[key] = &m
	return &m, nil
}

// insertMessage writes a new message immediately and caches it.
func (u *unitOfWork) insertMessage(ctx context.Context, m store.Message) error {
	if err := u.tx.InsertMessage(ctx, m); err != nil {
		return err
	}
	u.messages[messageKey{m.TurnID, m.MessageID}] = &m
	return nil
}

// patchMessage records that the cached row for m changed. Repeated patches
// of one row coalesce; the row's last values are written on flush.
func (u *unitOfWork) patchMessage(m *store.Message) error {
	if u.flushed {
		return errFlushed
	}
	key := messageKey{m.TurnID, m.MessageID}
	u.messages[key] = m
	u.dirty[key] = true
	return nil
}

// setMessage replaces a cached row that was written directly.
func (u *unitOfWork) setMessage(m store.Message) {
	u.messages[messageKey{m.TurnID, m.MessageID}] = &m
}

// nextOrderInTurn hands out the next orderInTurn of a turn, seeding the
// counter from the store on first use.
func (u *unitOfWork) nextOrderInTurn(ctx context.Context, turnID string) (int64, error) {
	next, ok := u.nextOrder[turnID]
	if !ok {
		var err error
		next, err = u.tx.NextOrderInTurn(ctx, u.threadID, turnID)
		if err != nil {
			return 0, err
		}
	}
	u.nextOrder[turnID] = next + 1
	return next, nil
}

// approval returns the approval row, or nil when it does not exist.
func (u *unitOfWork) approval(ctx context.Context, turnID, itemID string) (*store.Approval, error) {
	key := messageKey{turnID, itemID}
	if a, ok := u.approvals[key]; ok {
		return a, nil
	}
	a, err := u.tx.GetApproval(ctx, u.threadID, turnID, itemID)
	if store.IsNotFound(err) {
		u.approvals[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load approval %s: %w", itemID, err)
	}
	u.approvals[key] = &a
	return &a, nil
}

func (u *unitOfWork) putApproval(a store.Approval) {
	u.approvals[messageKey{a.TurnID, a.ItemID}] = &a
}

// stream returns the stream row of the actor's scope, or nil when absent.
func (u *unitOfWork) stream(ctx context.Context, streamID string) (*store.Stream, error) {
	if st, ok := u.streams[streamID]; ok {
		return st, nil
	}
	st, err := u.tx.GetStream(ctx, u.scope, streamID)
	if store.IsNotFound(err) {
		u.streams[streamID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", streamID, err)
	}
	u.streams[streamID] = &st
	return &st, nil
}

func (u *unitOfWork) putStream(st store.Stream) {
	u.streams[st.StreamID] = &st
}

// flush writes every patched message once, in key order. A unit of work
// is flushed exactly once; later patches fail.
func (u *unitOfWork) flush(ctx context.Context) (int, error) {
	if u.flushed {
		return 0, errFlushed
	}
	u.flushed = true

	keys := make([]messageKey, 0, len(u.dirty))
	for k := range u.dirty {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b messageKey) int {
		if a.turnID != b.turnID {
			return cmp.Compare(a.turnID, b.turnID)
		}
		return cmp.Compare(a.messageID, b.messageID)
	})
	for _, k := range keys {
		if err := u.tx.UpdateMessage(ctx, *u.messages[k]); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
