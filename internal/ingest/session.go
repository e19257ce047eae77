package ingest

import (
	"context"
	"fmt"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/outbox"
	"github.com/roach88/streamsync/internal/store"
)

// requireThread returns the thread if it exists and belongs to scope.
func requireThread(ctx context.Context, tx *store.Tx, scope, threadID string) (store.Thread, error) {
	th, err := tx.GetThread(ctx, threadID)
	if store.IsNotFound(err) {
		return store.Thread{}, &model.SyncError{
			Code:     model.ErrCodeThreadNotFound,
			Message:  "thread not found",
			ThreadID: threadID,
		}
	}
	if err != nil {
		return store.Thread{}, fmt.Errorf("load thread: %w", err)
	}
	if th.Scope != scope {
		return store.Thread{}, &model.SyncError{
			Code:     model.ErrCodeThreadForbidden,
			Message:  "thread belongs to another scope",
			ThreadID: threadID,
		}
	}
	return th, nil
}

// requireBoundSession returns the session a batch names. The session must
// exist, belong to scope, be bound to threadID and be active, checked in
// that order. A stale, ended or failed session reads as not found so that
// SafeIngest rolls over to a fresh one.
func requireBoundSession(ctx context.Context, tx *store.Tx, scope, sessionID, threadID string) (store.Session, error) {
	se, err := tx.GetSession(ctx, sessionID)
	if store.IsNotFound(err) {
		return store.Session{}, &model.SyncError{
			Code:     model.ErrCodeSessionNotFound,
			Message:  "no session found for sessionId=" + sessionID,
			ThreadID: threadID,
		}
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("load session: %w", err)
	}
	if err := checkSessionOwner(se, scope, threadID); err != nil {
		return store.Session{}, err
	}
	if se.Status != model.SessionActive {
		return store.Session{}, &model.SyncError{
			Code:     model.ErrCodeSessionNotFound,
			Message:  fmt.Sprintf("no active session found for sessionId=%s (status=%s)", sessionID, se.Status),
			ThreadID: threadID,
		}
	}
	return se, nil
}

func checkSessionOwner(se store.Session, scope, threadID string) error {
	if se.Scope != scope {
		return &model.SyncError{
			Code:     model.ErrCodeSessionForbidden,
			Message:  "session " + se.SessionID + " belongs to another scope",
			ThreadID: threadID,
		}
	}
	if se.ThreadID != threadID {
		return &model.SyncError{
			Code:     model.ErrCodeSessionThreadMismatch,
			Message:  fmt.Sprintf("session threadId=%s does not match request threadId=%s", se.ThreadID, threadID),
			ThreadID: threadID,
		}
	}
	return nil
}

// EnsureSession creates the session, or marks an existing one active and
// raises its lastEventCursor to max(existing, incoming).
func (s *Service) EnsureSession(ctx context.Context, args SessionArgs) (SessionResult, error) {
	if err := args.Validate(); err != nil {
		return SessionResult{}, err
	}
	scope := args.Actor.Scope()
	now := model.NowMillis(s.clock)
	res := SessionResult{SessionID: args.SessionID, ThreadID: args.ThreadID}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := requireThread(ctx, tx, scope, args.ThreadID); err != nil {
			return err
		}
		se, err := tx.GetSession(ctx, args.SessionID)
		if store.IsNotFound(err) {
			res.Status = SessionCreated
			return tx.InsertSession(ctx, store.Session{
				SessionID:       args.SessionID,
				Scope:           scope,
				ThreadID:        args.ThreadID,
				Status:          model.SessionActive,
				LastHeartbeatAt: now,
				LastEventCursor: args.LastEventCursor,
				StartedAt:       now,
			})
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if err := checkSessionOwner(se, scope, args.ThreadID); err != nil {
			return err
		}
		res.Status = SessionActive
		return tx.UpdateSession(ctx, args.SessionID, model.SessionActive, now, max(se.LastEventCursor, args.LastEventCursor))
	})
	if err != nil {
		return SessionResult{}, err
	}
	s.logger.Debug("session heartbeat", "thread_id", args.ThreadID, "session_id", args.SessionID, "status", res.Status)
	return res, nil
}

// Heartbeat is EnsureSession without the result.
func (s *Service) Heartbeat(ctx context.Context, args SessionArgs) error {
	_, err := s.EnsureSession(ctx, args)
	return err
}

// EnsureThread creates an active thread owned by actor, or returns the
// existing one.
func (s *Service) EnsureThread(ctx context.Context, actor model.Actor, threadID, modelName, cwd string) (store.Thread, error) {
	if threadID == "" {
		return store.Thread{}, model.NewSyncError(model.ErrCodeInvalidArgs, "threadId is required")
	}
	scope := actor.Scope()
	now := model.NowMillis(s.clock)

	var th store.Thread
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetThread(ctx, threadID)
		if err == nil {
			if existing.Scope != scope {
				return &model.SyncError{
					Code:     model.ErrCodeThreadForbidden,
					Message:  "thread belongs to another scope",
					ThreadID: threadID,
				}
			}
			th = existing
			return nil
		}
		if !store.IsNotFound(err) {
			return fmt.Errorf("load thread: %w", err)
		}
		th = store.Thread{
			ThreadID:  threadID,
			Scope:     scope,
			Status:    model.ThreadActive,
			Model:     modelName,
			Cwd:       cwd,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertThread(ctx, th)
	})
	if err != nil {
		return store.Thread{}, err
	}
	return th, nil
}

// patchSession marks the batch's session active, raises its cursor to the
// last persisted cursor and refreshes the heartbeat when anything was
// persisted or the previous heartbeat is old enough.
func (b *batch) patchSession(ctx context.Context) error {
	heartbeat := b.session.LastHeartbeatAt
	if b.persistedAny || b.now-heartbeat >= config.HeartbeatWriteInterval.Milliseconds() {
		heartbeat = b.now
	}
	cursor := max(b.session.LastEventCursor, b.lastPersistedCursor)
	return b.tx.UpdateSession(ctx, b.session.SessionID, model.SessionActive, heartbeat, cursor)
}

// scheduleMaintenance appends the periodic sweeps, paced by how long ago
// the session last heartbeated.
func (b *batch) scheduleMaintenance(ctx context.Context) error {
	since := b.now - b.session.LastHeartbeatAt

	if since >= config.StaleSessionSweepPeriod.Milliseconds() {
		if _, err := outbox.Enqueue(ctx, b.tx, b.ids, outbox.TimeoutStaleSessions{
			StaleBefore: b.now - config.StaleSessionThreshold.Milliseconds(),
		}, b.now, b.now); err != nil {
			return err
		}
	}
	if b.persistedAny && since >= config.DeltaCleanupPeriod.Milliseconds() {
		if _, err := outbox.Enqueue(ctx, b.tx, b.ids, outbox.CleanupExpiredDeltas{
			BatchSize: outbox.DefaultDeltaCleanupBatchSize,
		}, b.now, b.now); err != nil {
			return err
		}
	}
	return nil
}
