package ingest

import (
	"context"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

// applyCheckpoints raises the stored checkpoint of every stream the batch
// touched. Checkpoints never move backwards.
func (b *batch) applyCheckpoints(ctx context.Context) error {
	for _, streamID := range sortedKeys(b.checkpoints) {
		st, err := b.uow.stream(ctx, streamID)
		if err != nil {
			return err
		}
		if st == nil || st.ThreadID != b.threadID {
			return &model.SyncError{
				Code:     model.ErrCodeStreamNotBound,
				Message:  "stream is not bound to this thread",
				ThreadID: b.threadID,
				StreamID: streamID,
			}
		}
		if err := b.tx.UpsertCheckpoint(ctx, b.scope, b.threadID, streamID, b.checkpoints[streamID], b.now); err != nil {
			return err
		}
	}
	return nil
}

// UpsertCheckpoint records a client acknowledgement of a stream cursor.
// Negative cursors are floored at 0; a lower cursor than stored is ignored.
func (s *Service) UpsertCheckpoint(ctx context.Context, args CheckpointArgs) error {
	if err := args.Validate(); err != nil {
		return err
	}
	scope := args.Actor.Scope()
	now := model.NowMillis(s.clock)
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := requireThread(ctx, tx, scope, args.ThreadID); err != nil {
			return err
		}
		return tx.UpsertCheckpoint(ctx, scope, args.ThreadID, args.StreamID, max(0, args.Cursor), now)
	})
}
