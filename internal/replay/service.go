package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

// Service answers replay queries.
//
// Thread-safety: safe for concurrent use. Every call reads one snapshot.
type Service struct {
	store    *store.Store
	logger   *slog.Logger
	defaults *config.RuntimeInput
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRuntimeDefaults sets read budgets that apply when a request leaves
// them unset.
func WithRuntimeDefaults(in *config.RuntimeInput) Option {
	return func(s *Service) { s.defaults = in }
}

// New creates a Service over s.
func New(s *store.Store, opts ...Option) *Service {
	svc := &Service{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// PullState returns the streams of a thread and one window per requested
// stream, within the request's delta budget.
func (s *Service) PullState(ctx context.Context, args Args) (State, error) {
	if err := args.Validate(); err != nil {
		return State{}, err
	}
	scope := args.Actor.Scope()
	opts := config.Resolve(config.Merge(s.defaults, args.Runtime))

	state := State{
		Streams:         []StreamInfo{},
		StreamWindows:   []Window{},
		NextCheckpoints: []Checkpoint{},
		Deltas:          []Delta{},
	}
	err := s.store.View(ctx, func(tx *store.Tx) error {
		if err := requireThread(ctx, tx, scope, args.ThreadID); err != nil {
			return err
		}

		streams, err := tx.ListThreadStreams(ctx, scope, args.ThreadID)
		if err != nil {
			return err
		}
		for _, st := range streams {
			state.Streams = append(state.Streams, StreamInfo{StreamID: st.StreamID, State: st.State})
		}

		var (
			budget = opts.MaxDeltasPerRequestRead
			seen   = make(map[string]bool, len(args.StreamCursorsByID))
			read   []store.Delta
		)
		for _, c := range args.StreamCursorsByID {
			if budget <= 0 {
				break
			}
			if seen[c.StreamID] {
				continue
			}
			seen[c.StreamID] = true

			checkpoint, err := tx.GetCheckpoint(ctx, scope, args.ThreadID, c.StreamID)
			if err != nil {
				return err
			}
			w, deltas, err := readWindow(ctx, tx, scope, args.ThreadID, c.StreamID, max(c.Cursor, checkpoint), min(opts.MaxDeltasPerStreamRead, budget))
			if err != nil {
				return err
			}
			if w.Status != WindowOK {
				s.logger.Debug("replay window degraded",
					"thread_id", args.ThreadID,
					"stream_id", c.StreamID,
					"status", w.Status,
					"cursor", c.Cursor,
					"server_cursor", w.ServerCursorStart,
				)
			}

			state.StreamWindows = append(state.StreamWindows, w)
			state.NextCheckpoints = append(state.NextCheckpoints, Checkpoint{StreamID: c.StreamID, Cursor: w.ServerCursorEnd})
			state.Deltas = append(state.Deltas, toDeltas(deltas)...)
			read = append(read, deltas...)
			budget -= len(deltas)
		}
		state.Snapshots = snapshotsOf(read)
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return state, nil
}

// ResumeFromCursor replays the primary stream of one turn from a cursor.
// Unlike PullState the stored checkpoint is not consulted: the caller's
// cursor is where the window starts. With Strict set, a window that cannot
// continue from the cursor fails with E_SYNC_REPLAY_GAP instead of being
// returned.
func (s *Service) ResumeFromCursor(ctx context.Context, args ResumeArgs) (ResumeResult, error) {
	if err := args.Validate(); err != nil {
		return ResumeResult{}, err
	}
	scope := args.Actor.Scope()
	opts := config.Resolve(config.Merge(s.defaults, args.Runtime))
	streamID := TurnStreamID(args.ThreadID, args.TurnID)

	var res ResumeResult
	err := s.store.View(ctx, func(tx *store.Tx) error {
		if err := requireThread(ctx, tx, scope, args.ThreadID); err != nil {
			return err
		}
		if err := requireTurn(ctx, tx, scope, args.ThreadID, args.TurnID); err != nil {
			return err
		}

		w, deltas, err := readWindow(ctx, tx, scope, args.ThreadID, streamID, args.FromCursor, opts.MaxDeltasPerRequestRead)
		if err != nil {
			return err
		}
		if args.Strict && w.Status != WindowOK {
			gap := model.NewReplayGapError(streamID, args.FromCursor, w.ServerCursorStart, string(w.Status))
			gap.ThreadID = args.ThreadID
			return gap
		}
		res = ResumeResult{Deltas: toDeltas(deltas), NextCursor: w.ServerCursorEnd, Window: w}
		return nil
	})
	if err != nil {
		return ResumeResult{}, err
	}
	return res, nil
}

func requireThread(ctx context.Context, tx *store.Tx, scope, threadID string) error {
	th, err := tx.GetThread(ctx, threadID)
	if store.IsNotFound(err) {
		return &model.SyncError{Code: model.ErrCodeThreadNotFound, Message: "thread not found", ThreadID: threadID}
	}
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}
	if th.Scope != scope {
		return &model.SyncError{Code: model.ErrCodeThreadForbidden, Message: "thread belongs to another scope", ThreadID: threadID}
	}
	return nil
}

func requireTurn(ctx context.Context, tx *store.Tx, scope, threadID, turnID string) error {
	tr, err := tx.GetTurn(ctx, threadID, turnID)
	if store.IsNotFound(err) {
		return &model.SyncError{
			Code:     model.ErrCodeTurnNotFound,
			Message:  fmt.Sprintf("turn %s not found", turnID),
			ThreadID: threadID,
		}
	}
	if err != nil {
		return fmt.Errorf("load turn: %w", err)
	}
	if tr.Scope != scope {
		return &model.SyncError{Code: model.ErrCodeTurnForbidden, Message: "turn belongs to another scope", ThreadID: threadID}
	}
	return nil
}
