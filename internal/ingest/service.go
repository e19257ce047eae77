package ingest

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

// Notifier is told when a commit appended outbox tasks.
// outbox.Worker implements it.
type Notifier interface {
	Wake()
}

// Service is the write side of the sync layer.
//
// Thread-safety: safe for concurrent use. Batches are serialized by the
// store's single connection; no state is shared between calls.
type Service struct {
	store    *store.Store
	clock    model.Clock
	ids      model.IDGenerator
	logger   *slog.Logger
	notifier Notifier
	defaults *config.RuntimeInput
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock stamped on rows.
func WithClock(c model.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDs sets the generator for outbox task ids and rolled-over sessions.
func WithIDs(ids model.IDGenerator) Option {
	return func(s *Service) { s.ids = ids }
}

// WithNotifier sets who is woken after a batch commits.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRuntimeDefaults sets options that apply when a batch leaves a field
// unset. Per-batch options still win.
func WithRuntimeDefaults(in *config.RuntimeInput) Option {
	return func(s *Service) { s.defaults = in }
}

// New creates a Service over s.
func New(s *store.Store, opts ...Option) *Service {
	svc := &Service{
		store:  s,
		clock:  model.SystemClock{},
		ids:    model.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Ingest applies one batch atomically. See the package documentation for
// the order of operations.
func (s *Service) Ingest(ctx context.Context, args Args) (Result, error) {
	if err := args.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		res, err = s.ingestTx(ctx, tx, args)
		return err
	})
	if err != nil {
		s.logger.Debug("ingest rejected",
			"thread_id", args.ThreadID,
			"session_id", args.SessionID,
			"code", model.CodeOf(err),
			"error", err,
		)
		return Result{}, err
	}

	s.logger.Debug("ingest committed",
		"thread_id", args.ThreadID,
		"session_id", args.SessionID,
		"status", res.IngestStatus,
		"streams", len(res.AckedStreams),
	)
	s.notify()
	return res, nil
}

func (s *Service) notify() {
	if s.notifier != nil {
		s.notifier.Wake()
	}
}

func (s *Service) ingestTx(ctx context.Context, tx *store.Tx, args Args) (Result, error) {
	events, err := Normalize(args.StreamDeltas, args.LifecycleEvents)
	if err != nil {
		return Result{}, err
	}
	if len(events) == 0 {
		return Result{}, &model.SyncError{
			Code:     model.ErrCodeEmptyBatch,
			Message:  "ingest received an empty batch",
			ThreadID: args.ThreadID,
		}
	}

	scope := args.Actor.Scope()
	if _, err := requireThread(ctx, tx, scope, args.ThreadID); err != nil {
		return Result{}, err
	}
	session, err := requireBoundSession(ctx, tx, scope, args.SessionID, args.ThreadID)
	if err != nil {
		return Result{}, err
	}

	b := newBatch(s, tx, scope, args.ThreadID, config.Resolve(config.Merge(s.defaults, args.Runtime)), session)

	for i := range events {
		ev := &events[i]
		if err := b.ensureTurn(ctx, ev); err != nil {
			return Result{}, err
		}

		var (
			fresh bool
			err   error
		)
		if ev.Lifecycle {
			fresh, err = b.persistLifecycleEvent(ctx, ev)
		} else {
			fresh, err = b.admitStreamEvent(ctx, ev)
		}
		if err != nil {
			return Result{}, err
		}
		if !fresh {
			continue
		}

		b.collectTurnSignals(ev)
		b.collectApprovals(ev)
		if err := b.applyMessage(ctx, ev); err != nil {
			return Result{}, err
		}
		if !ev.Lifecycle {
			if err := b.recordStreamEvent(ctx, ev); err != nil {
				return Result{}, err
			}
		}
	}

	if _, err := b.uow.flush(ctx); err != nil {
		return Result{}, err
	}
	if err := b.finalizeTurns(ctx); err != nil {
		return Result{}, err
	}
	if err := b.finalizeApprovals(ctx); err != nil {
		return Result{}, err
	}
	if err := b.flushStreamStats(ctx); err != nil {
		return Result{}, err
	}
	if err := b.applyCheckpoints(ctx); err != nil {
		return Result{}, err
	}
	if err := b.patchSession(ctx); err != nil {
		return Result{}, err
	}
	if err := b.scheduleMaintenance(ctx); err != nil {
		return Result{}, err
	}

	return Result{AckedStreams: b.ackedStreams(), IngestStatus: b.status}, nil
}

// batch is the per-call state of one Ingest.
type batch struct {
	tx       *store.Tx
	uow      *unitOfWork
	ids      model.IDGenerator
	logger   *slog.Logger
	scope    string
	threadID string
	runtime  config.RuntimeOptions
	session  store.Session
	now      int64

	knownTurns   map[string]bool
	startedTurns map[string]bool
	terminal     map[string]model.TerminalStatus

	pendingApprovals  map[string]approvalRequest
	resolvedApprovals map[string]approvalResolution

	inBatchEventIDs map[string]bool
	expected        map[string]int64
	checkpoints     map[string]int64
	stats           map[string]*store.StatsDelta

	lastPersistedCursor int64
	persistedAny        bool
	status              model.IngestStatus
}

func newBatch(s *Service, tx *store.Tx, scope, threadID string, runtime config.RuntimeOptions, session store.Session) *batch {
	return &batch{
		tx:                  tx,
		uow:                 newUnitOfWork(tx, scope, threadID),
		ids:                 s.ids,
		logger:              s.logger.With("thread_id", threadID),
		scope:               scope,
		threadID:            threadID,
		runtime:             runtime,
		session:             session,
		now:                 model.NowMillis(s.clock),
		knownTurns:          make(map[string]bool),
		startedTurns:        make(map[string]bool),
		terminal:            make(map[string]model.TerminalStatus),
		pendingApprovals:    make(map[string]approvalRequest),
		resolvedApprovals:   make(map[string]approvalResolution),
		inBatchEventIDs:     make(map[string]bool),
		expected:            make(map[string]int64),
		checkpoints:         make(map[string]int64),
		stats:               make(map[string]*store.StatsDelta),
		lastPersistedCursor: session.LastEventCursor,
		status:              model.IngestOK,
	}
}

func (b *batch) ackedStreams() []AckedStream {
	acked := make([]AckedStream, 0, len(b.checkpoints))
	for id, cursor := range b.checkpoints {
		acked = append(acked, AckedStream{StreamID: id, AckCursorEnd: cursor})
	}
	slices.SortFunc(acked, func(a, b AckedStream) int {
		return cmp.Compare(a.StreamID, b.StreamID)
	})
	return acked
}

// sortedKeys returns the keys of m in ascending order, so settle steps
// write rows in a deterministic order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
