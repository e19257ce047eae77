package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

// Worker defaults.
const (
	DefaultMaxAttempts  = 5
	DefaultPollInterval = time.Second
	DefaultBaseBackoff  = time.Second
	MaxBackoff          = 5 * time.Minute

	// claimBatch is how many due tasks one drain round reads.
	claimBatch = 64
)

// handlerFunc runs one task inside the transaction that also marks it done.
type handlerFunc func(ctx context.Context, tx *store.Tx, task store.Task, now int64) error

// Worker drains the outbox.
//
// Thread-safety model:
//   - Wake(), Stop(): safe from any goroutine
//   - Run(), RunOnce(): must be called from exactly one goroutine
//
// Each task runs in its own transaction. The handler's writes and the
// "done" mark commit together, so a crash between them re-runs the task
// rather than losing it.
type Worker struct {
	store        *store.Store
	clock        model.Clock
	ids          model.IDGenerator
	logger       *slog.Logger
	signal       *wakeSignal
	maxAttempts  int
	pollInterval time.Duration
	baseBackoff  time.Duration
	handlers     map[string]handlerFunc
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithClock sets the clock used for due-time and backoff computations.
func WithClock(c model.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithIDs sets the id generator used for re-enqueued tasks.
func WithIDs(ids model.IDGenerator) Option {
	return func(w *Worker) { w.ids = ids }
}

// WithMaxAttempts sets how many times a task runs before it is marked
// failed. Values below 2 are raised to 2, so every task is retried at
// least once.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = max(2, n) }
}

// WithPollInterval bounds how long Run sleeps when no task is due.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithBaseBackoff sets the delay before the first retry. Later retries
// double it, up to MaxBackoff.
func WithBaseBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.baseBackoff = d
		}
	}
}

// New creates a Worker over s.
func New(s *store.Store, opts ...Option) *Worker {
	w := &Worker{
		store:        s,
		clock:        model.SystemClock{},
		ids:          model.UUIDv7Generator{},
		logger:       slog.Default(),
		signal:       newWakeSignal(),
		maxAttempts:  DefaultMaxAttempts,
		pollInterval: DefaultPollInterval,
		baseBackoff:  DefaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.handlers = map[string]handlerFunc{
		KindFinalizeTurn:         w.finalizeTurn,
		KindCleanupStream:        w.cleanupStream,
		KindTimeoutStream:        w.timeoutStream,
		KindCleanupExpiredDeltas: w.cleanupExpiredDeltas,
		KindTimeoutStaleSessions: w.timeoutStaleSessions,
	}
	return w
}

// Wake tells a running loop that new tasks may be due.
// Safe from any goroutine; a no-op after Stop.
func (w *Worker) Wake() {
	w.signal.Notify()
}

// Stop makes Run return. Idempotent.
func (w *Worker) Stop() {
	w.signal.Close()
}

// Run drains due tasks, then sleeps until the next task is due, Wake is
// called, or the poll interval passes. Blocks until ctx is cancelled or
// Stop is called.
//
// A task that fails is retried with backoff; a drain error (the store
// itself failing) is logged and the loop continues.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("outbox worker starting")

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("outbox worker stopping: context cancelled")
				w.signal.Close()
				return ctx.Err()
			}
			w.logger.Error("outbox drain failed", "error", err)
		}

		timer := time.NewTimer(w.nextWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("outbox worker stopping: context cancelled")
			w.signal.Close()
			return ctx.Err()

		case <-w.signal.Wait():
			timer.Stop()
			if w.signal.Closed() {
				w.logger.Info("outbox worker stopping: stopped")
				return nil
			}

		case <-timer.C:
		}
	}
}

// RunOnce runs every task due now, including tasks re-enqueued for
// immediate execution by the tasks it runs. Returns how many task
// executions were attempted.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	ran := 0
	for {
		now := model.NowMillis(w.clock)
		var due []store.Task
		err := w.store.View(ctx, func(tx *store.Tx) error {
			var err error
			due, err = tx.ListDueTasks(ctx, now, claimBatch)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("list due tasks: %w", err)
		}
		if len(due) == 0 {
			return ran, nil
		}
		for _, task := range due {
			if err := ctx.Err(); err != nil {
				return ran, err
			}
			if err := w.runTask(ctx, task); err != nil {
				return ran, err
			}
			ran++
		}
	}
}

// errNotDue marks a task that another drain already settled or
// rescheduled between listing and claiming.
var errNotDue = errors.New("task no longer due")

// runTask executes one task. Handler failures are recorded on the task and
// are not returned; only store failures are.
func (w *Worker) runTask(ctx context.Context, task store.Task) error {
	now := model.NowMillis(w.clock)
	logger := w.logger.With("task_id", task.ID, "kind", task.Kind)

	handler, ok := w.handlers[task.Kind]
	if !ok {
		logger.Error("unknown task kind")
		return w.recordFailure(ctx, task, now, fmt.Errorf("unknown task kind %q", task.Kind), true)
	}

	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetTask(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if current.Status != store.TaskPending || current.RunAt > now {
			return errNotDue
		}
		if err := handler(ctx, tx, current, now); err != nil {
			return err
		}
		return tx.CompleteTask(ctx, task.ID, now)
	})
	switch {
	case err == nil:
		logger.Debug("task done")
		return nil
	case errors.Is(err, errNotDue):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}

	final := task.Attempts+1 >= w.maxAttempts
	if final {
		logger.Error("task failed permanently", "error", err, "attempts", task.Attempts+1)
	} else {
		logger.Warn("task failed, will retry", "error", err, "attempts", task.Attempts+1)
	}
	return w.recordFailure(ctx, task, now, err, final)
}

func (w *Worker) recordFailure(ctx context.Context, task store.Task, now int64, cause error, final bool) error {
	retryAt := now + w.backoff(task.Attempts+1).Milliseconds()
	if err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.FailTask(ctx, task.ID, cause.Error(), retryAt, final, now)
	}); err != nil {
		return fmt.Errorf("record task failure: %w", err)
	}
	return nil
}

// backoff returns the delay before retry number attempt (1-based).
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

// nextWait returns how long Run may sleep before the next task is due.
func (w *Worker) nextWait(ctx context.Context) time.Duration {
	var (
		runAt int64
		ok    bool
	)
	err := w.store.View(ctx, func(tx *store.Tx) error {
		var err error
		runAt, ok, err = tx.NextTaskRunAt(ctx)
		return err
	})
	if err != nil || !ok {
		return w.pollInterval
	}
	wait := time.Duration(runAt-model.NowMillis(w.clock)) * time.Millisecond
	return min(max(wait, 10*time.Millisecond), w.pollInterval)
}

// enqueue schedules a follow-up task from inside a handler.
func (w *Worker) enqueue(ctx context.Context, tx *store.Tx, p Payload, runAt, now int64) error {
	_, err := Enqueue(ctx, tx, w.ids, p, runAt, now)
	return err
}

// Purge deletes done tasks last updated more than olderThan ago.
func (w *Worker) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := model.NowMillis(w.clock) - olderThan.Milliseconds()
	var n int
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.PurgeTasks(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("purged done tasks", "count", n)
	}
	return n, nil
}
