package outbox

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
)

// Task kinds.
const (
	KindFinalizeTurn         = "finalize_turn"
	KindCleanupStream        = "cleanup_stream"
	KindTimeoutStream        = "timeout_stream"
	KindCleanupExpiredDeltas = "cleanup_expired_deltas"
	KindTimeoutStaleSessions = "timeout_stale_sessions"
)

// Batch sizes for the purge handlers.
const (
	DefaultStreamDeleteBatchSize = 500
	MaxStreamDeleteBatchSize     = 2000
	DefaultDeltaCleanupBatchSize = 1000
	MaxDeltaCleanupBatchSize     = 5000
	DefaultStaleSessionBatchSize = 500
)

// Payload is the body of one outbox task.
type Payload interface {
	TaskKind() string
}

// FinalizeTurn settles a turn after a terminal signal was ingested.
type FinalizeTurn struct {
	Scope    string           `cbor:"scope"`
	ThreadID string           `cbor:"threadId"`
	TurnID   string           `cbor:"turnId"`
	Status   model.TurnStatus `cbor:"status"`
	Code     string           `cbor:"code,omitempty"`
	Error    string           `cbor:"error,omitempty"`
	// CleanupDelayMs is the finishedStreamDeleteDelayMs in force when the
	// terminal signal arrived.
	CleanupDelayMs int64 `cbor:"cleanupDelayMs"`
}

// TaskKind implements Payload.
func (FinalizeTurn) TaskKind() string { return KindFinalizeTurn }

// CleanupStream purges the buffered deltas of a stream in batches.
type CleanupStream struct {
	Scope     string `cbor:"scope"`
	StreamID  string `cbor:"streamId"`
	BatchSize int    `cbor:"batchSize,omitempty"`
}

// TaskKind implements Payload.
func (CleanupStream) TaskKind() string { return KindCleanupStream }

// TimeoutStream aborts a stream with no heartbeat within TimeoutMs.
type TimeoutStream struct {
	Scope          string `cbor:"scope"`
	StreamID       string `cbor:"streamId"`
	TimeoutMs      int64  `cbor:"timeoutMs"`
	CleanupDelayMs int64  `cbor:"cleanupDelayMs"`
}

// TaskKind implements Payload.
func (TimeoutStream) TaskKind() string { return KindTimeoutStream }

// CleanupExpiredDeltas removes deltas past their TTL.
type CleanupExpiredDeltas struct {
	BatchSize int `cbor:"batchSize,omitempty"`
}

// TaskKind implements Payload.
func (CleanupExpiredDeltas) TaskKind() string { return KindCleanupExpiredDeltas }

// TimeoutStaleSessions marks active sessions without a heartbeat since
// StaleBefore as stale.
type TimeoutStaleSessions struct {
	StaleBefore int64 `cbor:"staleBefore"`
	BatchSize   int   `cbor:"batchSize,omitempty"`
}

// TaskKind implements Payload.
func (TimeoutStaleSessions) TaskKind() string { return KindTimeoutStaleSessions }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("outbox: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("outbox: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a payload.
func Encode(p Payload) ([]byte, error) {
	data, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.TaskKind(), err)
	}
	return data, nil
}

// Decode deserializes a task payload into dst.
func Decode(task store.Task, dst Payload) error {
	if task.Kind != dst.TaskKind() {
		return fmt.Errorf("decode payload: task %s has kind %s, want %s", task.ID, task.Kind, dst.TaskKind())
	}
	if err := decMode.Unmarshal(task.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	return nil
}

// Enqueue appends p to the outbox inside tx, to run no earlier than runAt.
// Returns the new task id.
func Enqueue(ctx context.Context, tx *store.Tx, ids model.IDGenerator, p Payload, runAt, now int64) (string, error) {
	data, err := Encode(p)
	if err != nil {
		return "", err
	}
	id := ids.NewID()
	if err := tx.InsertTask(ctx, store.Task{
		ID:        id,
		Kind:      p.TaskKind(),
		Payload:   data,
		RunAt:     runAt,
		Status:    store.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", p.TaskKind(), err)
	}
	return id, nil
}

// clampBatch bounds a requested batch size to [1, ceiling], with def for zero.
func clampBatch(n, def, ceiling int) int {
	if n <= 0 {
		return def
	}
	return min(n, ceiling)
}
