package config

import (
	"time"

	"github.com/roach88/streamsync/internal/wire"
)

// Defaults and bounds for runtime options.
const (
	DefaultMaxDeltasPerStreamRead      = 100
	DefaultMaxDeltasPerRequestRead     = 1000
	DefaultFinishedStreamDeleteDelayMs = 300_000
	DefaultStreamTimeoutMs             = 600_000
	MinStreamTimeoutMs                 = 1_000
)

// Fixed retention and liveness intervals.
const (
	DeltaTTL                = 24 * time.Hour
	HeartbeatWriteInterval  = 10 * time.Second
	StaleSessionSweepPeriod = 60 * time.Second
	StaleSessionThreshold   = 3 * time.Minute
	DeltaCleanupPeriod      = 300 * time.Second
)

// RuntimeInput is the caller-supplied, partially specified option set.
// A nil field takes its default.
type RuntimeInput struct {
	SaveStreamDeltas            *bool  `json:"saveStreamDeltas,omitempty" yaml:"saveStreamDeltas,omitempty"`
	SaveReasoningDeltas         *bool  `json:"saveReasoningDeltas,omitempty" yaml:"saveReasoningDeltas,omitempty"`
	ExposeRawReasoningDeltas    *bool  `json:"exposeRawReasoningDeltas,omitempty" yaml:"exposeRawReasoningDeltas,omitempty"`
	MaxDeltasPerStreamRead      *int   `json:"maxDeltasPerStreamRead,omitempty" yaml:"maxDeltasPerStreamRead,omitempty"`
	MaxDeltasPerRequestRead     *int   `json:"maxDeltasPerRequestRead,omitempty" yaml:"maxDeltasPerRequestRead,omitempty"`
	FinishedStreamDeleteDelayMs *int64 `json:"finishedStreamDeleteDelayMs,omitempty" yaml:"finishedStreamDeleteDelayMs,omitempty"`
	StreamTimeoutMs             *int64 `json:"streamTimeoutMs,omitempty" yaml:"streamTimeoutMs,omitempty"`
}

// RuntimeOptions is the fully resolved option set.
type RuntimeOptions struct {
	SaveStreamDeltas            bool  `json:"saveStreamDeltas"`
	SaveReasoningDeltas         bool  `json:"saveReasoningDeltas"`
	ExposeRawReasoningDeltas    bool  `json:"exposeRawReasoningDeltas"`
	MaxDeltasPerStreamRead      int   `json:"maxDeltasPerStreamRead"`
	MaxDeltasPerRequestRead     int   `json:"maxDeltasPerRequestRead"`
	FinishedStreamDeleteDelayMs int64 `json:"finishedStreamDeleteDelayMs"`
	StreamTimeoutMs             int64 `json:"streamTimeoutMs"`
}

// Resolve applies defaults and clamps to in. A nil in yields the defaults.
func Resolve(in *RuntimeInput) RuntimeOptions {
	opts := RuntimeOptions{
		SaveReasoningDeltas:         true,
		MaxDeltasPerStreamRead:      DefaultMaxDeltasPerStreamRead,
		MaxDeltasPerRequestRead:     DefaultMaxDeltasPerRequestRead,
		FinishedStreamDeleteDelayMs: DefaultFinishedStreamDeleteDelayMs,
		StreamTimeoutMs:             DefaultStreamTimeoutMs,
	}
	if in == nil {
		return opts
	}
	if in.SaveStreamDeltas != nil {
		opts.SaveStreamDeltas = *in.SaveStreamDeltas
	}
	if in.SaveReasoningDeltas != nil {
		opts.SaveReasoningDeltas = *in.SaveReasoningDeltas
	}
	if in.ExposeRawReasoningDeltas != nil {
		opts.ExposeRawReasoningDeltas = *in.ExposeRawReasoningDeltas
	}
	if in.MaxDeltasPerStreamRead != nil {
		opts.MaxDeltasPerStreamRead = max(1, *in.MaxDeltasPerStreamRead)
	}
	if in.MaxDeltasPerRequestRead != nil {
		opts.MaxDeltasPerRequestRead = max(1, *in.MaxDeltasPerRequestRead)
	}
	if in.FinishedStreamDeleteDelayMs != nil {
		opts.FinishedStreamDeleteDelayMs = max(0, *in.FinishedStreamDeleteDelayMs)
	}
	if in.StreamTimeoutMs != nil {
		opts.StreamTimeoutMs = max(MinStreamTimeoutMs, *in.StreamTimeoutMs)
	}
	return opts
}

// PersistsDelta reports whether a stream delta of kind is stored in
// stream_deltas under these options. Lifecycle kinds are always stored.
func (o RuntimeOptions) PersistsDelta(kind string) bool {
	switch {
	case wire.IsLifecycleKind(kind):
		return true
	case wire.IsTextDeltaKind(kind):
		return o.SaveStreamDeltas
	case wire.IsReasoningSummaryKind(kind):
		return o.SaveReasoningDeltas
	case wire.IsReasoningRawKind(kind):
		return o.SaveReasoningDeltas && o.ExposeRawReasoningDeltas
	}
	return false
}

// Merge overlays the non-nil fields of top onto base.
func Merge(base, top *RuntimeInput) *RuntimeInput {
	if base == nil {
		return top
	}
	if top == nil {
		return base
	}
	out := *base
	if top.SaveStreamDeltas != nil {
		out.SaveStreamDeltas = top.SaveStreamDeltas
	}
	if top.SaveReasoningDeltas != nil {
		out.SaveReasoningDeltas = top.SaveReasoningDeltas
	}
	if top.ExposeRawReasoningDeltas != nil {
		out.ExposeRawReasoningDeltas = top.ExposeRawReasoningDeltas
	}
	if top.MaxDeltasPerStreamRead != nil {
		out.MaxDeltasPerStreamRead = top.MaxDeltasPerStreamRead
	}
	if top.MaxDeltasPerRequestRead != nil {
		out.MaxDeltasPerRequestRead = top.MaxDeltasPerRequestRead
	}
	if top.FinishedStreamDeleteDelayMs != nil {
		out.FinishedStreamDeleteDelayMs = top.FinishedStreamDeleteDelayMs
	}
	if top.StreamTimeoutMs != nil {
		out.StreamTimeoutMs = top.StreamTimeoutMs
	}
	return &out
}
