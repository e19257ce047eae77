package wire

import "strings"

// Event kinds consumed by the ingest pipeline.
const (
	KindTurnStarted   = "turn/started"
	KindTurnCompleted = "turn/completed"
	KindItemStarted   = "item/started"
	KindItemCompleted = "item/completed"
	KindError         = "error"
	KindTurnAborted   = "codex/event/turn_aborted"

	KindAgentMessageDelta         = "item/agentMessage/delta"
	KindReasoningSummaryTextDelta = "item/reasoning/summaryTextDelta"
	KindReasoningSummaryPartAdded = "item/reasoning/summaryPartAdded"
	KindReasoningTextDelta        = "item/reasoning/textDelta"

	KindCommandApproval    = "item/commandExecution/requestApproval"
	KindFileChangeApproval = "item/fileChange/requestApproval"

	// KindStreamDrainComplete marks a stream whose buffered deltas were purged.
	KindStreamDrainComplete = "stream/drain_complete"

	legacyPrefix = "codex/event/"
)

// IsLegacyKind reports whether kind uses the legacy codex/event envelope.
func IsLegacyKind(kind string) bool {
	return strings.HasPrefix(kind, legacyPrefix)
}

// IsLifecycleKind reports whether deltas of this kind are always persisted.
func IsLifecycleKind(kind string) bool {
	switch kind {
	case KindTurnStarted, KindTurnCompleted, KindItemStarted, KindItemCompleted, KindError, KindTurnAborted:
		return true
	}
	return false
}

// IsTextDeltaKind reports whether kind is a token-level message delta.
func IsTextDeltaKind(kind string) bool {
	return kind == KindAgentMessageDelta
}

// IsReasoningSummaryKind reports whether kind belongs to the reasoning summary channel.
func IsReasoningSummaryKind(kind string) bool {
	return kind == KindReasoningSummaryTextDelta || kind == KindReasoningSummaryPartAdded
}

// IsReasoningRawKind reports whether kind belongs to the raw reasoning channel.
func IsReasoningRawKind(kind string) bool {
	return kind == KindReasoningTextDelta
}
