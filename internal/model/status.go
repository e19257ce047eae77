package model

// TurnStatus is the lifecycle state of a turn.
type TurnStatus string

const (
	TurnQueued      TurnStatus = "queued"
	TurnInProgress  TurnStatus = "inProgress"
	TurnCompleted   TurnStatus = "completed"
	TurnInterrupted TurnStatus = "interrupted"
	TurnFailed      TurnStatus = "failed"
)

// IsTerminal reports whether no further non-terminal transition is allowed.
func (s TurnStatus) IsTerminal() bool {
	return s == TurnCompleted || s == TurnInterrupted || s == TurnFailed
}

// terminalPriority orders terminal statuses: failed > interrupted > completed.
// Non-terminal statuses have priority 0.
func (s TurnStatus) terminalPriority() int {
	switch s {
	case TurnFailed:
		return 3
	case TurnInterrupted:
		return 2
	case TurnCompleted:
		return 1
	default:
		return 0
	}
}

// PickTerminal returns whichever of current and incoming has the higher
// terminal priority. Ties keep incoming, so a repeated signal refreshes the
// error text. A non-terminal current always yields incoming.
func PickTerminal(current, incoming TurnStatus) TurnStatus {
	if current.terminalPriority() > incoming.terminalPriority() {
		return current
	}
	return incoming
}

// MessageStatus is the state of a durable message row.
type MessageStatus string

const (
	MessageStreaming   MessageStatus = "streaming"
	MessageCompleted   MessageStatus = "completed"
	MessageFailed      MessageStatus = "failed"
	MessageInterrupted MessageStatus = "interrupted"
)

// MessageRole is the author of a durable message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ApprovalStatus is the decision state of an approval row.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalAccepted ApprovalStatus = "accepted"
	ApprovalDeclined ApprovalStatus = "declined"
)

// StreamState is the state of one cursor lane.
// streaming is the only non-terminal state.
type StreamState string

const (
	StreamStreaming StreamState = "streaming"
	StreamFinished  StreamState = "finished"
	StreamAborted   StreamState = "aborted"
)

// SessionStatus is the liveness state of an ingest session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionStale  SessionStatus = "stale"
	SessionEnded  SessionStatus = "ended"
	SessionFailed SessionStatus = "failed"
)

// ThreadStatus is the state of a conversation.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadArchived ThreadStatus = "archived"
	ThreadFailed   ThreadStatus = "failed"
)

// IngestStatus is the advisory outcome of an accepted batch.
// partial means a cursor gap was observed but the batch still committed.
type IngestStatus string

const (
	IngestOK      IngestStatus = "ok"
	IngestPartial IngestStatus = "partial"
)

// Terminal status codes attached to failed and interrupted turns.
const (
	TerminalCodeFailed      = "E_TERMINAL_FAILED"
	TerminalCodeInterrupted = "E_TERMINAL_INTERRUPTED"
)

// TerminalStatus is the terminal outcome carried by a single event.
type TerminalStatus struct {
	Status TurnStatus `json:"status"`
	Code   string     `json:"code,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// HigherPriority returns the terminal status that should win when both
// current and next were observed for the same turn. current may be nil.
func HigherPriority(current *TerminalStatus, next TerminalStatus) TerminalStatus {
	if current == nil {
		return next
	}
	if next.Status.terminalPriority() > current.Status.terminalPriority() {
		return next
	}
	return *current
}
