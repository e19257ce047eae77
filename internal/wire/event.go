package wire

// Event is a sealed interface over the decoded wire notifications.
// Only the variants in this file implement it.
type Event interface {
	// Kind returns the declared event kind.
	Kind() string

	// TurnID returns the canonical turn id carried by the payload,
	// or "" when the payload does not name one.
	TurnID() string

	wireEvent() // Sealed
}

// ErrorInfo is the error object embedded in turns, items, and error notices.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Turn is the turn object of turn/started and turn/completed.
type Turn struct {
	ID     string     `json:"id"`
	Status string     `json:"status,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// TurnStarted is a turn/started notification.
type TurnStarted struct {
	ThreadID string `json:"threadId,omitempty"`
	Turn     Turn   `json:"turn"`
}

func (TurnStarted) Kind() string     { return KindTurnStarted }
func (e TurnStarted) TurnID() string { return e.Turn.ID }
func (TurnStarted) wireEvent()       {}

// TurnCompleted is a turn/completed notification.
type TurnCompleted struct {
	ThreadID string `json:"threadId,omitempty"`
	Turn     Turn   `json:"turn"`
}

func (TurnCompleted) Kind() string     { return KindTurnCompleted }
func (e TurnCompleted) TurnID() string { return e.Turn.ID }
func (TurnCompleted) wireEvent()       {}

// ItemStarted is an item/started notification.
type ItemStarted struct {
	ThreadID string `json:"threadId,omitempty"`
	Turn     string `json:"turnId,omitempty"`
	Item     Item   `json:"item"`
}

func (ItemStarted) Kind() string     { return KindItemStarted }
func (e ItemStarted) TurnID() string { return e.Turn }
func (ItemStarted) wireEvent()       {}

// ItemCompleted is an item/completed notification.
type ItemCompleted struct {
	ThreadID string `json:"threadId,omitempty"`
	Turn     string `json:"turnId,omitempty"`
	Item     Item   `json:"item"`
}

func (ItemCompleted) Kind() string     { return KindItemCompleted }
func (e ItemCompleted) TurnID() string { return e.Turn }
func (ItemCompleted) wireEvent()       {}

// AgentMessageDelta is a token-level append to an agent message.
type AgentMessageDelta struct {
	Turn   string `json:"turnId,omitempty"`
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

func (AgentMessageDelta) Kind() string     { return KindAgentMessageDelta }
func (e AgentMessageDelta) TurnID() string { return e.Turn }
func (AgentMessageDelta) wireEvent()       {}

// ReasoningSummaryTextDelta appends text to one reasoning summary part.
type ReasoningSummaryTextDelta struct {
	Turn         string `json:"turnId,omitempty"`
	ItemID       string `json:"itemId"`
	SummaryIndex int    `json:"summaryIndex"`
	Delta        string `json:"delta"`
}

func (ReasoningSummaryTextDelta) Kind() string     { return KindReasoningSummaryTextDelta }
func (e ReasoningSummaryTextDelta) TurnID() string { return e.Turn }
func (ReasoningSummaryTextDelta) wireEvent()       {}

// ReasoningSummaryPartAdded opens a new reasoning summary part.
type ReasoningSummaryPartAdded struct {
	Turn         string `json:"turnId,omitempty"`
	ItemID       string `json:"itemId"`
	SummaryIndex int    `json:"summaryIndex"`
}

func (ReasoningSummaryPartAdded) Kind() string     { return KindReasoningSummaryPartAdded }
func (e ReasoningSummaryPartAdded) TurnID() string { return e.Turn }
func (ReasoningSummaryPartAdded) wireEvent()       {}

// ReasoningTextDelta appends raw reasoning text.
type ReasoningTextDelta struct {
	Turn         string `json:"turnId,omitempty"`
	ItemID       string `json:"itemId"`
	ContentIndex int    `json:"contentIndex"`
	Delta        string `json:"delta"`
}

func (ReasoningTextDelta) Kind() string     { return KindReasoningTextDelta }
func (e ReasoningTextDelta) TurnID() string { return e.Turn }
func (ReasoningTextDelta) wireEvent()       {}

// ErrorNotice is a fatal "error" notification for a turn.
type ErrorNotice struct {
	Turn      string    `json:"turnId,omitempty"`
	Error     ErrorInfo `json:"error"`
	WillRetry bool      `json:"willRetry,omitempty"`
}

func (ErrorNotice) Kind() string     { return KindError }
func (e ErrorNotice) TurnID() string { return e.Turn }
func (ErrorNotice) wireEvent()       {}

// ApprovalRequest asks the user to approve a command execution or file change.
type ApprovalRequest struct {
	kind   string
	Turn   string `json:"turnId,omitempty"`
	ItemID string `json:"itemId"`
	Reason string `json:"reason,omitempty"`
}

func (e ApprovalRequest) Kind() string   { return e.kind }
func (e ApprovalRequest) TurnID() string { return e.Turn }
func (ApprovalRequest) wireEvent()       {}

// ItemKind returns the approved item type: commandExecution or fileChange.
func (e ApprovalRequest) ItemKind() string {
	if e.kind == KindFileChangeApproval {
		return ItemFileChange
	}
	return ItemCommandExecution
}

// LegacyEvent is a codex/event/* notification. Only its turn id is read.
type LegacyEvent struct {
	kind string
	Turn string
}

func (e LegacyEvent) Kind() string   { return e.kind }
func (e LegacyEvent) TurnID() string { return e.Turn }
func (LegacyEvent) wireEvent()       {}

// Notification is any other well-formed notification. Its turn id is taken
// from params.turnId when present.
type Notification struct {
	kind string
	Turn string
}

func (e Notification) Kind() string   { return e.kind }
func (e Notification) TurnID() string { return e.Turn }
func (Notification) wireEvent()       {}

// Malformed is a payload that failed to decode for its declared kind.
type Malformed struct {
	kind   string
	Reason string
}

func (e Malformed) Kind() string { return e.kind }
func (Malformed) TurnID() string { return "" }
func (Malformed) wireEvent()     {}
