package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/streamsync/internal/model"
)

// Thread item types.
const (
	ItemUserMessage         = "userMessage"
	ItemAgentMessage        = "agentMessage"
	ItemPlan                = "plan"
	ItemReasoning           = "reasoning"
	ItemCommandExecution    = "commandExecution"
	ItemFileChange          = "fileChange"
	ItemMcpToolCall         = "mcpToolCall"
	ItemCollabAgentToolCall = "collabAgentToolCall"
	ItemWebSearch           = "webSearch"
	ItemImageView           = "imageView"
	ItemEnteredReviewMode   = "enteredReviewMode"
	ItemExitedReviewMode    = "exitedReviewMode"
	ItemContextCompaction   = "contextCompaction"
)

// Item is a thread item carried by item/started and item/completed.
// Fields not used by a given Type stay zero.
type Item struct {
	Type             string            `json:"type"`
	ID               string            `json:"id"`
	Text             string            `json:"text,omitempty"`
	Content          json.RawMessage   `json:"content,omitempty"`
	Summary          []string          `json:"summary,omitempty"`
	Command          string            `json:"command,omitempty"`
	AggregatedOutput *string           `json:"aggregatedOutput,omitempty"`
	Status           string            `json:"status,omitempty"`
	Changes          []json.RawMessage `json:"changes,omitempty"`
	Server           string            `json:"server,omitempty"`
	Tool             string            `json:"tool,omitempty"`
	Error            *ErrorInfo        `json:"error,omitempty"`
	Query            string            `json:"query,omitempty"`
	Path             string            `json:"path,omitempty"`
	Review           string            `json:"review,omitempty"`

	// Raw is the item object exactly as received.
	Raw json.RawMessage `json:"-"`
}

// UserInput is one element of a userMessage's content.
type UserInput struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
}

func (in UserInput) flatten() string {
	switch in.Type {
	case "text":
		return in.Text
	case "image":
		return "[image] " + in.URL
	case "localImage":
		return "[localImage] " + in.Path
	case "skill":
		return fmt.Sprintf("[skill] %s (%s)", in.Name, in.Path)
	case "mention":
		return fmt.Sprintf("[mention] %s (%s)", in.Name, in.Path)
	default:
		return ""
	}
}

// isApprovable reports whether the item goes through the approval flow.
func (it Item) isApprovable() bool {
	return it.Type == ItemCommandExecution || it.Type == ItemFileChange
}

// Role maps the item type to the durable message role.
func (it Item) Role() model.MessageRole {
	switch it.Type {
	case ItemUserMessage:
		return model.RoleUser
	case ItemAgentMessage, ItemPlan, ItemReasoning:
		return model.RoleAssistant
	case ItemCommandExecution, ItemFileChange, ItemMcpToolCall, ItemCollabAgentToolCall, ItemWebSearch:
		return model.RoleTool
	default:
		return model.RoleSystem
	}
}

// DurableText renders the item as the text of a durable message.
// Content that does not fit the item type renders as empty text rather
// than failing, in line with Decode treating malformed payloads as data.
// The raw item stays available in the message payload.
func (it Item) DurableText() string {
	switch it.Type {
	case ItemUserMessage:
		var inputs []UserInput
		if len(it.Content) > 0 {
			_ = json.Unmarshal(it.Content, &inputs)
		}
		parts := make([]string, 0, len(inputs))
		for _, in := range inputs {
			parts = append(parts, in.flatten())
		}
		return norm.NFC.String(strings.TrimSpace(strings.Join(parts, "\n")))
	case ItemAgentMessage, ItemPlan:
		return it.Text
	case ItemReasoning:
		var content []string
		if len(it.Content) > 0 {
			_ = json.Unmarshal(it.Content, &content)
		}
		lines := append(append([]string{}, it.Summary...), content...)
		return strings.TrimSpace(strings.Join(lines, "\n"))
	case ItemCommandExecution:
		if it.AggregatedOutput != nil {
			return *it.AggregatedOutput
		}
		return it.Command
	case ItemFileChange:
		return fmt.Sprintf("File changes: %d", len(it.Changes))
	case ItemMcpToolCall:
		if it.Error != nil {
			return it.Error.Message
		}
		return it.Server + "/" + it.Tool
	case ItemCollabAgentToolCall:
		return fmt.Sprintf("%s (%s)", it.Tool, it.Status)
	case ItemWebSearch:
		return it.Query
	case ItemImageView:
		return it.Path
	case ItemEnteredReviewMode, ItemExitedReviewMode:
		return it.Review
	case ItemContextCompaction:
		return "Context compaction"
	default:
		return ""
	}
}

// completedStatus is the durable message status of a completed item.
func (it Item) completedStatus() model.MessageStatus {
	if it.isApprovable() {
		switch it.Status {
		case "failed":
			return model.MessageFailed
		case "declined":
			return model.MessageInterrupted
		}
	}
	return model.MessageCompleted
}
