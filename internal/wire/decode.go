package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is the JSON-RPC notification frame.
type envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Decode turns a payload into its typed variant.
//
// The payload's method must equal kind and params must be an object;
// otherwise, or when params do not fit the variant, the result is Malformed.
// Decode never fails: a malformed payload is data, not an error.
func Decode(kind string, payload []byte) Event {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Malformed{kind: kind, Reason: fmt.Sprintf("payload is not JSON: %v", err)}
	}
	if env.Method != kind {
		return Malformed{kind: kind, Reason: fmt.Sprintf("method %q does not match kind", env.Method)}
	}
	params := bytes.TrimSpace(env.Params)
	if len(params) == 0 || params[0] != '{' {
		return Malformed{kind: kind, Reason: "params is not an object"}
	}

	switch {
	case kind == KindTurnStarted:
		var ev TurnStarted
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindTurnCompleted:
		var ev TurnCompleted
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindItemStarted:
		var ev ItemStarted
		return decodeItemEvent(kind, params, &ev, &ev.Item, func() Event { return ev })
	case kind == KindItemCompleted:
		var ev ItemCompleted
		return decodeItemEvent(kind, params, &ev, &ev.Item, func() Event { return ev })
	case kind == KindAgentMessageDelta:
		var ev AgentMessageDelta
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindReasoningSummaryTextDelta:
		var ev ReasoningSummaryTextDelta
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindReasoningSummaryPartAdded:
		var ev ReasoningSummaryPartAdded
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindReasoningTextDelta:
		var ev ReasoningTextDelta
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindError:
		var ev ErrorNotice
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case kind == KindCommandApproval || kind == KindFileChangeApproval:
		ev := ApprovalRequest{kind: kind}
		return decodeInto(kind, params, &ev, func() Event { return ev })
	case IsLegacyKind(kind):
		return decodeLegacy(kind, params)
	default:
		var p struct {
			TurnID json.RawMessage `json:"turnId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return Malformed{kind: kind, Reason: err.Error()}
		}
		return Notification{kind: kind, Turn: stringOrEmpty(p.TurnID)}
	}
}

func decodeInto(kind string, params []byte, dst any, result func() Event) Event {
	if err := json.Unmarshal(params, dst); err != nil {
		return Malformed{kind: kind, Reason: err.Error()}
	}
	return result()
}

// decodeItemEvent decodes an item notification and keeps the raw item bytes.
func decodeItemEvent(kind string, params []byte, dst any, item *Item, result func() Event) Event {
	if err := json.Unmarshal(params, dst); err != nil {
		return Malformed{kind: kind, Reason: err.Error()}
	}
	var raw struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(params, &raw); err != nil || len(raw.Item) == 0 || raw.Item[0] != '{' {
		return Malformed{kind: kind, Reason: "item is not an object"}
	}
	item.Raw = raw.Item
	return result()
}

func decodeLegacy(kind string, params []byte) Event {
	var p struct {
		Msg map[string]json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return Malformed{kind: kind, Reason: err.Error()}
	}
	turnID := stringOrEmpty(p.Msg["turn_id"])
	if turnID == "" {
		turnID = stringOrEmpty(p.Msg["turnId"])
	}
	return LegacyEvent{kind: kind, Turn: turnID}
}

// stringOrEmpty returns raw as a string when it is a JSON string.
func stringOrEmpty(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
