// Package chat contains the group chat event model and the message
// reconciliation timeline. Events arrive from two independent sources — the
// REST history endpoint and the live broker subscription — and are merged
// into one ordered, deduplicated sequence.
package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event type discriminators carried in the "type" field of every ChatEvent.
const (
	TypeChat      = "CHAT"       // a persisted group message
	TypeTyping    = "TYPING"     // ephemeral, never persisted
	TypeDelete    = "DELETE"     // removal of a single message by id
	TypeDeleteAll = "DELETE_ALL" // removal of all messages in the group
)

// ChatEvent is the payload exchanged on the group chat subjects. The same
// shape travels in both directions: user publishes on app.groups.<id>.chat
// and broker fan-out on topic.groups.<id>.
//
// SenderID and Content use coercing decoders because the wire payload is not
// strictly typed: sender ids have been observed as both numbers and numeric
// strings, and content as null or missing. Normalization happens here, at the
// boundary, so nothing untyped reaches the timeline.
type ChatEvent struct {
	Type       string     `json:"type"`
	ID         int64      `json:"id,omitempty"`
	GroupID    int64      `json:"groupId,omitempty"`
	SenderID   FlexInt64  `json:"senderId,omitempty"`
	SenderName string     `json:"senderName,omitempty"`
	Content    FlexString `json:"content,omitempty"`
	Timestamp  string     `json:"timestamp,omitempty"` // RFC3339
}

// FlexInt64 decodes a JSON number or a numeric string into an int64.
// Unparseable values decode to zero rather than failing the whole event.
type FlexInt64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = FlexInt64(n)
		return nil
	}
	// Accept a float literal (e.g. 42.0) before giving up.
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexInt64(int64(fl))
		return nil
	}
	*f = 0
	return nil
}

// FlexString decodes any JSON value into a string. Strings decode as-is,
// null becomes "", and any other value keeps its literal JSON text.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = FlexString(data)
	return nil
}

// ParseEvent decodes raw broker bytes into a ChatEvent. It rejects payloads
// with a missing or unknown type discriminator so that malformed traffic
// never reaches the timeline or the typing indicator.
func ParseEvent(data []byte) (ChatEvent, error) {
	var event ChatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ChatEvent{}, fmt.Errorf("chat: failed to unmarshal event: %w", err)
	}

	switch event.Type {
	case TypeChat, TypeTyping, TypeDelete, TypeDeleteAll:
		return event, nil
	case "":
		return ChatEvent{}, fmt.Errorf("chat: missing or empty \"type\" field")
	default:
		return ChatEvent{}, fmt.Errorf("chat: unknown event type %q", event.Type)
	}
}
