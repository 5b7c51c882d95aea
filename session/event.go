package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an event pushed to pads.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindHeartbeat Kind = "heartbeat"
	KindError     Kind = "error"
	KindShow      Kind = "show"
	KindHide      Kind = "hide"
	KindRemove    Kind = "remove"
	KindClear     Kind = "clear"
)

func (k Kind) known() bool {
	switch k {
	case KindHeartbeat, KindError, KindShow, KindHide, KindRemove, KindClear:
		return true
	}
	return false
}

// Event is the JSON frame sent over a pad session. Zero-valued fields are
// omitted on the wire.
type Event struct {
	Kind      Kind   `json:"event,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewEvent returns an event stamped with the current time in epoch
// milliseconds.
func NewEvent(kind Kind, message string) Event {
	return Event{Kind: kind, Timestamp: time.Now().UnixMilli(), Message: message}
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Marshal encodes e as a text frame payload.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a frame produced by Marshal. Unrecognised kinds decode
// as KindUnknown.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if !e.Kind.known() {
		e.Kind = KindUnknown
	}
	return e, nil
}
