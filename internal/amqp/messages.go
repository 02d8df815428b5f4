package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ControlMessage carries a gateway control message over the broker.
// Type is one of the gateway message types; Payload is the URL list of
// CACHE_URLS and Tag the sync tag of SYNC.
type ControlMessage struct {
	Type      string    `json:"type"`
	Payload   []string  `json:"payload,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrEmptyType = errors.New("control message has no type")

// NewControlMessage creates a message stamped with the current time
func NewControlMessage(msgType string, payload []string, tag string) *ControlMessage {
	return &ControlMessage{
		Type:      msgType,
		Payload:   payload,
		Tag:       tag,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ControlMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ControlMessageFromJSON decodes a message and rejects one without a type.
func ControlMessageFromJSON(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, ErrEmptyType
	}
	return &msg, nil
}
