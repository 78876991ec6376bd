package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of progress stream message
type MessageType string

const (
	MessageTypeBatchStarted MessageType = "batch_started"
	MessageTypeProgress     MessageType = "progress"
	MessageTypeBatchDone    MessageType = "batch_done"
	MessageTypeError        MessageType = "error"
)

// Message is the envelope for all websocket communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// BatchStartedMessage is the payload for MessageTypeBatchStarted
type BatchStartedMessage struct {
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`
	Trigger   string    `json:"trigger"`
}

// BatchDoneMessage is the payload for MessageTypeBatchDone.
// Per-room outcomes are left out; subscribers fetch the snapshot instead.
type BatchDoneMessage struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	NotSaved  int       `json:"not_saved"`
	Cancelled bool      `json:"cancelled"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
