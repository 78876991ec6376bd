// internal/models/message_test.go
package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	progress := Progress{Message: "fetched A-101", Total: 3, Completed: 1}

	msg, err := NewMessage(MessageTypeProgress, progress)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeProgress {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeProgress)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(msg.Payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestMessage_UnmarshalPayload(t *testing.T) {
	original := BatchDoneMessage{
		RunID:     "run-1",
		StartedAt: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		Total:     3,
		Succeeded: 2,
		Failed:    1,
	}

	msg, err := NewMessage(MessageTypeBatchDone, original)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded BatchDoneMessage
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.RunID != original.RunID {
		t.Errorf("RunID = %v, want %v", decoded.RunID, original.RunID)
	}
	if decoded.Succeeded != 2 || decoded.Failed != 1 {
		t.Errorf("Succeeded/Failed = %d/%d, want 2/1", decoded.Succeeded, decoded.Failed)
	}
	if !decoded.StartedAt.Equal(original.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", decoded.StartedAt, original.StartedAt)
	}
}

func TestMessage_RoundTripEnvelope(t *testing.T) {
	msg, err := NewMessage(MessageTypeError, ErrorMessage{Code: "batch_running", Message: "busy"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var envelope Message
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if envelope.Type != MessageTypeError {
		t.Errorf("Type = %v, want %v", envelope.Type, MessageTypeError)
	}

	var errMsg ErrorMessage
	if err := envelope.UnmarshalPayload(&errMsg); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if errMsg.Code != "batch_running" {
		t.Errorf("Code = %v, want batch_running", errMsg.Code)
	}
}

func TestMessage_UnmarshalPayload_Invalid(t *testing.T) {
	msg := &Message{Type: MessageTypeProgress, Payload: json.RawMessage(`{"total":"three"}`)}

	var p Progress
	if err := msg.UnmarshalPayload(&p); err == nil {
		t.Error("expected error for mistyped payload")
	}
}
