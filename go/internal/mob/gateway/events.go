package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for everything the gateway pushes to clients
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of gateway event
type EventType string

const (
	EventTypeStatusChanged EventType = "StatusChanged"
	EventTypePromptOpened  EventType = "PromptOpened"
	EventTypePromptClosed  EventType = "PromptClosed"
)

// StatusChangedPayload carries the status bar contents.
type StatusChangedPayload struct {
	Text   string `json:"text"`
	Accent string `json:"accent,omitempty"`
}

// PromptOpenedPayload asks the user a yes/no question.
type PromptOpenedPayload struct {
	PromptID string `json:"prompt_id"`
	Message  string `json:"message"`
	Confirm  string `json:"confirm"`
	Cancel   string `json:"cancel"`
}

// PromptClosedPayload tells clients a prompt was answered elsewhere, or
// withdrawn because the rotation moved on without it.
type PromptClosedPayload struct {
	PromptID  string `json:"prompt_id"`
	Confirmed bool   `json:"confirmed"`
	Withdrawn bool   `json:"withdrawn,omitempty"`
}

func newEvent(eventType EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// ClientMessageType represents the type of message a client sends
type ClientMessageType string

const (
	ClientMessagePromptAnswer ClientMessageType = "PromptAnswer"
	ClientMessageStart        ClientMessageType = "Start"
)

// ClientMessage is the envelope for messages received from clients
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// PromptAnswerPayload answers an open prompt.
type PromptAnswerPayload struct {
	PromptID  string `json:"prompt_id"`
	Confirmed bool   `json:"confirmed"`
}
