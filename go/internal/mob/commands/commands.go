package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/models"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// Type represents the tag of a replicated command
type Type string

const (
	TypeSync          Type = "Sync"
	TypeConfirmDriver Type = "ConfirmDriver"
	TypeRequestSync   Type = "RequestSync"
)

// Command is one of Sync, ConfirmDriver or RequestSync.
type Command interface {
	Type() Type
	validate() error
}

// Sync carries the host's complete option to guests.
type Sync struct {
	Option state.Option `json:"option"`
}

// ConfirmDriver is sent by a guest accepting its turn.
type ConfirmDriver struct {
	Driver models.Participant `json:"driver"`
}

// RequestSync is sent by a guest that wants the current option right away.
type RequestSync struct {
	Requester models.Participant `json:"requester"`
}

func (Sync) Type() Type          { return TypeSync }
func (ConfirmDriver) Type() Type { return TypeConfirmDriver }
func (RequestSync) Type() Type   { return TypeRequestSync }

func (c Sync) validate() error {
	return c.Option.Validate()
}

func (c ConfirmDriver) validate() error {
	if c.Driver.ID == "" {
		return errors.New("driver id is required")
	}
	return nil
}

func (c RequestSync) validate() error {
	return nil
}

// Envelope is the wire format shared by every command.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Ack is the response to a request command.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Encode wraps a command in an envelope.
func Encode(cmd Command, sender string, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", cmd.Type(), err)
	}

	env := Envelope{
		ID:        uuid.New().String(),
		Type:      cmd.Type(),
		Sender:    sender,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope and its payload, rejecting unknown tags and
// payloads that break the command's schema.
func Decode(data []byte) (Envelope, Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("%w: unmarshal envelope: %v", ErrInvalidPayload, err)
	}

	var cmd Command
	switch env.Type {
	case TypeSync:
		var c Sync
		if err := unmarshalPayload(env, &c); err != nil {
			return env, nil, err
		}
		cmd = c

	case TypeConfirmDriver:
		var c ConfirmDriver
		if err := unmarshalPayload(env, &c); err != nil {
			return env, nil, err
		}
		cmd = c

	case TypeRequestSync:
		var c RequestSync
		if err := unmarshalPayload(env, &c); err != nil {
			return env, nil, err
		}
		cmd = c

	default:
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}

	if err := cmd.validate(); err != nil {
		return env, nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
	}
	return env, cmd, nil
}

func unmarshalPayload(env Envelope, into any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return fmt.Errorf("%w: unmarshal %s payload: %v", ErrInvalidPayload, env.Type, err)
	}
	return nil
}

// EncodeAck marshals a request response.
func EncodeAck(err error) []byte {
	ack := Ack{OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	data, _ := json.Marshal(ack)
	return data
}

// DecodeAck parses a request response.
func DecodeAck(data []byte) (Ack, error) {
	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return ack, fmt.Errorf("%w: unmarshal ack: %v", ErrInvalidPayload, err)
	}
	return ack, nil
}
