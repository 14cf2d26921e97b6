package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the type tag of a wire envelope
type MessageType string

const (
	TypeSignal         MessageType = "signal"
	TypeNewInterpreter MessageType = "newInterpreter"
	TypeRemoveListener MessageType = "removeListener"
)

// ErrUnknownMessage is returned by Decode for unknown type tags
var ErrUnknownMessage = errors.New("unknown message type")

// Message is one of Signal, NewInterpreter or RemoveListener
type Message interface {
	MessageType() MessageType
	isMessage()
}

// Signal carries an opaque peer-link setup payload. A listener addresses
// the interpreter by InterpreterID; the interpreter addresses a listener by
// ListenerID. On forwarding the relay fills in the sender's id instead.
type Signal struct {
	ListenerID    string          `json:"listenerId,omitempty"`
	InterpreterID string          `json:"interpreterId,omitempty"`
	Signal        json.RawMessage `json:"signal"`
}

// NewInterpreter tells a listener that an interpreter is available
type NewInterpreter struct {
	InterpreterID string `json:"interpreterId"`
}

// RemoveListener tells the interpreter that one listener left
type RemoveListener struct {
	ListenerID string `json:"listenerId"`
}

func (Signal) MessageType() MessageType         { return TypeSignal }
func (NewInterpreter) MessageType() MessageType { return TypeNewInterpreter }
func (RemoveListener) MessageType() MessageType { return TypeRemoveListener }

func (Signal) isMessage()         {}
func (NewInterpreter) isMessage() {}
func (RemoveListener) isMessage() {}

type envelope struct {
	Type MessageType `json:"type"`
}

// Encode serializes m with its type tag
func Encode(m Message) ([]byte, error) {
	var body any
	switch v := m.(type) {
	case Signal:
		body = struct {
			Type MessageType `json:"type"`
			Signal
		}{v.MessageType(), v}
	case NewInterpreter:
		body = struct {
			Type MessageType `json:"type"`
			NewInterpreter
		}{v.MessageType(), v}
	case RemoveListener:
		body = struct {
			Type MessageType `json:"type"`
			RemoveListener
		}{v.MessageType(), v}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
	return json.Marshal(body)
}

// Decode parses a wire envelope
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeSignal:
		var m Signal
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode signal: %w", err)
		}
		return m, nil
	case TypeNewInterpreter:
		var m NewInterpreter
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode newInterpreter: %w", err)
		}
		return m, nil
	case TypeRemoveListener:
		var m RemoveListener
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode removeListener: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}
