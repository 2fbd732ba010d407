package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types for the client to server direction.
const (
	// TypeRemoved reports ids no longer mounted in the document.
	TypeRemoved = "removed"

	// TypeAdded reports newly mounted ids with their states and
	// subscription descriptors.
	TypeAdded = "added"

	// TypeEvent is a user-triggered handler invocation.
	TypeEvent = "event"
)

// Sentinel errors for wire decoding.
var (
	// ErrMalformed is returned for messages that do not decode into a
	// known shape. The message is dropped; the connection stays open.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrTooLarge is returned when a message exceeds the configured size
	// limits before decoding is attempted.
	ErrTooLarge = errors.New("protocol: message too large")
)

// ClientMessage is the envelope for every client to server message.
type ClientMessage struct {
	Type string `json:"type"`

	// Removal: ids unmounted since the last cycle.
	ComponentIDs []string `json:"component_ids,omitempty"`

	// Addition: signed state blobs and, per id, the comma-joined
	// subscription descriptor.
	States        []string          `json:"states,omitempty"`
	Subscriptions map[string]string `json:"subscriptions,omitempty"`

	// Event: one handler invocation with its staleness fingerprint.
	ComponentID string         `json:"component_id,omitempty"`
	Handler     string         `json:"handler,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}

// DecodeClientMessage parses and validates one client message.
func DecodeClientMessage(data []byte, limits Limits) (*ClientMessage, error) {
	if limits.MaxMessageBytes > 0 && len(data) > limits.MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Type {
	case TypeRemoved:
		if len(msg.ComponentIDs) == 0 {
			return nil, fmt.Errorf("%w: removed without component_ids", ErrMalformed)
		}
	case TypeAdded:
		if len(msg.States) == 0 {
			return nil, fmt.Errorf("%w: added without states", ErrMalformed)
		}
		if limits.MaxComponents > 0 && len(msg.States) > limits.MaxComponents {
			return nil, fmt.Errorf("%w: %d states", ErrTooLarge, len(msg.States))
		}
	case TypeEvent:
		if msg.ComponentID == "" || msg.Handler == "" {
			return nil, fmt.Errorf("%w: event without component_id or handler", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, msg.Type)
	}
	return &msg, nil
}

// NewRemoved builds a removal message.
func NewRemoved(ids []string) *ClientMessage {
	return &ClientMessage{Type: TypeRemoved, ComponentIDs: ids}
}

// NewAdded builds an addition message.
func NewAdded(states []string, subscriptions map[string]string) *ClientMessage {
	return &ClientMessage{Type: TypeAdded, States: states, Subscriptions: subscriptions}
}

// NewEvent builds an event message.
func NewEvent(componentID, handler string, params map[string]any, fingerprint string) *ClientMessage {
	return &ClientMessage{
		Type:        TypeEvent,
		ComponentID: componentID,
		Handler:     handler,
		Params:      params,
		Fingerprint: fingerprint,
	}
}

// Encode serializes the message for the wire.
func (m *ClientMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
