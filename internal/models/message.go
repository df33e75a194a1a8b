package models

import (
	"encoding/json"
	"fmt"
)

// Event names a relay message. The same names are used in both directions.
type Event string

const (
	// Server -> client
	EventWelcome     Event = "welcome"
	EventRoomCreated Event = "room-created"
	EventRoomJoined  Event = "room-joined"
	EventUserJoined  Event = "user-joined"
	EventUserLeft    Event = "user-left"
	EventError       Event = "error"

	// Client -> server
	EventCreateRoom Event = "create-room"
	EventJoinRoom   Event = "join-room"
	EventLeaveRoom  Event = "leave-room"

	// Both directions: {to, signal} upstream, {from, signal} downstream
	EventSignal Event = "signal"

	// Synthesised by the relay client when the socket drops; never on the wire.
	EventDisconnect Event = "disconnect"
)

// Message is the single websocket frame exchanged with the relay server.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes data as the payload of an event.
func NewMessage(event Event, data any) (Message, error) {
	if data == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Event: event, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Event, err)
	}
	return nil
}

// User is a room member as the relay knows it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// WelcomePayload carries the PeerId the server assigned to the socket.
type WelcomePayload struct {
	ID string `json:"id"`
}

// RoomRequest is sent with create-room and join-room.
type RoomRequest struct {
	Room     string `json:"room" binding:"required"`
	Username string `json:"username"`
}

// RoomPayload names a room (room-created, room-joined, leave-room).
type RoomPayload struct {
	Room string `json:"room"`
}

// UsersPayload is the full membership of a room keyed by PeerId.
type UsersPayload struct {
	Users map[string]User `json:"users"`
}

// UserLeftPayload announces a departure, optionally with the remaining members.
type UserLeftPayload struct {
	UserID string          `json:"userId"`
	Users  map[string]User `json:"users,omitempty"`
}

// SignalPayload wraps an opaque negotiation message. To is set upstream,
// From is set by the server when forwarding.
type SignalPayload struct {
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// ErrorPayload is a user-visible server error.
type ErrorPayload struct {
	Message string `json:"message"`
}
