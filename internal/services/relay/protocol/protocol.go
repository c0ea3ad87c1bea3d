// Package protocol defines the framed events exchanged between the relay
// server and its clients. Both sides share these types so payload field
// names never drift.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names carried in Frame.Type, client to server.
const (
	EventHello       = "hello"
	EventChatPublic  = "chat:public"
	EventCommandList = "command:list"
	EventCommandQuit = "command:quit"
)

// Event names carried in Frame.Type, server to client. EventChatPublic is
// reused for the broadcast form.
const (
	EventWelcome     = "welcome"
	EventUsersList   = "users:list"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventServerError = "server:error"
)

// Frame is the envelope for every message on the wire: an event name plus
// an optional JSON payload.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a Frame for the given event. A nil payload
// produces a frame with no payload, used by the bare command events.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Frame{Type: event, Payload: raw}, nil
}

// Code identifies a server-reported protocol failure.
type Code string

// Error codes delivered inside EventServerError payloads.
const (
	CodeInvalidUsername Code = "INVALID_USERNAME"
	CodeUsernameTaken   Code = "USERNAME_TAKEN"
	CodeHelloTimeout    Code = "HELLO_TIMEOUT"
	CodeNotRegistered   Code = "NOT_REGISTERED"
	CodeInvalidMessage  Code = "INVALID_MESSAGE"
	CodeInternal        Code = "INTERNAL"
)

// Hello registers a display name for the sending connection.
type Hello struct {
	Username string `json:"username"`
}

// ChatSend asks the server to broadcast a public chat message.
type ChatSend struct {
	Text string `json:"text"`
}

// Welcome confirms registration and lists everyone currently connected, in
// registration order and including the new arrival.
type Welcome struct {
	Username       string   `json:"username"`
	ConnectedUsers []string `json:"connectedUsers"`
}

// ChatMessage is the broadcast form of a public chat message. At is epoch
// milliseconds at the moment the server accepted the message.
type ChatMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	At       int64  `json:"at"`
}

// UsersList answers a command:list request.
type UsersList struct {
	Users []string `json:"users"`
}

// UserJoined announces a newly registered participant to everyone else.
type UserJoined struct {
	Username string `json:"username"`
}

// UserLeft announces that a registered participant disconnected.
type UserLeft struct {
	Username string `json:"username"`
}

// ServerError reports a protocol failure to the offending connection only.
type ServerError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Error makes a ServerError usable where a Go error is expected, such as a
// rejected handshake.
func (e ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
