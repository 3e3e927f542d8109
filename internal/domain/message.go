package domain

import (
	"encoding/json"
)

// Realtime event types.
const (
	EventConfirmation = "confirmation"
	EventJoinRoom     = "join-chat-room"
	EventJoined       = "joined"
	EventLeaveRoom    = "leave-chat-room"
	EventLeft         = "left"
	EventChatUpdate   = "send-chat-update"
	EventError        = "error"
)

// Event is an inbound realtime frame.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ConfirmationEvent acknowledges a completed handshake.
type ConfirmationEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// JoinedEvent acknowledges a room join.
type JoinedEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// LeftEvent acknowledges that a connection left a room.
type LeftEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// ChatUpdateEvent carries the full ordered message list of a conversation.
type ChatUpdateEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// ErrorEvent reports an error to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode serializes a value to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeEvent deserializes JSON bytes into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
