package chat

import (
	"time"

	"taskroom/api/internal/store"
)

// Client -> server event types.
const (
	EventJoinProjectChat = "join-project-chat"
	EventSendMessage     = "send-message"
	EventTyping          = "typing"
	EventStopTyping      = "stop-typing"
	EventEditMessage     = "edit-message"
	EventDeleteMessage   = "delete-message"
)

// Server -> client event types.
const (
	EventUserJoined        = "user-joined"
	EventNewMessage        = "new-message"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventMessageEdited     = "message-edited"
	EventMessageDeleted    = "message-deleted"
	EventUserLeft          = "user-left"
	EventError             = "error"
)

// Error codes carried on unicast error events.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeForbidden   = "FORBIDDEN"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeRateLimited = "RATE_LIMITED"
	ErrCodePersistence = "PERSISTENCE_ERROR"
	ErrCodeNotInRoom   = "NOT_IN_ROOM"
)

// Envelope is the minimal shape every inbound frame must carry.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> server payloads.

type JoinPayload struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type SendPayload struct {
	Type             string `json:"type"`
	ProjectID        string `json:"projectId"`
	SenderID         string `json:"senderId"`
	SenderName       string `json:"senderName"`
	MessageContent   string `json:"messageContent"`
	ReplyToMessageID *int64 `json:"replyToMessageId,omitempty"`
	ReplyToUserID    string `json:"replyToUserId,omitempty"`
}

type TypingPayload struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type StopTypingPayload struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

type EditPayload struct {
	Type           string `json:"type"`
	MessageID      int64  `json:"messageId"`
	UserID         string `json:"userId"`
	MessageContent string `json:"messageContent"`
}

type DeletePayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	UserID    string `json:"userId"`
}

// Server -> client payloads.

// PresenceEvent announces a user joining or leaving the room.
type PresenceEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageEvent carries the full persisted row for new-message and
// message-edited broadcasts. The sender's own connection receives its
// new-message broadcast too; there is no separate send ack.
type MessageEvent struct {
	Type    string            `json:"type"`
	Message store.ChatMessage `json:"message"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Code: code, Message: message}
}
