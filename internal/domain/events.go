package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel event names. Inbound frames come from clients, outbound frames
// are pushed by the server.
const (
	EventJoin   = "join"
	EventTyping = "typing"

	EventConnected            = "connected"
	EventJoined               = "joined"
	EventMessageReceived      = "message.received"
	EventNotificationReceived = "notification.received"
	EventNotificationRead     = "notification.read"
	EventNotificationsCleared = "notifications.cleared"
	EventConversationRead     = "conversation.read"
	EventError                = "error"
)

// Envelope is the JSON frame carried over the channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// Encode marshals a full frame.
func Encode(eventType string, payload any) ([]byte, error) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

type JoinPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type ConnectedPayload struct {
	EndpointID string `json:"endpointId"`
}

type JoinedPayload struct {
	UserID     uuid.UUID `json:"userId"`
	EndpointID string    `json:"endpointId"`
}

// TypingPayload is sent by the typist with ReceiverID set and delivered to
// the receiver with UserID set to the typist.
type TypingPayload struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	ReceiverID     *uuid.UUID `json:"receiverId,omitempty"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	IsTyping       bool       `json:"isTyping"`
}

type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Sender         uuid.UUID `json:"sender"`
	Receiver       uuid.UUID `json:"receiver"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewMessagePayload(m *Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.SenderID,
		Receiver:       m.ReceiverID,
		Content:        m.Content,
		Timestamp:      m.CreatedAt,
	}
}

func (p MessagePayload) Message() *Message {
	return &Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.Sender,
		ReceiverID:     p.Receiver,
		Content:        p.Content,
		CreatedAt:      p.Timestamp,
	}
}

type NotificationPayload struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      *string   `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewNotificationPayload(n *Notification) NotificationPayload {
	return NotificationPayload{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Link:      n.Link,
		CreatedAt: n.CreatedAt,
	}
}

type NotificationReadPayload struct {
	ID uuid.UUID `json:"id"`
}

type NotificationsClearedPayload struct {
	Cleared int `json:"cleared"`
}

type ConversationReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Cleared        int       `json:"cleared"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
