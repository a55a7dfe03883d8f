package notify

import (
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
)

// Event is anything published on the Bus. Name groups subscribers.
type Event interface {
	Name() string
}

const EventConnectionState = "connection.state"

type MessageReceived struct {
	Message *domain.Message
}

func (MessageReceived) Name() string { return domain.EventMessageReceived }

type NotificationReceived struct {
	Notification domain.NotificationPayload
}

func (NotificationReceived) Name() string { return domain.EventNotificationReceived }

type NotificationRead struct {
	ID uuid.UUID
}

func (NotificationRead) Name() string { return domain.EventNotificationRead }

type NotificationsCleared struct {
	Cleared int
}

func (NotificationsCleared) Name() string { return domain.EventNotificationsCleared }

// ConversationRead is raised when the local user read a conversation, here
// or in another tab.
type ConversationRead struct {
	ConversationID uuid.UUID
	Cleared        int
}

func (ConversationRead) Name() string { return domain.EventConversationRead }

type Typing struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	IsTyping       bool
	At             time.Time
}

func (Typing) Name() string { return domain.EventTyping }

type ConnectionState struct {
	State string
	Err   error
}

func (ConnectionState) Name() string { return EventConnectionState }
