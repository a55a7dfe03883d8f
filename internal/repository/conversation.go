package repository

import (
	"context"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
)

// ConversationStore is the narrow query/command surface the messaging core
// needs from durable storage.
type ConversationStore interface {
	// FindOrCreateConversation returns the conversation for the unordered
	// pair, creating it if needed. created reports whether this call made it.
	FindOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (conv *domain.Conversation, created bool, err error)
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	// ListConversations returns the user's conversations, most recently active first.
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	// GetMessages returns one page in ascending (timestamp, id) order.
	GetMessages(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error)
	// AppendMessage assigns the message timestamp, persists it, updates the
	// last-message summary and increments the receiver's unread counter as
	// one step.
	AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error
	// MarkRead zeroes the user's unread counter and returns how many were cleared.
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error)
}
