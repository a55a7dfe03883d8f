package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
)

// memoryConversationStore keeps conversations in process. Used by tests and
// by STORE_DRIVER=memory for local development.
type memoryConversationStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	messages      map[uuid.UUID][]*domain.Message
	now           func() time.Time
}

func NewMemoryConversationStore() ConversationStore {
	return NewMemoryConversationStoreWithClock(time.Now)
}

func NewMemoryConversationStoreWithClock(now func() time.Time) ConversationStore {
	return &memoryConversationStore{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		messages:      make(map[uuid.UUID][]*domain.Message),
		now:           now,
	}
}

func (s *memoryConversationStore) FindOrCreateConversation(_ context.Context, userA, userB uuid.UUID) (*domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := domain.ConversationID(userA, userB)
	if conv, ok := s.conversations[id]; ok {
		return cloneConversation(conv), false, nil
	}
	conv := domain.NewConversation(userA, userB, s.now().UTC())
	s.conversations[id] = conv
	return cloneConversation(conv), true, nil
}

func (s *memoryConversationStore) GetConversation(_ context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *memoryConversationStore) ListConversations(_ context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := lastActivity(out[i]), lastActivity(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *memoryConversationStore) GetMessages(_ context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error) {
	page = domain.NormalizePage(page)

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[conversationID]
	end := len(all)
	if !page.Before.IsZero() {
		end = sort.Search(len(all), func(i int) bool { return !all[i].CreatedAt.Before(page.Before) })
	}
	start := end - page.Limit
	if start < 0 {
		start = 0
	}

	out := make([]*domain.Message, 0, end-start)
	for _, msg := range all[start:end] {
		copied := *msg
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memoryConversationStore) AppendMessage(_ context.Context, conversationID uuid.UUID, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return apperrors.ErrConversationNotFound
	}

	var last time.Time
	if conv.LastMessage != nil {
		last = conv.LastMessage.SentAt
	}
	msg.ConversationID = conversationID
	msg.CreatedAt = domain.NextTimestamp(last, s.now())

	stored := *msg
	s.messages[conversationID] = append(s.messages[conversationID], &stored)

	conv.LastMessage = msg.Summary()
	conv.UpdatedAt = msg.CreatedAt
	if conv.HasParticipant(msg.ReceiverID) {
		conv.Unread[msg.ReceiverID]++
	}
	return nil
}

func (s *memoryConversationStore) MarkRead(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || !conv.HasParticipant(userID) {
		return 0, apperrors.ErrConversationNotFound
	}
	cleared := conv.Unread[userID]
	conv.Unread[userID] = 0
	return cleared, nil
}

func (s *memoryConversationStore) UnreadTotal(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			total += conv.Unread[userID]
		}
	}
	return total, nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	copied := *c
	if c.LastMessage != nil {
		summary := *c.LastMessage
		copied.LastMessage = &summary
	}
	copied.Unread = make(map[uuid.UUID]int, len(c.Unread))
	for k, v := range c.Unread {
		copied.Unread[k] = v
	}
	return &copied
}

func lastActivity(c *domain.Conversation) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}
