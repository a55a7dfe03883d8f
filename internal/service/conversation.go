package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/metrics"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

type ConversationService interface {
	List(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationView, error)
	// Start resolves the conversation with peerID. created is true only for
	// the call that made it.
	Start(ctx context.Context, userID, peerID uuid.UUID) (view *domain.ConversationView, created bool, err error)
	History(ctx context.Context, userID, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error)
	// MarkRead is idempotent; a second call clears nothing and succeeds.
	MarkRead(ctx context.Context, userID, conversationID uuid.UUID, originEndpoint string) (int, error)
	UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error)
}

type conversationService struct {
	store       repository.ConversationStore
	users       repository.UserRepository
	broadcaster realtime.Broadcaster
	audit       AuditService
	pageSize    int
	log         logger.Logger
}

func NewConversationService(
	store repository.ConversationStore,
	users repository.UserRepository,
	broadcaster realtime.Broadcaster,
	audit AuditService,
	pageSize int,
	log logger.Logger,
) ConversationService {
	if pageSize <= 0 {
		pageSize = domain.DefaultPageSize
	}
	return &conversationService{
		store:       store,
		users:       users,
		broadcaster: broadcaster,
		audit:       audit,
		pageSize:    pageSize,
		log:         log,
	}
}

func (s *conversationService) List(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationView, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	peerIDs := make([]uuid.UUID, 0, len(conversations))
	for _, conv := range conversations {
		peerIDs = append(peerIDs, conv.Peer(userID))
	}
	peers, err := s.users.GetByIDs(ctx, peerIDs)
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}

	views := make([]*domain.ConversationView, 0, len(conversations))
	for _, conv := range conversations {
		views = append(views, s.view(conv, userID, peers[conv.Peer(userID)]))
	}
	return views, nil
}

func (s *conversationService) Start(ctx context.Context, userID, peerID uuid.UUID) (*domain.ConversationView, bool, error) {
	if userID == peerID {
		return nil, false, apperrors.NewValidationError("peer_id", "cannot start a conversation with yourself")
	}
	peer, err := s.users.GetByID(ctx, peerID)
	if err != nil {
		return nil, false, fmt.Errorf("load peer: %w", err)
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, userID, peerID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		metrics.ConversationsStarted.Inc()
		if err := s.audit.LogEvent(ctx, &userID, domain.ActorRoleUser, &conv.ID, domain.EventTypeConversationStarted, map[string]interface{}{
			"peer_id": peerID.String(),
			"via":     "start",
		}); err != nil {
			s.log.Warn("Audit write failed", "error", err)
		}
	}
	return s.view(conv, userID, peer), created, nil
}

func (s *conversationService) History(ctx context.Context, userID, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if page.Limit <= 0 {
		page.Limit = s.pageSize
	}
	return s.store.GetMessages(ctx, conversationID, domain.NormalizePage(page))
}

func (s *conversationService) MarkRead(ctx context.Context, userID, conversationID uuid.UUID, originEndpoint string) (int, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	cleared, err := s.store.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if cleared == 0 {
		return 0, nil
	}

	// Остальные вкладки пользователя сбрасывают счётчик сами
	payload := domain.ConversationReadPayload{ConversationID: conversationID, UserID: userID, Cleared: cleared}
	if _, err := s.broadcaster.Publish(ctx, userID, domain.EventConversationRead, payload, originEndpoint); err != nil {
		s.log.Warn("Failed to push conversation.read", "error", err)
	}
	return cleared, nil
}

func (s *conversationService) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.UnreadTotal(ctx, userID)
}

func (s *conversationService) participantConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return conv, nil
}

func (s *conversationService) view(conv *domain.Conversation, userID uuid.UUID, peer *domain.User) *domain.ConversationView {
	peerID := conv.Peer(userID)
	if peer == nil {
		// Собеседник удалён из портала: показываем заглушку
		peer = &domain.User{ID: peerID, DisplayName: "Unknown user"}
	}
	updated := conv.CreatedAt
	if conv.LastMessage != nil {
		updated = conv.LastMessage.SentAt
	}
	return &domain.ConversationView{
		ID:          conv.ID,
		Peer:        *peer,
		LastMessage: conv.LastMessage,
		UnreadCount: conv.UnreadFor(userID),
		UpdatedAt:   updated,
	}
}
