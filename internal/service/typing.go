package service

import (
	"context"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/realtime"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

// TypingService relays ephemeral typing signals. Nothing is stored and no
// stop signal exists; receivers expire indicators themselves.
type TypingService interface {
	Relay(ctx context.Context, typistID uuid.UUID, signal domain.TypingPayload) error
}

type typingService struct {
	broadcaster realtime.Broadcaster
	log         logger.Logger
}

func NewTypingService(broadcaster realtime.Broadcaster, log logger.Logger) TypingService {
	return &typingService{broadcaster: broadcaster, log: log}
}

func (s *typingService) Relay(ctx context.Context, typistID uuid.UUID, signal domain.TypingPayload) error {
	if signal.ReceiverID == nil || *signal.ReceiverID == uuid.Nil {
		return apperrors.NewValidationError("receiverId", "receiverId is required")
	}
	receiverID := *signal.ReceiverID
	if receiverID == typistID {
		return apperrors.NewValidationError("receiverId", "cannot signal typing to yourself")
	}

	// Идентификатор беседы детерминирован, поэтому проверка не требует запроса к хранилищу
	expected := domain.ConversationID(typistID, receiverID)
	if signal.ConversationID != uuid.Nil && signal.ConversationID != expected {
		return apperrors.NewValidationError("conversationId", "conversation does not match receiver")
	}

	out := domain.TypingPayload{
		ConversationID: expected,
		UserID:         &typistID,
		IsTyping:       signal.IsTyping,
	}
	if _, err := s.broadcaster.Publish(ctx, receiverID, domain.EventTyping, out, ""); err != nil {
		s.log.Debug("Typing relay failed", "error", err)
		return err
	}
	return nil
}
