package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/metrics"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

// MessageService is the delivery engine: validate, persist, then fan out.
type MessageService interface {
	// Send persists content from senderID to receiverID and pushes
	// message.received to every endpoint of the receiver and to the
	// sender's endpoints other than originEndpoint.
	Send(ctx context.Context, senderID, receiverID uuid.UUID, content, originEndpoint string) (*domain.Message, error)
}

type SendLimits struct {
	Limit  int
	Window time.Duration
}

type messageService struct {
	store       repository.ConversationStore
	users       repository.UserRepository
	broadcaster realtime.Broadcaster
	audit       AuditService
	rateLimit   RateLimitService
	rules       domain.ContentRules
	limits      SendLimits
	ids         *idGenerator
	log         logger.Logger
}

func NewMessageService(
	store repository.ConversationStore,
	users repository.UserRepository,
	broadcaster realtime.Broadcaster,
	audit AuditService,
	rateLimit RateLimitService,
	rules domain.ContentRules,
	limits SendLimits,
	log logger.Logger,
) MessageService {
	return &messageService{
		store:       store,
		users:       users,
		broadcaster: broadcaster,
		audit:       audit,
		rateLimit:   rateLimit,
		rules:       rules,
		limits:      limits,
		ids:         newIDGenerator(),
		log:         log,
	}
}

func (s *messageService) Send(ctx context.Context, senderID, receiverID uuid.UUID, content, originEndpoint string) (*domain.Message, error) {
	if senderID == receiverID {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, apperrors.NewValidationError("receiver_id", "cannot send a message to yourself")
	}

	allowed, err := s.rateLimit.Allow(ctx, domain.RateLimitScopeSend, senderID.String(), s.limits.Limit, s.limits.Window)
	if err != nil {
		s.log.Warn("Send rate limit unavailable, allowing", "error", err)
	} else if !allowed {
		metrics.MessagesRejected.WithLabelValues("rate_limit").Inc()
		return nil, apperrors.ErrTooManyRequests
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if _, err := s.users.GetByID(ctx, receiverID); err != nil {
		if apperrors.Is(err, apperrors.ErrUserNotFound) {
			metrics.MessagesRejected.WithLabelValues("not_found").Inc()
		}
		return nil, fmt.Errorf("load receiver: %w", err)
	}

	normalized, err := s.rules.NormalizeContent(content, sender.DisplayName)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		metrics.ConversationsStarted.Inc()
		s.logAudit(ctx, senderID, conv.ID, domain.EventTypeConversationStarted, map[string]interface{}{
			"peer_id": receiverID.String(),
			"via":     "send",
		})
	}

	msg := &domain.Message{
		ID:         s.ids.next(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    normalized,
	}
	if err := s.store.AppendMessage(ctx, conv.ID, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesSent.Inc()

	s.fanOut(ctx, msg, originEndpoint)

	s.logAudit(ctx, senderID, conv.ID, domain.EventTypeMessageSent, map[string]interface{}{
		"message_id":  msg.ID,
		"receiver_id": receiverID.String(),
	})

	return msg, nil
}

// fanOut never fails the send: the message is already durable and offline
// or unreachable endpoints pick it up on their next fetch.
func (s *messageService) fanOut(ctx context.Context, msg *domain.Message, originEndpoint string) {
	payload := domain.NewMessagePayload(msg)

	delivered, err := s.broadcaster.Publish(ctx, msg.ReceiverID, domain.EventMessageReceived, payload, "")
	if err != nil {
		s.log.Warn("Failed to push message to receiver", "error", err, "message_id", msg.ID)
	}
	echoed, err := s.broadcaster.Publish(ctx, msg.SenderID, domain.EventMessageReceived, payload, originEndpoint)
	if err != nil {
		s.log.Warn("Failed to push message to sender sessions", "error", err, "message_id", msg.ID)
	}

	s.log.Debug("Message delivered",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"receiver_endpoints", delivered,
		"sender_endpoints", echoed,
	)
}

func (s *messageService) logAudit(ctx context.Context, actor, conversationID uuid.UUID, eventType string, payload map[string]interface{}) {
	if err := s.audit.LogEvent(ctx, &actor, domain.ActorRoleUser, &conversationID, eventType, payload); err != nil {
		s.log.Warn("Audit write failed", "error", err, "event_type", eventType)
	}
}

// idGenerator issues lexically sortable message ids. ulid.Monotonic is not
// safe for concurrent use, hence the mutex.
type idGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDGenerator() *idGenerator {
	return &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
