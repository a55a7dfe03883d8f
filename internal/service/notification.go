package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/metrics"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

const (
	NotificationSourceHTTP  = "http"
	NotificationSourceKafka = "kafka"

	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type NotificationService interface {
	// Publish stores n and pushes notification.received. Publishing the same
	// ID twice stores it once.
	Publish(ctx context.Context, n *domain.Notification, source string) error
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID, originEndpoint string) error
	ClearAll(ctx context.Context, userID uuid.UUID, originEndpoint string) (int, error)
}

type notificationService struct {
	repo        repository.NotificationRepository
	broadcaster realtime.Broadcaster
	audit       AuditService
	log         logger.Logger
}

func NewNotificationService(repo repository.NotificationRepository, broadcaster realtime.Broadcaster, audit AuditService, log logger.Logger) NotificationService {
	return &notificationService{
		repo:        repo,
		broadcaster: broadcaster,
		audit:       audit,
		log:         log,
	}
}

func (s *notificationService) Publish(ctx context.Context, n *domain.Notification, source string) error {
	if n.UserID == uuid.Nil {
		return apperrors.NewValidationError("user_id", "user_id is required")
	}
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return apperrors.NewValidationError("title", "title is required")
	}
	if n.Kind == "" {
		n.Kind = domain.NotificationKindSystem
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	metrics.NotificationsPublished.WithLabelValues(source).Inc()

	if _, err := s.broadcaster.Publish(ctx, n.UserID, domain.EventNotificationReceived, domain.NewNotificationPayload(n), ""); err != nil {
		s.log.Warn("Failed to push notification", "error", err, "notification_id", n.ID)
	}

	if err := s.audit.LogEvent(ctx, nil, domain.ActorRoleSystem, nil, domain.EventTypeNotificationEmitted, map[string]interface{}{
		"notification_id": n.ID.String(),
		"user_id":         n.UserID.String(),
		"kind":            n.Kind,
		"source":          source,
	}); err != nil {
		s.log.Warn("Audit write failed", "error", err)
	}
	return nil
}

func (s *notificationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, originEndpoint string) error {
	changed, err := s.repo.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if _, err := s.broadcaster.Publish(ctx, userID, domain.EventNotificationRead, domain.NotificationReadPayload{ID: notificationID}, originEndpoint); err != nil {
		s.log.Warn("Failed to push notification.read", "error", err)
	}
	return nil
}

func (s *notificationService) ClearAll(ctx context.Context, userID uuid.UUID, originEndpoint string) (int, error) {
	cleared, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := s.broadcaster.Publish(ctx, userID, domain.EventNotificationsCleared, domain.NotificationsClearedPayload{Cleared: cleared}, originEndpoint); err != nil {
		s.log.Warn("Failed to push notifications.cleared", "error", err)
	}
	if err := s.audit.LogEvent(ctx, &userID, domain.ActorRoleUser, nil, domain.EventTypeNotificationsClear, map[string]interface{}{
		"cleared": cleared,
	}); err != nil {
		s.log.Warn("Audit write failed", "error", err)
	}
	return cleared, nil
}
