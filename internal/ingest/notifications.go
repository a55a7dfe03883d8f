package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/service"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

// NotificationEvent is what the thesis workflow publishes when something a
// user should hear about happens (submission reviewed, grade posted, ...).
type NotificationEvent struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      *string   `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (e NotificationEvent) Notification() *domain.Notification {
	return &domain.Notification{
		ID:        e.ID,
		UserID:    e.UserID,
		Kind:      e.Kind,
		Title:     e.Title,
		Body:      e.Body,
		Link:      e.Link,
		CreatedAt: e.CreatedAt,
	}
}

type NotificationHandler struct {
	notifications service.NotificationService
	log           logger.Logger
}

func NewNotificationHandler(notifications service.NotificationService, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

// Handle publishes one event. Malformed or invalid events are logged and
// acknowledged; only store failures are returned so the message is retried.
func (h *NotificationHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.log.Warn("Dropping malformed notification event", "error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if event.ID == uuid.Nil {
		// Детерминированный id делает повторную доставку идемпотентной
		event.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)))
	}

	err := h.notifications.Publish(ctx, event.Notification(), service.NotificationSourceKafka)
	if apperrors.Is(err, apperrors.ErrValidation) {
		h.log.Warn("Dropping invalid notification event", "error", err, "offset", msg.Offset)
		return nil
	}
	if err != nil {
		h.log.Error("Failed to publish notification event", "error", err, "offset", msg.Offset)
		return err
	}
	return nil
}

