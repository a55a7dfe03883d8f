package handler

import (
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	User         *UserHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	Unread       *UnreadHandler
	Notification *NotificationHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, registry *realtime.Registry, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(cfg, registry),
		User:         NewUserHandler(services.User, log),
		Conversation: NewConversationHandler(services.Conversation, log),
		Message:      NewMessageHandler(services.Message, log),
		Unread:       NewUnreadHandler(services.Conversation, services.Notification, log),
		Notification: NewNotificationHandler(services.Notification, log),
		WebSocket:    NewWebSocketHandler(registry, services.Typing, cfg, log),
	}
}
