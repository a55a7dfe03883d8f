package service

import (
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	"thesis_messaging/pkg/logger"
)

type Services struct {
	Auth         AuthService
	User         UserService
	Message      MessageService
	Conversation ConversationService
	Typing       TypingService
	Notification NotificationService
	RateLimit    RateLimitService
	Audit        AuditService
}

func NewServices(repos *repository.Repositories, broadcaster realtime.Broadcaster, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, log)
	rateLimit := NewRateLimitService(repos.RateLimit, log)

	rules := domain.ContentRules{
		MaxLength:     cfg.Messaging.MaxMessageLength,
		RejectOwnName: cfg.Messaging.RejectOwnName,
	}
	limits := SendLimits{
		Limit:  cfg.Messaging.SendRateLimit,
		Window: cfg.Messaging.SendRateWindow,
	}

	return &Services{
		Auth:         NewAuthService(cfg.JWT, log),
		User:         NewUserService(repos.User, log),
		Message:      NewMessageService(repos.Conversations, repos.User, broadcaster, audit, rateLimit, rules, limits, log),
		Conversation: NewConversationService(repos.Conversations, repos.User, broadcaster, audit, cfg.Messaging.PageSize, log),
		Typing:       NewTypingService(broadcaster, log),
		Notification: NewNotificationService(repos.Notification, broadcaster, audit, log),
		RateLimit:    rateLimit,
		Audit:        audit,
	}
}
