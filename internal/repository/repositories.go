package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"thesis_messaging/pkg/logger"
)

type Repositories struct {
	Conversations ConversationStore
	User          UserRepository
	Notification  NotificationRepository
	Audit         AuditRepository
	RateLimit     RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversations: NewPostgresConversationStore(db, log),
		User:          NewUserRepository(db, log),
		Notification:  NewNotificationRepository(db, log),
		Audit:         NewAuditRepository(db, log),
	}

	if redis != nil {
		repos.RateLimit = NewRateLimitRepository(redis, log)
	} else {
		log.Warn("Redis not configured, using in-process rate limiter")
		repos.RateLimit = NewMemoryRateLimitRepository()
	}

	return repos
}

// NewMemoryRepositories wires every repository to process memory.
func NewMemoryRepositories(users *MemoryUserRepository) *Repositories {
	if users == nil {
		users = NewMemoryUserRepository()
	}
	return &Repositories{
		Conversations: NewMemoryConversationStore(),
		User:          users,
		Notification:  NewMemoryNotificationRepository(),
		Audit:         NewMemoryAuditRepository(),
		RateLimit:     NewMemoryRateLimitRepository(),
	}
}
