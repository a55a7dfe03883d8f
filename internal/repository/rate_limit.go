package repository

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"thesis_messaging/pkg/logger"
)

type RateLimitRepository interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		r.log.Error("Failed to check rate limit", "error", err)
		return false, err
	}

	return count < limit, nil
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to increment rate limit", "error", err)
		return 0, err
	}
	return incr.Val(), nil
}

type memoryWindow struct {
	count   int64
	expires time.Time
}

type memoryRateLimitRepository struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

// NewMemoryRateLimitRepository is used when Redis is not configured.
func NewMemoryRateLimitRepository() RateLimitRepository {
	return &memoryRateLimitRepository{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (r *memoryRateLimitRepository) window(key string) *memoryWindow {
	w, ok := r.windows[key]
	if ok && r.now().After(w.expires) {
		delete(r.windows, key)
		return nil
	}
	return w
}

func (r *memoryRateLimitRepository) CheckLimit(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.window(key)
	if w == nil {
		return true, nil
	}
	return w.count < int64(limit), nil
}

func (r *memoryRateLimitRepository) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.window(key)
	if w == nil {
		w = &memoryWindow{expires: r.now().Add(window)}
		r.windows[key] = w
	}
	w.count++
	return w.count, nil
}
