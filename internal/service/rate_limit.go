package service

import (
	"context"
	"fmt"
	"time"

	"thesis_messaging/internal/metrics"
	"thesis_messaging/internal/repository"
	"thesis_messaging/pkg/logger"
)

type RateLimitService interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Allow checks and counts one action for scope/key in a single call.
	Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return s.rateLimitRepo.CheckLimit(ctx, key, limit, window)
}

func (s *rateLimitService) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.rateLimitRepo.Increment(ctx, key, window)
}

func (s *rateLimitService) Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	count, err := s.rateLimitRepo.Increment(ctx, fmt.Sprintf("rate:%s:%s", scope, key), window)
	if err != nil {
		return false, err
	}
	if count > int64(limit) {
		metrics.RateLimitHits.WithLabelValues(scope).Inc()
		return false, nil
	}
	return true, nil
}
