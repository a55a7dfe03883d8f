package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/repository"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type UserService interface {
	GetMe(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	// Search finds users to start a conversation with; the requester is excluded.
	Search(ctx context.Context, requesterID uuid.UUID, query string, limit int) ([]*domain.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewUserService(userRepo repository.UserRepository, log logger.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		log:      log,
	}
}

func (s *userService) GetMe(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

func (s *userService) Search(ctx context.Context, requesterID uuid.UUID, query string, limit int) ([]*domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewValidationError("q", "search query must not be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	users, err := s.userRepo.Search(ctx, query, requesterID, limit)
	if err != nil {
		s.log.Error("User search failed", "error", err)
		return nil, err
	}
	return users, nil
}
