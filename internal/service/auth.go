package service

import (
	"context"

	"thesis_messaging/internal/config"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/jwt"
	"thesis_messaging/pkg/logger"
)

// AuthService resolves portal access tokens to identities. Tokens are
// issued by the portal's auth service; this one only validates them.
type AuthService interface {
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}

type authService struct {
	jwtConfig config.JWTConfig
	log       logger.Logger
}

func NewAuthService(jwtConfig config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		jwtConfig: jwtConfig,
		log:       log,
	}
}

func (s *authService) ValidateToken(_ context.Context, token string) (*domain.User, error) {
	claims, err := jwt.ValidateToken(token, s.jwtConfig.AccessSecret)
	if err != nil {
		if err == jwt.ErrTokenExpired {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrInvalidToken
	}
	if s.jwtConfig.Issuer != "" && claims.Issuer != "" && claims.Issuer != s.jwtConfig.Issuer {
		s.log.Warn("Token from unexpected issuer", "issuer", claims.Issuer)
		return nil, apperrors.ErrInvalidToken
	}

	return &domain.User{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}
