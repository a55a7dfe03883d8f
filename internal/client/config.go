package client

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"thesis_messaging/internal/domain"
	"thesis_messaging/pkg/jwt"
)

type Config struct {
	APIURL     string
	ChannelURL string
	Token      string
	LogLevel   string
	Connection ConnectionOptions
}

// LoadConfig reads client settings from the environment and an optional
// .env file. Flags in cmd/chatcli override these values.
func LoadConfig() Config {
	_ = godotenv.Load()

	opts := DefaultConnectionOptions()
	opts.MinBackoff = getDuration("CHAT_MIN_BACKOFF", opts.MinBackoff)
	opts.MaxBackoff = getDuration("CHAT_MAX_BACKOFF", opts.MaxBackoff)

	return Config{
		APIURL:     getEnv("CHAT_API_URL", "http://localhost:8080/api/v1"),
		ChannelURL: getEnv("CHAT_WS_URL", "ws://localhost:8080/api/v1/ws"),
		Token:      os.Getenv("CHAT_TOKEN"),
		LogLevel:   getEnv("LOG_LEVEL", "warn"),
		Connection: opts,
	}
}

// Identity extracts the user the token was issued for.
func (c Config) Identity() (domain.User, error) {
	if c.Token == "" {
		return domain.User{}, fmt.Errorf("access token is required")
	}
	claims, err := jwt.ParseUnverified(c.Token)
	if err != nil {
		return domain.User{}, fmt.Errorf("read token: %w", err)
	}
	return domain.User{ID: claims.UserID, DisplayName: claims.DisplayName, Role: claims.Role}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
