package domain

import (
	"time"
)

// RateLimitRule bounds how many actions of one scope a key may perform.
type RateLimitRule struct {
	Scope  string        `json:"scope"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

const (
	RateLimitScopeUser = "user"
	RateLimitScopeIP   = "ip"
	RateLimitScopeSend = "send"
)
