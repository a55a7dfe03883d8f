package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "thesis_messaging/pkg/errors"
)

const (
	DefaultMaxMessageLength = 1000
	DefaultPageSize         = 50
	MaxPageSize             = 200
)

// ContentRules are the checks applied to outgoing message text. The same
// rules run in the client before submit and in the delivery engine.
type ContentRules struct {
	MaxLength     int
	RejectOwnName bool
}

func DefaultContentRules() ContentRules {
	return ContentRules{MaxLength: DefaultMaxMessageLength, RejectOwnName: true}
}

// NormalizeContent trims the content and validates it. Length is counted in
// runes after trimming.
func (r ContentRules) NormalizeContent(content, senderDisplayName string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", apperrors.NewValidationError("content", "message must not be empty")
	}
	max := r.MaxLength
	if max <= 0 {
		max = DefaultMaxMessageLength
	}
	if utf8.RuneCountInString(trimmed) > max {
		return "", apperrors.NewValidationError("content", fmt.Sprintf("message must be at most %d characters", max))
	}
	if r.RejectOwnName && ContainsName(trimmed, senderDisplayName) {
		return "", apperrors.NewValidationError("content", "message must not contain your own name")
	}
	return trimmed, nil
}

// ContainsName reports a case-insensitive substring match. A blank name never matches.
func ContainsName(content, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(name))
}

func NormalizePage(p MessagePage) MessagePage {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}
