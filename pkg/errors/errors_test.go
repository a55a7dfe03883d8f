package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation type", NewValidationError("content", "content must not be empty"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("load: %w", ErrConversationNotFound), http.StatusNotFound},
		{"not participant", ErrNotParticipant, http.StatusForbidden},
		{"expired token", ErrTokenExpired, http.StatusUnauthorized},
		{"rate limited", ErrTooManyRequests, http.StatusTooManyRequests},
		{"api error", NewAPIError("gone", http.StatusGone), http.StatusGone},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusFromError(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("send: %w", NewValidationError("content", "too long"))
	if !Is(err, ErrValidation) {
		t.Fatalf("expected wrapped validation error to match ErrValidation")
	}
	var vErr *ValidationError
	if !As(err, &vErr) || vErr.Field != "content" {
		t.Fatalf("expected to extract ValidationError, got %v", vErr)
	}
}
