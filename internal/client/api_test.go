package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
)

func TestAPIClientSendsIdentityHeaders(t *testing.T) {
	receiver := uuid.New()
	var gotAuth, gotEndpoint string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEndpoint = r.Header.Get("X-Endpoint-ID")
		if r.URL.Path != "/api/v1/messages" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			ReceiverID uuid.UUID `json:"receiver_id"`
			Content    string    `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Message{ID: "01", ReceiverID: req.ReceiverID, Content: req.Content, CreatedAt: time.Now()})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/api/v1/", "tok", func() string { return "endpoint-7" })
	msg, err := c.SendMessage(context.Background(), receiver, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ReceiverID != receiver || msg.Content != "hi" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if gotAuth != "Bearer tok" || gotEndpoint != "endpoint-7" {
		t.Fatalf("unexpected headers auth=%q endpoint=%q", gotAuth, gotEndpoint)
	}
}

func TestAPIClientMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"validation", http.StatusBadRequest, `{"error":"message must not be empty","field":"content"}`, apperrors.ErrValidation},
		{"not found", http.StatusNotFound, `{"error":"user not found"}`, apperrors.ErrNotFound},
		{"forbidden", http.StatusForbidden, `{"error":"not a conversation participant"}`, apperrors.ErrForbidden},
		{"rate limited", http.StatusTooManyRequests, `{"error":"too many requests"}`, apperrors.ErrTooManyRequests},
		{"unavailable", http.StatusServiceUnavailable, `upstream down`, apperrors.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewAPIClient(srv.URL, "tok", nil)
			_, err := c.SendMessage(context.Background(), uuid.New(), "x")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	var vErr *apperrors.ValidationError
	if err := responseError(http.StatusBadRequest, []byte(`{"error":"too long","field":"content"}`)); !errors.As(err, &vErr) || vErr.Field != "content" {
		t.Fatalf("expected field to survive, got %v", err)
	}
}

func TestAPIClientTransportFailure(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", "tok", nil)
	if _, err := c.ListConversations(context.Background()); !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
