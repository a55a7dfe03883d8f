package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestEndpointMiddleware(t *testing.T) {
	valid := uuid.NewString()
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", valid, valid},
		{"missing", "", ""},
		{"garbage", "not-a-uuid", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			r := gin.New()
			r.GET("/", EndpointMiddleware(), func(c *gin.Context) {
				got = EndpointID(c)
				c.Status(http.StatusNoContent)
			})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(EndpointHeader, tt.header)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRequireInternalToken(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"disabled", "", "anything", http.StatusNotFound},
		{"wrong", "secret", "guess", http.StatusUnauthorized},
		{"ok", "secret", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/", RequireInternalToken(tt.configured, logger.NewNop()), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set(InternalTokenHeader, tt.sent)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestErrorHandlerMapsStatus(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(logger.NewNop()))
	r.GET("/missing", func(c *gin.Context) { _ = c.Error(apperrors.ErrConversationNotFound) })
	r.GET("/invalid", func(c *gin.Context) { _ = c.Error(apperrors.NewValidationError("content", "too long")) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invalid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"error":"too long","field":"content"}` {
		t.Fatalf("unexpected body %s", body)
	}
}
