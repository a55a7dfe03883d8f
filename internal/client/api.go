package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
)

// API is the request layer the Session talks to.
type API interface {
	ListConversations(ctx context.Context) ([]*domain.ConversationView, error)
	StartConversation(ctx context.Context, peerID uuid.UUID) (*domain.ConversationView, bool, error)
	GetMessages(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error)
	SendMessage(ctx context.Context, receiverID uuid.UUID, content string) (*domain.Message, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID) (int, error)
	Unread(ctx context.Context) (*UnreadCounts, error)
}

type UnreadCounts struct {
	Messages      int `json:"messages"`
	Notifications int `json:"notifications"`
}

// APIClient представляет клиент для REST API сервиса сообщений
type APIClient struct {
	baseURL    string
	token      string
	endpointID func() string
	httpClient *http.Client
}

// NewAPIClient создает новый клиент. endpointID, if set, is sent with every
// request so pushes caused by the request skip this client's own channel.
func NewAPIClient(baseURL, token string, endpointID func() string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		endpointID: endpointID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) ListConversations(ctx context.Context) ([]*domain.ConversationView, error) {
	var response struct {
		Conversations []*domain.ConversationView `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &response); err != nil {
		return nil, err
	}
	return response.Conversations, nil
}

func (c *APIClient) StartConversation(ctx context.Context, peerID uuid.UUID) (*domain.ConversationView, bool, error) {
	req := struct {
		PeerID uuid.UUID `json:"peer_id"`
	}{PeerID: peerID}
	var response struct {
		Conversation *domain.ConversationView `json:"conversation"`
		Created      bool                     `json:"created"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &response); err != nil {
		return nil, false, err
	}
	return response.Conversation, response.Created, nil
}

func (c *APIClient) GetMessages(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error) {
	q := url.Values{}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if !page.Before.IsZero() {
		q.Set("before", page.Before.UTC().Format(time.RFC3339Nano))
	}
	path := "/conversations/" + conversationID.String() + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

func (c *APIClient) SendMessage(ctx context.Context, receiverID uuid.UUID, content string) (*domain.Message, error) {
	req := struct {
		ReceiverID uuid.UUID `json:"receiver_id"`
		Content    string    `json:"content"`
	}{ReceiverID: receiverID, Content: content}

	var message domain.Message
	if err := c.do(ctx, http.MethodPost, "/messages", req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *APIClient) MarkRead(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var response struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID.String()+"/read", nil, &response); err != nil {
		return 0, err
	}
	return response.Cleared, nil
}

func (c *APIClient) Unread(ctx context.Context) (*UnreadCounts, error) {
	var counts UnreadCounts
	if err := c.do(ctx, http.MethodGet, "/unread", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

func (c *APIClient) SearchUsers(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var response struct {
		Users []*domain.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/search?"+q.Encode(), nil, &response); err != nil {
		return nil, err
	}
	return response.Users, nil
}

func (c *APIClient) ListNotifications(ctx context.Context, limit int) ([]*domain.Notification, error) {
	path := "/notifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var response struct {
		Notifications []*domain.Notification `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Notifications, nil
}

func (c *APIClient) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/notifications/"+id.String()+"/read", nil, nil)
}

func (c *APIClient) ClearNotifications(ctx context.Context) (int, error) {
	var response struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodPost, "/notifications/clear", nil, &response); err != nil {
		return 0, err
	}
	return response.Cleared, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if c.endpointID != nil {
		if id := c.endpointID(); id != "" {
			httpReq.Header.Set("X-Endpoint-ID", id)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, apperrors.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return responseError(resp.StatusCode, bodyBytes)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError turns an error response back into the error kinds the
// server started from.
func responseError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	_ = json.Unmarshal(body, &payload)
	message := payload.Error
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	switch status {
	case http.StatusBadRequest:
		return apperrors.NewValidationError(payload.Field, message)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", apperrors.ErrForbidden, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", apperrors.ErrTooManyRequests, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", apperrors.ErrTransport, status, message)
	default:
		return apperrors.NewAPIError(message, status)
	}
}
