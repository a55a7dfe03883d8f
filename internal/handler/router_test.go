package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/middleware"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/jwt"
	"thesis_messaging/pkg/logger"
)

const (
	testSecret        = "test-secret"
	testIssuer        = "thesis-portal"
	testInternalToken = "internal-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	registry *realtime.Registry
}

func newTestServer(t *testing.T, users ...*domain.User) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		StoreDriver: config.StoreDriverMemory,
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			InternalToken:  testInternalToken,
		},
		JWT: config.JWTConfig{AccessSecret: testSecret, Issuer: testIssuer},
		Messaging: config.MessagingConfig{
			MaxMessageLength: 1000,
			PageSize:         50,
			RejectOwnName:    true,
			SendRateLimit:    100,
			SendRateWindow:   time.Minute,
		},
		WebSocket: config.WebSocketConfig{
			WriteWait:      time.Second,
			PongWait:       10 * time.Second,
			PingPeriod:     5 * time.Second,
			MaxMessageSize: 8192,
			SendBuffer:     16,
		},
	}
	log := logger.NewNop()
	repos := repository.NewMemoryRepositories(repository.NewMemoryUserRepository(users...))
	registry := realtime.NewRegistry()
	services := service.NewServices(repos, realtime.NewLocalBroadcaster(registry), cfg, log)
	handlers := NewHandlers(services, registry, cfg, log)
	return &testServer{router: NewRouter(handlers, services, cfg, log), registry: registry}
}

func newUser(name string) *domain.User {
	return &domain.User{ID: uuid.New(), DisplayName: name, Role: domain.RoleStudent}
}

func tokenFor(t *testing.T, u *domain.User) string {
	t.Helper()
	token, err := jwt.GenerateAccessToken(u.ID, u.DisplayName, u.Role, testSecret, testIssuer, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/api/v1/conversations", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestStartConversationIsIdempotent(t *testing.T) {
	alice, bob := newUser("Alice"), newUser("Bob")
	srv := newTestServer(t, alice, bob)
	token := tokenFor(t, alice)

	var first, second struct {
		Conversation domain.ConversationView `json:"conversation"`
		Created      bool                    `json:"created"`
	}
	rec := srv.do(t, http.MethodPost, "/api/v1/conversations", token, gin.H{"peer_id": bob.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &first)

	rec = srv.do(t, http.MethodPost, "/api/v1/conversations", token, gin.H{"peer_id": bob.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	decode(t, rec, &second)

	if !first.Created || second.Created {
		t.Fatalf("created flags: first=%v second=%v", first.Created, second.Created)
	}
	if first.Conversation.ID != second.Conversation.ID {
		t.Fatalf("expected the same conversation, got %s and %s", first.Conversation.ID, second.Conversation.ID)
	}
	if first.Conversation.Peer.ID != bob.ID {
		t.Fatalf("expected peer %s, got %s", bob.ID, first.Conversation.Peer.ID)
	}
}

func TestSendMessageValidation(t *testing.T) {
	alice, bob := newUser("Alice"), newUser("Bob")
	srv := newTestServer(t, alice, bob)
	token := tokenFor(t, alice)

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"blank", "   ", http.StatusBadRequest},
		{"at limit", strings.Repeat("a", 1000), http.StatusCreated},
		{"over limit", strings.Repeat("a", 1001), http.StatusBadRequest},
		{"own name", "hi, alice here", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/v1/messages", token, gin.H{"receiver_id": bob.ID, "content": tt.content})
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusBadRequest {
				var body map[string]string
				decode(t, rec, &body)
				if body["field"] != "content" {
					t.Fatalf("expected content field error, got %v", body)
				}
			}
		})
	}
}

func TestSendToUnknownReceiver(t *testing.T) {
	alice := newUser("Alice")
	srv := newTestServer(t, alice)
	rec := srv.do(t, http.MethodPost, "/api/v1/messages", tokenFor(t, alice), gin.H{"receiver_id": uuid.New(), "content": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHistoryAndMarkRead(t *testing.T) {
	alice, bob := newUser("Alice"), newUser("Bob")
	srv := newTestServer(t, alice, bob)
	aliceToken, bobToken := tokenFor(t, alice), tokenFor(t, bob)

	for _, content := range []string{"one", "two", "three"} {
		rec := srv.do(t, http.MethodPost, "/api/v1/messages", aliceToken, gin.H{"receiver_id": bob.ID, "content": content})
		if rec.Code != http.StatusCreated {
			t.Fatalf("send %q: %d %s", content, rec.Code, rec.Body.String())
		}
	}

	var unread UnreadResponse
	decode(t, srv.do(t, http.MethodGet, "/api/v1/unread", bobToken, nil), &unread)
	if unread.Messages != 3 {
		t.Fatalf("expected 3 unread, got %d", unread.Messages)
	}

	convID := domain.ConversationID(alice.ID, bob.ID)
	var history struct {
		Messages []domain.Message `json:"messages"`
	}
	rec := srv.do(t, http.MethodGet, "/api/v1/conversations/"+convID.String()+"/messages", bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &history)
	if len(history.Messages) != 3 || history.Messages[0].Content != "one" || history.Messages[2].Content != "three" {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/conversations/"+convID.String()+"/read", bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, srv.do(t, http.MethodGet, "/api/v1/unread", bobToken, nil), &unread)
	if unread.Messages != 0 {
		t.Fatalf("expected 0 unread after read, got %d", unread.Messages)
	}

	outsider := newUser("Mallory")
	rec = srv.do(t, http.MethodGet, "/api/v1/conversations/"+convID.String()+"/messages", tokenFor(t, outsider), nil)
	if rec.Code != http.StatusForbidden && rec.Code != http.StatusNotFound {
		t.Fatalf("expected outsider to be refused, got %d", rec.Code)
	}
}

func TestInternalNotificationEmit(t *testing.T) {
	bob := newUser("Bob")
	srv := newTestServer(t, bob)
	body := gin.H{"user_id": bob.ID, "kind": domain.NotificationKindGrading, "title": "Thesis graded"}

	rec := srv.do(t, http.MethodPost, "/api/v1/internal/notifications", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without internal token, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/internal/notifications", "", body, middleware.InternalTokenHeader, testInternalToken)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	token := tokenFor(t, bob)
	var unread UnreadResponse
	decode(t, srv.do(t, http.MethodGet, "/api/v1/unread", token, nil), &unread)
	if unread.Notifications != 1 {
		t.Fatalf("expected 1 unread notification, got %d", unread.Notifications)
	}

	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, srv.do(t, http.MethodPost, "/api/v1/notifications/clear", token, nil), &cleared)
	if cleared.Cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared.Cleared)
	}
}

// dialChannel opens a websocket for u and completes the join handshake.
func dialChannel(t *testing.T, ts *httptest.Server, token string, u *domain.User) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	if env := readFrame(t, ws); env.Type != domain.EventConnected {
		t.Fatalf("expected connected, got %s", env.Type)
	}
	frame, _ := domain.Encode(domain.EventJoin, domain.JoinPayload{UserID: u.ID})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write join: %v", err)
	}
	if env := readFrame(t, ws); env.Type != domain.EventJoined {
		t.Fatalf("expected joined, got %s", env.Type)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) domain.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env domain.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func TestChannelReceivesMessagesAndTyping(t *testing.T) {
	alice, bob := newUser("Alice"), newUser("Bob")
	srv := newTestServer(t, alice, bob)
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	aliceToken, bobToken := tokenFor(t, alice), tokenFor(t, bob)
	bobWS := dialChannel(t, ts, bobToken, bob)

	rec := srv.do(t, http.MethodPost, "/api/v1/messages", aliceToken, gin.H{"receiver_id": bob.ID, "content": "are you there?"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}

	env := readFrame(t, bobWS)
	if env.Type != domain.EventMessageReceived {
		t.Fatalf("expected message.received, got %s", env.Type)
	}
	var msg domain.MessagePayload
	if err := env.Decode(&msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Sender != alice.ID || msg.Receiver != bob.ID || msg.Content != "are you there?" {
		t.Fatalf("unexpected payload: %+v", msg)
	}

	aliceWS := dialChannel(t, ts, aliceToken, alice)
	frame, _ := domain.Encode(domain.EventTyping, domain.TypingPayload{
		ConversationID: msg.ConversationID,
		ReceiverID:     &bob.ID,
		IsTyping:       true,
	})
	if err := aliceWS.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write typing: %v", err)
	}
	env = readFrame(t, bobWS)
	if env.Type != domain.EventTyping {
		t.Fatalf("expected typing, got %s", env.Type)
	}
	var typing domain.TypingPayload
	if err := env.Decode(&typing); err != nil {
		t.Fatalf("decode typing: %v", err)
	}
	if typing.UserID == nil || *typing.UserID != alice.ID || !typing.IsTyping {
		t.Fatalf("unexpected typing payload: %+v", typing)
	}
}

func TestChannelRejectsForeignJoin(t *testing.T) {
	alice, bob := newUser("Alice"), newUser("Bob")
	srv := newTestServer(t, alice, bob)
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + tokenFor(t, alice)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	readFrame(t, ws)

	frame, _ := domain.Encode(domain.EventJoin, domain.JoinPayload{UserID: bob.ID})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write join: %v", err)
	}
	if env := readFrame(t, ws); env.Type != domain.EventError {
		t.Fatalf("expected error frame, got %s", env.Type)
	}
	if len(srv.registry.EndpointsFor(bob.ID)) != 0 {
		t.Fatalf("foreign join must not register an endpoint")
	}
}
