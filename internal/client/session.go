package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/notify"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

// Session states.
const (
	SessionIdle           = "idle"
	SessionLoadingHistory = "loadingHistory"
	SessionReady          = "ready"
	SessionSending        = "sending"
	SessionError          = "error"
)

// TypingExpiry is how long a peer counts as typing after their last signal.
const TypingExpiry = 3 * time.Second

const (
	backgroundTimeout = 15 * time.Second
	seenLimit         = 512
)

type Emitter interface {
	Emit(eventType string, payload any) error
}

type SessionOptions struct {
	Rules    domain.ContentRules
	PageSize int
	Now      func() time.Time
}

type pendingSend struct {
	receiverID uuid.UUID
	content    string
}

// Session holds one user's conversation list, the open transcript and typing
// state. Channel events reach it through the bus.
type Session struct {
	self    domain.User
	api     API
	emitter Emitter
	bus     *notify.Bus
	opts    SessionOptions
	log     logger.Logger

	mu              sync.Mutex
	state           string
	lastErr         error
	conversations   map[uuid.UUID]*domain.ConversationView
	activeID        uuid.UUID
	activePeer      uuid.UUID
	transcript      []*domain.Message
	failed          *pendingSend
	typing          map[uuid.UUID]time.Time
	seen            map[string]struct{}
	seenOrder       []string
	refreshing      bool
	wasDisconnected bool

	bg     sync.WaitGroup
	unsubs []func()
}

func NewSession(self domain.User, api API, emitter Emitter, bus *notify.Bus, opts SessionOptions, log logger.Logger) *Session {
	if opts.Rules.MaxLength <= 0 {
		opts.Rules = domain.DefaultContentRules()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = domain.DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		self:          self,
		api:           api,
		emitter:       emitter,
		bus:           bus,
		opts:          opts,
		log:           log,
		state:         SessionIdle,
		conversations: make(map[uuid.UUID]*domain.ConversationView),
		typing:        make(map[uuid.UUID]time.Time),
		seen:          make(map[string]struct{}),
	}
	s.unsubs = []func(){
		notify.On(bus, s.onMessage),
		notify.On(bus, s.onConversationRead),
		notify.On(bus, s.onTyping),
		notify.On(bus, s.onConnectionState),
	}
	return s
}

// Close detaches the session from the bus and waits for background work.
func (s *Session) Close() {
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.bg.Wait()
}

func (s *Session) State() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

func (s *Session) ActiveConversation() (conversationID, peerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activePeer
}

// Transcript returns the open conversation's messages in display order.
func (s *Session) Transcript() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.transcript))
	for i, m := range s.transcript {
		out[i] = *m
	}
	return out
}

// Conversations returns the list most recently active first.
func (s *Session) Conversations() []domain.ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationView, 0, len(s.conversations))
	for _, v := range s.conversations {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := lastActivity(&out[i]), lastActivity(&out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Session) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, v := range s.conversations {
		total += v.UnreadCount
	}
	return total
}

// IsPeerTyping reports whether the peer of conversationID signalled typing
// within TypingExpiry.
func (s *Session) IsPeerTyping(conversationID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.typing[conversationID]
	if !ok {
		return false
	}
	if s.opts.Now().Sub(at) >= TypingExpiry {
		delete(s.typing, conversationID)
		return false
	}
	return true
}

func (s *Session) RefreshConversations(ctx context.Context) error {
	views, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[uuid.UUID]*domain.ConversationView, len(views))
	for _, v := range views {
		if old, ok := s.conversations[v.ID]; ok && newerSummary(old.LastMessage, v.LastMessage) {
			// push arrived after the server built this list
			v.LastMessage = old.LastMessage
			v.UnreadCount = old.UnreadCount
			v.UpdatedAt = old.UpdatedAt
		}
		next[v.ID] = v
	}
	s.conversations = next
	return nil
}

// StartConversation opens the conversation with peerID, creating it on the
// server if needed. A fresh conversation opens with an empty transcript and
// no history fetch.
func (s *Session) StartConversation(ctx context.Context, peerID uuid.UUID) error {
	if peerID == s.self.ID {
		return apperrors.NewValidationError("peer_id", "cannot start a conversation with yourself")
	}

	s.mu.Lock()
	if s.activePeer == peerID && s.state == SessionReady {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionLoadingHistory
	s.mu.Unlock()

	view, created, err := s.api.StartConversation(ctx, peerID)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if old, ok := s.conversations[view.ID]; ok && newerSummary(old.LastMessage, view.LastMessage) {
		view.LastMessage = old.LastMessage
		view.UnreadCount = old.UnreadCount
	}
	s.conversations[view.ID] = view
	s.activeID = view.ID
	s.activePeer = peerID
	s.transcript = nil
	if created {
		s.state = SessionReady
		s.lastErr = nil
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.loadActive(ctx, view.ID)
}

// OpenConversation switches to a conversation from the list, loads its
// history and marks it read.
func (s *Session) OpenConversation(ctx context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	view, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("open %s: %w", conversationID, apperrors.ErrConversationNotFound)
	}
	s.activeID = conversationID
	s.activePeer = view.Peer.ID
	s.transcript = nil
	s.state = SessionLoadingHistory
	s.mu.Unlock()

	return s.loadActive(ctx, conversationID)
}

func (s *Session) loadActive(ctx context.Context, conversationID uuid.UUID) error {
	history, err := s.api.GetMessages(ctx, conversationID, domain.MessagePage{Limit: s.opts.PageSize})
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.activeID != conversationID {
		// пользователь успел переключиться на другую беседу
		s.mu.Unlock()
		return nil
	}
	s.transcript = mergeMessages(s.transcript, history...)
	for _, m := range history {
		s.markSeenLocked(m.ID)
	}
	unread := 0
	if view, ok := s.conversations[conversationID]; ok {
		unread = view.UnreadCount
		view.UnreadCount = 0
	}
	s.state = SessionReady
	s.lastErr = nil
	s.mu.Unlock()

	if unread > 0 {
		s.markRead(ctx, conversationID)
	}
	return nil
}

// markRead publishes conversation.read only for what the server actually
// cleared. Zero means another endpoint got there first; its conversation.read
// push reaches this one.
func (s *Session) markRead(ctx context.Context, conversationID uuid.UUID) {
	cleared, err := s.api.MarkRead(ctx, conversationID)
	if err != nil {
		s.log.Warn("Failed to mark conversation read", "error", err, "conversation_id", conversationID)
		return
	}
	if cleared == 0 {
		return
	}
	s.bus.Publish(notify.ConversationRead{ConversationID: conversationID, Cleared: cleared})
}

// Send validates content locally and sends it to the open conversation's
// peer. A failed send leaves the session in the error state until Retry or
// another Send.
func (s *Session) Send(ctx context.Context, content string) (*domain.Message, error) {
	s.mu.Lock()
	receiverID := s.activePeer
	state := s.state
	s.mu.Unlock()

	if receiverID == uuid.Nil {
		return nil, apperrors.NewValidationError("conversation", "no conversation is open")
	}
	if state == SessionSending || state == SessionLoadingHistory {
		return nil, fmt.Errorf("session is %s: %w", state, apperrors.ErrConflict)
	}

	normalized, err := s.opts.Rules.NormalizeContent(content, s.self.DisplayName)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, receiverID, normalized)
}

// Retry resends the last failed message. Failed sends are never retried
// automatically.
func (s *Session) Retry(ctx context.Context) (*domain.Message, error) {
	s.mu.Lock()
	p := s.failed
	state := s.state
	s.mu.Unlock()

	if p == nil || state != SessionError {
		return nil, apperrors.NewValidationError("retry", "nothing to retry")
	}
	return s.deliver(ctx, p.receiverID, p.content)
}

func (s *Session) deliver(ctx context.Context, receiverID uuid.UUID, content string) (*domain.Message, error) {
	s.mu.Lock()
	s.state = SessionSending
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, receiverID, content)
	if err != nil {
		s.mu.Lock()
		s.state = SessionError
		s.lastErr = err
		s.failed = &pendingSend{receiverID: receiverID, content: content}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.applyLocked(msg)
	s.markSeenLocked(msg.ID)
	s.state = SessionReady
	s.lastErr = nil
	s.failed = nil
	s.mu.Unlock()
	return msg, nil
}

// Typing signals the peer on every keystroke that leaves non-empty content.
// No stop signal is sent; the peer expires the indicator.
func (s *Session) Typing(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	s.mu.Lock()
	conversationID, peerID := s.activeID, s.activePeer
	s.mu.Unlock()
	if conversationID == uuid.Nil {
		return nil
	}
	return s.emitter.Emit(domain.EventTyping, domain.TypingPayload{
		ConversationID: conversationID,
		ReceiverID:     &peerID,
		IsTyping:       true,
	})
}

func (s *Session) onMessage(e notify.MessageReceived) {
	m := e.Message
	if m == nil {
		return
	}

	s.mu.Lock()
	if _, dup := s.seen[m.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.markSeenLocked(m.ID)

	_, known := s.conversations[m.ConversationID]
	incoming := m.SenderID != s.self.ID
	active := m.ConversationID == s.activeID
	s.applyLocked(m)
	if incoming {
		delete(s.typing, m.ConversationID)
		if view, ok := s.conversations[m.ConversationID]; ok && !active {
			view.UnreadCount++
		}
	}
	s.mu.Unlock()

	if !known {
		s.log.Debug("Message for unknown conversation, refreshing list", "conversation_id", m.ConversationID)
		s.refreshInBackground()
	}
	if active && incoming {
		conversationID := m.ConversationID
		s.background(func(ctx context.Context) {
			s.markRead(ctx, conversationID)
		})
	}
}

// applyLocked merges m into the open transcript and the conversation summary.
func (s *Session) applyLocked(m *domain.Message) {
	if m.ConversationID == s.activeID {
		s.transcript = mergeMessages(s.transcript, m)
	}
	view, ok := s.conversations[m.ConversationID]
	if !ok {
		return
	}
	if view.LastMessage == nil || !m.CreatedAt.Before(view.LastMessage.SentAt) {
		view.LastMessage = m.Summary()
		view.UpdatedAt = m.CreatedAt
	}
}

func (s *Session) markSeenLocked(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > seenLimit {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
}

func (s *Session) onConversationRead(e notify.ConversationRead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.conversations[e.ConversationID]; ok {
		view.UnreadCount = 0
	}
}

func (s *Session) onTyping(e notify.Typing) {
	if e.UserID == s.self.ID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.IsTyping {
		delete(s.typing, e.ConversationID)
		return
	}
	at := e.At
	if at.IsZero() {
		at = s.opts.Now()
	}
	s.typing[e.ConversationID] = at
}

// onConnectionState resyncs after a reconnect, since pushes sent while the
// channel was down are lost.
func (s *Session) onConnectionState(e notify.ConnectionState) {
	s.mu.Lock()
	switch e.State {
	case StateReconnecting:
		s.wasDisconnected = true
		s.mu.Unlock()
		return
	case StateConnected:
		if !s.wasDisconnected {
			s.mu.Unlock()
			return
		}
		s.wasDisconnected = false
	default:
		s.mu.Unlock()
		return
	}
	activeID := s.activeID
	s.mu.Unlock()

	s.refreshInBackground()
	if activeID == uuid.Nil {
		return
	}
	s.background(func(ctx context.Context) {
		history, err := s.api.GetMessages(ctx, activeID, domain.MessagePage{Limit: s.opts.PageSize})
		if err != nil {
			s.log.Warn("Failed to resync transcript", "error", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.activeID == activeID {
			s.transcript = mergeMessages(s.transcript, history...)
			for _, m := range history {
				s.markSeenLocked(m.ID)
			}
		}
	})
}

func (s *Session) refreshInBackground() {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	s.background(func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			s.refreshing = false
			s.mu.Unlock()
		}()
		if err := s.RefreshConversations(ctx); err != nil {
			s.log.Warn("Background conversation refresh failed", "error", err)
		}
	})
}

func (s *Session) background(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionError
	s.lastErr = err
}

// mergeMessages adds incoming to existing, dropping duplicate ids, and
// returns the result in (timestamp, id) order.
func mergeMessages(existing []*domain.Message, incoming ...*domain.Message) []*domain.Message {
	ids := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]*domain.Message, 0, len(existing)+len(incoming))
	for _, m := range existing {
		ids[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range incoming {
		if _, ok := ids[m.ID]; ok {
			continue
		}
		ids[m.ID] = struct{}{}
		copied := *m
		out = append(out, &copied)
	}
	domain.SortMessages(out)
	return out
}

func newerSummary(a, b *domain.MessageSummary) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.SentAt.After(b.SentAt)
}

func lastActivity(v *domain.ConversationView) time.Time {
	if v.LastMessage != nil && v.LastMessage.SentAt.After(v.UpdatedAt) {
		return v.LastMessage.SentAt
	}
	return v.UpdatedAt
}
