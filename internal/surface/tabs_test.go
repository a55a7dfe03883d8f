package surface

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/client"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/notify"
	"thesis_messaging/pkg/logger"
)

// inbox is one user's server-side unread state shared by several tabs. A
// mark-read that clears something is pushed to every other tab, the way
// the server pushes conversation.read.
type inbox struct {
	mu    sync.Mutex
	self  domain.User
	views map[uuid.UUID]*domain.ConversationView
	tabs  []*notify.Bus
}

func newInbox(self domain.User) *inbox {
	return &inbox{self: self, views: make(map[uuid.UUID]*domain.ConversationView)}
}

func (s *inbox) addConversation(peer domain.User, unread int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := domain.ConversationID(s.self.ID, peer.ID)
	s.views[id] = &domain.ConversationView{ID: id, Peer: peer, UnreadCount: unread, UpdatedAt: time.Now()}
	return id
}

func (s *inbox) openTab() (*notify.Bus, *tabAPI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bus := notify.NewBus(logger.NewNop())
	s.tabs = append(s.tabs, bus)
	return bus, &tabAPI{inbox: s, tab: len(s.tabs) - 1}
}

// deliver stores an incoming message and pushes it to every tab.
func (s *inbox) deliver(m *domain.Message) {
	s.mu.Lock()
	view := s.views[m.ConversationID]
	view.UnreadCount++
	view.LastMessage = m.Summary()
	view.UpdatedAt = m.CreatedAt
	tabs := append([]*notify.Bus(nil), s.tabs...)
	s.mu.Unlock()

	for _, bus := range tabs {
		bus.Publish(notify.MessageReceived{Message: m})
	}
}

type tabAPI struct {
	inbox *inbox
	tab   int
}

func (a *tabAPI) ListConversations(context.Context) ([]*domain.ConversationView, error) {
	a.inbox.mu.Lock()
	defer a.inbox.mu.Unlock()
	var out []*domain.ConversationView
	for _, v := range a.inbox.views {
		copied := *v
		out = append(out, &copied)
	}
	return out, nil
}

func (a *tabAPI) StartConversation(_ context.Context, peerID uuid.UUID) (*domain.ConversationView, bool, error) {
	a.inbox.mu.Lock()
	defer a.inbox.mu.Unlock()
	copied := *a.inbox.views[domain.ConversationID(a.inbox.self.ID, peerID)]
	return &copied, false, nil
}

func (a *tabAPI) GetMessages(context.Context, uuid.UUID, domain.MessagePage) ([]*domain.Message, error) {
	return nil, nil
}

func (a *tabAPI) SendMessage(context.Context, uuid.UUID, string) (*domain.Message, error) {
	return nil, nil
}

func (a *tabAPI) MarkRead(_ context.Context, conversationID uuid.UUID) (int, error) {
	a.inbox.mu.Lock()
	view := a.inbox.views[conversationID]
	cleared := view.UnreadCount
	view.UnreadCount = 0
	var others []*notify.Bus
	for i, bus := range a.inbox.tabs {
		if i != a.tab {
			others = append(others, bus)
		}
	}
	a.inbox.mu.Unlock()

	if cleared > 0 {
		for _, bus := range others {
			bus.Publish(notify.ConversationRead{ConversationID: conversationID, Cleared: cleared})
		}
	}
	return cleared, nil
}

func (a *tabAPI) Unread(context.Context) (*client.UnreadCounts, error) {
	a.inbox.mu.Lock()
	defer a.inbox.mu.Unlock()
	total := 0
	for _, v := range a.inbox.views {
		total += v.UnreadCount
	}
	return &client.UnreadCounts{Messages: total}, nil
}

type silentEmitter struct{}

func (silentEmitter) Emit(string, any) error { return nil }

func TestBadgeStaysExactWithConversationOpenInTwoTabs(t *testing.T) {
	ctx := context.Background()
	self := domain.User{ID: uuid.New(), DisplayName: "Yuna", Role: domain.RoleStudent}
	supervisor := domain.User{ID: uuid.New(), DisplayName: "Xavier", Role: domain.RoleSupervisor}
	coordinator := domain.User{ID: uuid.New(), DisplayName: "Wanda", Role: domain.RoleCoordinator}

	server := newInbox(self)
	open := server.addConversation(supervisor, 0)
	server.addConversation(coordinator, 2)

	type tab struct {
		session *client.Session
		badge   *Badge
	}
	var tabs []tab
	for i := 0; i < 2; i++ {
		bus, api := server.openTab()
		session := client.NewSession(self, api, silentEmitter{}, bus, client.SessionOptions{}, logger.NewNop())
		badge := NewBadge(bus, self.ID, api, logger.NewNop())
		defer badge.Close()

		if err := session.RefreshConversations(ctx); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if err := badge.Refresh(ctx); err != nil {
			t.Fatalf("badge refresh: %v", err)
		}
		if err := session.OpenConversation(ctx, open); err != nil {
			t.Fatalf("open: %v", err)
		}
		tabs = append(tabs, tab{session: session, badge: badge})
	}

	server.deliver(&domain.Message{
		ID:             uuid.NewString(),
		ConversationID: open,
		SenderID:       supervisor.ID,
		ReceiverID:     self.ID,
		Content:        "draft looks good",
		CreatedAt:      time.Now(),
	})

	// Close waits for the background mark-read of each tab.
	for _, tb := range tabs {
		tb.session.Close()
	}

	for i, tb := range tabs {
		if m, _ := tb.badge.Counts(); m != 2 {
			t.Fatalf("tab %d: expected badge 2, got %d", i, m)
		}
		if total := tb.session.UnreadTotal(); total != 2 {
			t.Fatalf("tab %d: expected session unread 2, got %d", i, total)
		}
	}
}
