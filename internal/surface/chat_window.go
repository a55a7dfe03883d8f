package surface

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/client"
	"thesis_messaging/internal/notify"
)

// ChatWindow tracks the docked chat window for one conversation: whether it
// is expanded, messages that arrived while it was collapsed, and the peer's
// typing indicator.
type ChatWindow struct {
	selfID uuid.UUID
	now    func() time.Time

	mu             sync.Mutex
	conversationID uuid.UUID
	open           bool
	unseen         int
	typingAt       time.Time
	unsubs         []func()
}

func NewChatWindow(bus *notify.Bus, selfID uuid.UUID, now func() time.Time) *ChatWindow {
	if now == nil {
		now = time.Now
	}
	w := &ChatWindow{selfID: selfID, now: now}
	w.unsubs = []func(){
		notify.On(bus, w.onMessage),
		notify.On(bus, w.onTyping),
		notify.On(bus, func(e notify.ConversationRead) {
			w.mu.Lock()
			defer w.mu.Unlock()
			if e.ConversationID == w.conversationID {
				w.unseen = 0
			}
		}),
	}
	return w
}

// Show expands the window on conversationID.
func (w *ChatWindow) Show(conversationID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conversationID != conversationID {
		w.typingAt = time.Time{}
	}
	w.conversationID = conversationID
	w.open = true
	w.unseen = 0
}

// Collapse keeps the conversation but stops treating new messages as seen.
func (w *ChatWindow) Collapse() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open = false
}

// IsShowing reports whether conversationID is expanded in the window.
func (w *ChatWindow) IsShowing(conversationID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open && w.conversationID == conversationID
}

func (w *ChatWindow) Unseen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unseen
}

func (w *ChatWindow) PeerTyping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.typingAt.IsZero() && w.now().Sub(w.typingAt) < client.TypingExpiry
}

func (w *ChatWindow) Close() {
	for _, unsubscribe := range w.unsubs {
		unsubscribe()
	}
}

func (w *ChatWindow) onMessage(e notify.MessageReceived) {
	m := e.Message
	if m == nil || m.SenderID == w.selfID {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if m.ConversationID != w.conversationID {
		return
	}
	w.typingAt = time.Time{}
	if !w.open {
		w.unseen++
	}
}

func (w *ChatWindow) onTyping(e notify.Typing) {
	if e.UserID == w.selfID || !e.IsTyping {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.ConversationID != w.conversationID {
		return
	}
	w.typingAt = e.At
	if w.typingAt.IsZero() {
		w.typingAt = w.now()
	}
}
