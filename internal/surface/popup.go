package surface

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"thesis_messaging/internal/notify"
)

const (
	PopupDuration = 5 * time.Second
	previewLength = 60
)

// Popup is the floating toast for incoming messages. A message arriving
// while a toast is visible folds into "N new messages" and restarts the
// dismiss timer. Dismissal is evaluated lazily when the view is read.
type Popup struct {
	selfID   uuid.UUID
	now      func() time.Time
	suppress func(conversationID uuid.UUID) bool

	mu      sync.Mutex
	visible bool
	shownAt time.Time
	count   int
	text    string
	unsub   func()
}

// NewPopup builds a popup. suppress, if set, hides toasts for a
// conversation the user is already looking at.
func NewPopup(bus *notify.Bus, selfID uuid.UUID, now func() time.Time, suppress func(uuid.UUID) bool) *Popup {
	if now == nil {
		now = time.Now
	}
	p := &Popup{selfID: selfID, now: now, suppress: suppress}
	p.unsub = notify.On(bus, p.onMessage)
	return p
}

func (p *Popup) onMessage(e notify.MessageReceived) {
	m := e.Message
	if m == nil || m.SenderID == p.selfID {
		return
	}
	if p.suppress != nil && p.suppress(m.ConversationID) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.expireLocked(now)
	if p.visible {
		p.count++
		p.text = fmt.Sprintf("%d new messages", p.count)
	} else {
		p.visible = true
		p.count = 1
		p.text = "New message: " + preview(m.Content)
	}
	p.shownAt = now
}

// View returns the toast text and whether it is currently shown.
func (p *Popup) View() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked(p.now())
	if !p.visible {
		return "", false
	}
	return p.text, true
}

func (p *Popup) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
	p.count = 0
	p.text = ""
}

func (p *Popup) Close() {
	p.unsub()
}

func (p *Popup) expireLocked(now time.Time) {
	if p.visible && now.Sub(p.shownAt) >= PopupDuration {
		p.visible = false
		p.count = 0
		p.text = ""
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "..."
}
