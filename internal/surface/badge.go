package surface

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"thesis_messaging/internal/client"
	"thesis_messaging/internal/notify"
	"thesis_messaging/pkg/logger"
)

// CounterSource returns authoritative unread counters.
type CounterSource interface {
	Unread(ctx context.Context) (*client.UnreadCounts, error)
}

// Badge is the navigation counter. It follows bus events and resyncs from
// the server after every reconnect.
type Badge struct {
	selfID uuid.UUID
	source CounterSource
	log    logger.Logger

	mu            sync.Mutex
	messages      int
	notifications int
	onChange      func(messages, notifications int)
	unsubs        []func()
	bg            sync.WaitGroup
}

func NewBadge(bus *notify.Bus, selfID uuid.UUID, source CounterSource, log logger.Logger) *Badge {
	b := &Badge{selfID: selfID, source: source, log: log}
	b.unsubs = []func(){
		notify.On(bus, func(e notify.MessageReceived) {
			if e.Message != nil && e.Message.SenderID != b.selfID {
				b.update(func() { b.messages++ })
			}
		}),
		notify.On(bus, func(e notify.ConversationRead) {
			b.update(func() { b.messages = floor(b.messages - e.Cleared) })
		}),
		notify.On(bus, func(notify.NotificationReceived) {
			b.update(func() { b.notifications++ })
		}),
		notify.On(bus, func(notify.NotificationRead) {
			b.update(func() { b.notifications = floor(b.notifications - 1) })
		}),
		notify.On(bus, func(notify.NotificationsCleared) {
			b.update(func() { b.notifications = 0 })
		}),
		notify.On(bus, func(e notify.ConnectionState) {
			if e.State != client.StateConnected || b.source == nil {
				return
			}
			b.bg.Add(1)
			go func() {
				defer b.bg.Done()
				if err := b.Refresh(context.Background()); err != nil {
					b.log.Warn("Badge refresh failed", "error", err)
				}
			}()
		}),
	}
	return b
}

// OnChange sets a callback invoked after every counter change.
func (b *Badge) OnChange(fn func(messages, notifications int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Badge) Refresh(ctx context.Context) error {
	counts, err := b.source.Unread(ctx)
	if err != nil {
		return err
	}
	b.update(func() {
		b.messages = counts.Messages
		b.notifications = counts.Notifications
	})
	return nil
}

func (b *Badge) Counts() (messages, notifications int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages, b.notifications
}

func (b *Badge) Total() int {
	m, n := b.Counts()
	return m + n
}

func (b *Badge) Close() {
	for _, unsubscribe := range b.unsubs {
		unsubscribe()
	}
	b.bg.Wait()
}

func (b *Badge) update(fn func()) {
	b.mu.Lock()
	fn()
	m, n, cb := b.messages, b.notifications, b.onChange
	b.mu.Unlock()
	if cb != nil {
		cb(m, n)
	}
}

func floor(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
