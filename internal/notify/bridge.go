package notify

import (
	"time"

	"thesis_messaging/internal/domain"
	"thesis_messaging/pkg/logger"
)

// Source is a channel that dispatches decoded frames by event type.
type Source interface {
	On(eventType string, handler func(domain.Envelope))
	OnStateChange(handler func(state string, err error))
}

// Bridge republishes channel frames as typed bus events. Frames that fail
// to decode are logged and dropped.
func Bridge(src Source, bus *Bus, now func() time.Time, log logger.Logger) {
	if now == nil {
		now = time.Now
	}

	src.On(domain.EventMessageReceived, func(env domain.Envelope) {
		var p domain.MessagePayload
		if err := env.Decode(&p); err != nil {
			log.Warn("Dropping malformed frame", "type", env.Type, "error", err)
			return
		}
		bus.Publish(MessageReceived{Message: p.Message()})
	})

	src.On(domain.EventNotificationReceived, func(env domain.Envelope) {
		var p domain.NotificationPayload
		if err := env.Decode(&p); err != nil {
			log.Warn("Dropping malformed frame", "type", env.Type, "error", err)
			return
		}
		bus.Publish(NotificationReceived{Notification: p})
	})

	src.On(domain.EventNotificationRead, func(env domain.Envelope) {
		var p domain.NotificationReadPayload
		if err := env.Decode(&p); err != nil {
			log.Warn("Dropping malformed frame", "type", env.Type, "error", err)
			return
		}
		bus.Publish(NotificationRead{ID: p.ID})
	})

	src.On(domain.EventNotificationsCleared, func(env domain.Envelope) {
		var p domain.NotificationsClearedPayload
		if err := env.Decode(&p); err != nil {
			log.Warn("Dropping malformed frame", "type", env.Type, "error", err)
			return
		}
		bus.Publish(NotificationsCleared{Cleared: p.Cleared})
	})

	src.On(domain.EventConversationRead, func(env domain.Envelope) {
		var p domain.ConversationReadPayload
		if err := env.Decode(&p); err != nil {
			log.Warn("Dropping malformed frame", "type", env.Type, "error", err)
			return
		}
		bus.Publish(ConversationRead{ConversationID: p.ConversationID, Cleared: p.Cleared})
	})

	src.On(domain.EventTyping, func(env domain.Envelope) {
		var p domain.TypingPayload
		if err := env.Decode(&p); err != nil || p.UserID == nil {
			log.Warn("Dropping malformed frame", "type", env.Type, "error", err)
			return
		}
		bus.Publish(Typing{ConversationID: p.ConversationID, UserID: *p.UserID, IsTyping: p.IsTyping, At: now()})
	})

	src.On(domain.EventError, func(env domain.Envelope) {
		var p domain.ErrorPayload
		_ = env.Decode(&p)
		log.Warn("Server reported channel error", "message", p.Message)
	})

	src.OnStateChange(func(state string, err error) {
		bus.Publish(ConnectionState{State: state, Err: err})
	})
}
