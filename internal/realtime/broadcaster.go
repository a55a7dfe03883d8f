package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/metrics"
	"thesis_messaging/pkg/logger"
)

// Broadcaster pushes a channel event to every endpoint of a user.
type Broadcaster interface {
	// Publish returns how many local endpoints accepted the event. A user
	// with no endpoints is not an error.
	Publish(ctx context.Context, userID uuid.UUID, eventType string, payload any, exceptEndpointID string) (int, error)
}

// LocalBroadcaster delivers through this node's registry only.
type LocalBroadcaster struct {
	registry *Registry
}

func NewLocalBroadcaster(registry *Registry) *LocalBroadcaster {
	return &LocalBroadcaster{registry: registry}
}

func (b *LocalBroadcaster) Publish(_ context.Context, userID uuid.UUID, eventType string, payload any, exceptEndpointID string) (int, error) {
	frame, err := domain.Encode(eventType, payload)
	if err != nil {
		return 0, err
	}
	return b.deliver(userID, eventType, frame, exceptEndpointID), nil
}

func (b *LocalBroadcaster) deliver(userID uuid.UUID, eventType string, frame []byte, exceptEndpointID string) int {
	delivered := b.registry.DeliverToUser(userID, frame, exceptEndpointID)
	if delivered == 0 {
		metrics.EventsUndelivered.WithLabelValues(eventType).Inc()
	} else {
		metrics.EventsDelivered.WithLabelValues(eventType).Add(float64(delivered))
	}
	return delivered
}

// RedisBroadcaster delivers locally and relays the frame to other nodes
// through Redis pub/sub.
type RedisBroadcaster struct {
	local   *LocalBroadcaster
	rdb     *redis.Client
	channel string
	nodeID  string
	log     logger.Logger
}

type relayedEvent struct {
	Node   string          `json:"node"`
	UserID uuid.UUID       `json:"user_id"`
	Type   string          `json:"type"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

func NewRedisBroadcaster(registry *Registry, rdb *redis.Client, channel string, log logger.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		local:   NewLocalBroadcaster(registry),
		rdb:     rdb,
		channel: channel,
		nodeID:  uuid.NewString(),
		log:     log.With("component", "redis_broadcaster"),
	}
}

func (b *RedisBroadcaster) NodeID() string { return b.nodeID }

func (b *RedisBroadcaster) Publish(ctx context.Context, userID uuid.UUID, eventType string, payload any, exceptEndpointID string) (int, error) {
	frame, err := domain.Encode(eventType, payload)
	if err != nil {
		return 0, err
	}
	delivered := b.local.deliver(userID, eventType, frame, exceptEndpointID)

	relay, err := json.Marshal(relayedEvent{
		Node:   b.nodeID,
		UserID: userID,
		Type:   eventType,
		Except: exceptEndpointID,
		Frame:  frame,
	})
	if err != nil {
		return delivered, fmt.Errorf("marshal relay: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, relay).Err(); err != nil {
		metrics.BroadcastPublishErrors.Inc()
		b.log.Warn("Failed to relay event to other nodes", "error", err, "type", eventType)
	}
	return delivered, nil
}

// Run consumes frames published by other nodes until ctx is done.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("Subscribed to cross-node events", "channel", b.channel, "node", b.nodeID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleRelay([]byte(msg.Payload))
		}
	}
}

func (b *RedisBroadcaster) handleRelay(data []byte) {
	var evt relayedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		b.log.Warn("Dropping malformed relay", "error", err)
		return
	}
	if evt.Node == b.nodeID {
		return
	}
	b.local.deliver(evt.UserID, evt.Type, evt.Frame, evt.Except)
}
