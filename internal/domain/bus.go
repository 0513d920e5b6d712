package domain

import (
	"context"
)

// EventBus is the observability sink for scoring events. Supports Go
// channels (Community) or NATS (Pro). All methods require principalID
// for strict isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, principalID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Returns a subscription
	// that can be used to unsubscribe.
	Subscribe(ctx context.Context, principalID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID          string            `json:"id"`
	PrincipalID string            `json:"principalId"`
	Topic       string            `json:"topic"`
	Payload     []byte            `json:"payload"`
	Metadata    map[string]string `json:"metadata"`
	Timestamp   int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Observability topics emitted by the scoring pipeline.
const (
	TopicFallback          = "kestrel.scoring.fallback"
	TopicPredicateDegraded = "kestrel.predicate.degraded"
	TopicDuplicateRejected = "kestrel.record.duplicate"
	TopicAlert             = "kestrel.alert"
)
