package kafka

import (
	"context"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
)

// EventProducer publishes chat events for downstream consumers.
type EventProducer interface {
	PublishChatEvent(ctx context.Context, ev *domain.ChatEvent) error
	Close() error
}

// NoopProducer discards every event. It is used when kafka is disabled.
type NoopProducer struct{}

func (NoopProducer) PublishChatEvent(context.Context, *domain.ChatEvent) error { return nil }

func (NoopProducer) Close() error { return nil }
