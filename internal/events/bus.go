// Package events bridges engine lifecycle notifications onto a Watermill
// pub/sub, so operator tooling can subscribe to execution progress without
// coupling to the engine.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Bus publishes engine events to an in-process Watermill channel. It
// implements the engine's Notifier port; publishing is fire-and-forget and
// never blocks the engine.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewBus creates an in-process event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)
	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish serializes the payload and publishes it on the topic. Failures
// are logged, never returned; lifecycle events are advisory.
func (b *Bus) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("event payload marshal failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("topic", topic)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Warn("event publish failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe returns a channel of messages for the topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts down the pub/sub, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
