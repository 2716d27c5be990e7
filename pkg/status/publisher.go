// Package status publishes live node status events for the canvas.
package status

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
)

const topicPrefix = "flowline.status."

// Topic returns the watermill topic for a status channel and topic pair.
func Topic(channel, topic string) string {
	return topicPrefix + channel + "." + topic
}

// ChannelFor returns the conventional status channel of a node type.
func ChannelFor(nodeType models.NodeType) string {
	return nodeType.Slug() + "-execution"
}

var _ protocol.StatusPublisher = (*WatermillPublisher)(nil)

// WatermillPublisher sends status events over a watermill publisher.
// Delivery is best-effort: publish failures are logged and never returned,
// so a broken status channel cannot fail an execution.
type WatermillPublisher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewWatermillPublisher(pub message.Publisher, logger *slog.Logger) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: pub,
		logger:    logger.With("module", "status-publisher"),
	}
}

func (p *WatermillPublisher) Publish(ctx context.Context, channel, topic string, event models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to marshal status event", "error", err, "node_id", event.NodeID)

		return nil
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set("key", event.NodeID)
	msg.Metadata.Set("node_id", event.NodeID)
	msg.Metadata.Set("status", string(event.Status))

	if err := p.publisher.Publish(Topic(channel, topic), msg); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish status event",
			"error", err,
			"channel", channel,
			"node_id", event.NodeID,
			"status", event.Status)
	}

	return nil
}

// Subscribe streams decoded status events of one channel until ctx is done.
// Undecodable messages are acked and skipped.
func Subscribe(ctx context.Context, sub message.Subscriber, channel, topic string) (<-chan models.StatusEvent, error) {
	messages, err := sub.Subscribe(ctx, Topic(channel, topic))
	if err != nil {
		return nil, err
	}

	out := make(chan models.StatusEvent)

	go func() {
		defer close(out)

		for msg := range messages {
			var event models.StatusEvent

			err := json.Unmarshal(msg.Payload, &event)
			msg.Ack()

			if err != nil {
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
