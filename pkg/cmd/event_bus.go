package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowline/pkg/channels/gochannel"
	"github.com/dukex/flowline/pkg/channels/kafka"
	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/status"
)

// Transport carries execution requests and node status events. Status events
// travel on their own pub/sub so that their order is kept in process; Kafka
// keeps it per partition and shares one pair for both.
type Transport struct {
	Publisher        message.Publisher
	Subscriber       message.Subscriber
	StatusPublisher  message.Publisher
	StatusSubscriber message.Subscriber
}

// NewTransport creates the pub/sub for provider "gochannel" (in-process) or
// "kafka". Kafka brokers are a comma-separated list; serviceName selects the
// consumer group.
func NewTransport(provider, serviceName, brokers string, logger *slog.Logger) (*Transport, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, err
		}

		status := gochannel.CreateOrderedChannel(adapter)

		return &Transport{Publisher: pub, Subscriber: sub, StatusPublisher: status, StatusSubscriber: status}, nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, serviceName, kafka.ParseBrokers(brokers))
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return &Transport{Publisher: pub, Subscriber: sub, StatusPublisher: pub, StatusSubscriber: sub}, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}

func NewEventBus(t *Transport, logger *slog.Logger) *eventbus.WatermillEventBus {
	return eventbus.NewWatermillEventBus(t.Publisher, t.Subscriber, logger)
}

func NewStatusPublisher(t *Transport, logger *slog.Logger) *status.WatermillPublisher {
	return status.NewWatermillPublisher(t.StatusPublisher, logger)
}

// CloseStatus closes the status pub/sub when it is not shared with the event
// bus, which closes its own pair.
func (t *Transport) CloseStatus() error {
	if t.StatusPublisher == t.Publisher {
		return nil
	}

	return t.StatusPublisher.Close()
}
