package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowline/pkg/channels/gochannel"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "http-request-execution", ChannelFor(models.NodeTypeHTTPRequest))
	assert.Equal(t, "row-insert-execution", ChannelFor(models.NodeTypeRowInsert))
	assert.Equal(t, "flowline.status.http-request-execution.status", Topic("http-request-execution", protocol.StatusTopic))
}

func TestWatermillPublisher_DeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := gochannel.CreateOrderedChannel(watermill.NopLogger{})
	defer pubSub.Close()

	events, err := Subscribe(ctx, pubSub, "openai-execution", protocol.StatusTopic)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub, slog.Default())

	const nodes = 50

	go func() {
		for i := range nodes {
			nodeID := fmt.Sprintf("n%d", i)

			_ = publisher.Publish(ctx, "openai-execution", protocol.StatusTopic,
				models.StatusEvent{NodeID: nodeID, Status: models.NodeStatusLoading})
			_ = publisher.Publish(ctx, "openai-execution", protocol.StatusTopic,
				models.StatusEvent{NodeID: nodeID, Status: models.NodeStatusSuccess})
		}
	}()

	var received []models.StatusEvent

	for range 2 * nodes {
		select {
		case event := <-events:
			received = append(received, event)
		case <-ctx.Done():
			t.Fatalf("received %d of %d events", len(received), 2*nodes)
		}
	}

	for i := range nodes {
		nodeID := fmt.Sprintf("n%d", i)
		assert.Equal(t, models.StatusEvent{NodeID: nodeID, Status: models.NodeStatusLoading}, received[2*i])
		assert.Equal(t, models.StatusEvent{NodeID: nodeID, Status: models.NodeStatusSuccess}, received[2*i+1])
	}
}

func TestWatermillPublisher_NoSubscriber(t *testing.T) {
	pubSub := gochannel.CreateOrderedChannel(watermill.NopLogger{})
	defer pubSub.Close()

	publisher := NewWatermillPublisher(pubSub, slog.Default())

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = publisher.Publish(context.Background(), "openai-execution", protocol.StatusTopic,
			models.StatusEvent{NodeID: "n1", Status: models.NodeStatusLoading})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without subscribers")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error { return errors.New("broker down") }
func (failingPublisher) Close() error                              { return nil }

func TestWatermillPublisher_SwallowsDeliveryErrors(t *testing.T) {
	publisher := NewWatermillPublisher(failingPublisher{}, slog.Default())

	err := publisher.Publish(context.Background(), "gemini-execution", protocol.StatusTopic,
		models.StatusEvent{NodeID: "n1", Status: models.NodeStatusError})
	assert.NoError(t, err)
}
