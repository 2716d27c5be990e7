package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) (*WatermillEventBus, *gochannel.GoChannel) {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	bus := NewWatermillEventBus(pubSub, pubSub, testutil.NopLogger())
	t.Cleanup(func() { _ = bus.Close() })

	return bus, pubSub
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus, _ := newBus(t)

	received := make(chan *events.ExecutionRequested, 1)
	require.NoError(t, bus.Handle(events.ExecutionRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionRequested)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	sent := events.NewExecutionRequested("wf-1", "exec-1", "user-1", "stripe", map[string]any{"stripe": map[string]any{"amount": 10.0}})
	require.NoError(t, bus.Publish(ctx, "wf-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "stripe", got.Source)
		assert.Equal(t, events.ExecutionRequestedEvent, got.Type)
		assert.Equal(t, map[string]any{"stripe": map[string]any{"amount": 10.0}}, got.InitialData)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_HandleUnknownType(t *testing.T) {
	bus, _ := newBus(t)

	err := bus.Handle("workflow.published", func(context.Context, any) error { return nil })
	assert.Error(t, err)
}

func TestWatermillEventBus_DropsUndecodable(t *testing.T) {
	bus, pubSub := newBus(t)

	calls := make(chan struct{}, 2)
	require.NoError(t, bus.Handle(events.ExecutionRequestedEvent, func(context.Context, any) error {
		calls <- struct{}{}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	broken := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	broken.Metadata.Set(events.EventTypeMetadataKey, string(events.ExecutionRequestedEvent))
	require.NoError(t, pubSub.Publish(events.Topic, broken))

	require.NoError(t, bus.Publish(ctx, "wf", events.NewExecutionRequested("wf", "exec", "user", "", nil)))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("valid event not delivered after undecodable one")
	}

	assert.Empty(t, calls)
}

func TestWatermillEventBus_HandlerErrorNacks(t *testing.T) {
	bus, _ := newBus(t)

	attempts := make(chan struct{}, 10)
	require.NoError(t, bus.Handle(events.ExecutionRequestedEvent, func(context.Context, any) error {
		attempts <- struct{}{}
		if len(attempts) < 2 {
			return errors.New("not yet")
		}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))
	require.NoError(t, bus.Publish(ctx, "wf", events.NewExecutionRequested("wf", "exec", "user", "", nil)))

	require.Eventually(t, func() bool { return len(attempts) >= 2 }, 5*time.Second, 10*time.Millisecond)
}
