package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/messaging"
)

func TestRelayDeliversToEverySubscriber(t *testing.T) {
	broker := messaging.NewMemoryBroker(8)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relays := []*messaging.Relay{
		messaging.NewRelay(broker, "notifications", logger.Nop()),
		messaging.NewRelay(broker, "notifications", logger.Nop()),
	}
	received := make(chan messaging.Message, 64)
	for _, r := range relays {
		r := r
		ready := make(chan struct{})
		go func() {
			close(ready)
			_ = r.Run(ctx, func(_ context.Context, m messaging.Message) error {
				received <- m
				return nil
			})
		}()
		<-ready
	}

	// Subscriptions are registered inside Run; retry publishing until both see it.
	publisher := messaging.NewRelay(broker, "notifications", logger.Nop())
	require.Eventually(t, func() bool {
		_ = publisher.Publish(ctx, "notification", "user-1", map[string]string{"title": "hi"})
		return len(received) >= 2
	}, 2*time.Second, 20*time.Millisecond)

	msg := <-received
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "user-1", msg.UserID)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "hi", payload["title"])
}

func TestMemoryBrokerIgnoresOtherChannels(t *testing.T) {
	broker := messaging.NewMemoryBroker(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := broker.Subscribe(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, "b", "ignored"))
	require.NoError(t, broker.Publish(ctx, "a", "kept"))
	require.NoError(t, broker.Publish(ctx, "a", "dropped, buffer full"))

	assert.Equal(t, `"kept"`, string(<-sub))
	select {
	case extra := <-sub:
		t.Fatalf("unexpected message %s", extra)
	default:
	}

	require.NoError(t, broker.Close())
	_, open := <-sub
	assert.False(t, open)
	assert.ErrorIs(t, broker.Publish(ctx, "a", "late"), messaging.ErrBrokerClosed)
}
