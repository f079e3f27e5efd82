package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/notification-api/pkg/logger"
)

// Relay fans user-addressed messages out to every instance subscribed to
// the same broker channel.
type Relay struct {
	broker  Broker
	channel string
	logger  *logger.Logger
}

func NewRelay(broker Broker, channel string, log *logger.Logger) *Relay {
	return &Relay{broker: broker, channel: channel, logger: log.With("relay")}
}

func (r *Relay) Publish(ctx context.Context, msgType, userID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal relay payload: %w", err)
	}
	return r.broker.Publish(ctx, r.channel, Message{Type: msgType, UserID: userID, Payload: raw})
}

// Run delivers relayed messages to handle until ctx is done or the
// subscription closes. Handler errors are logged and skipped.
func (r *Relay) Run(ctx context.Context, handle func(context.Context, Message) error) error {
	msgs, err := r.broker.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				r.logger.Warn("dropping malformed relay message", "error", err.Error())
				continue
			}
			if err := handle(ctx, msg); err != nil {
				r.logger.Error(err, "relay handler failed", "type", msg.Type)
			}
		}
	}
}
