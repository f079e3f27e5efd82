package messaging

import (
	"context"
	"encoding/json"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Presence records which users hold at least one live channel on any
// instance. Entries expire unless refreshed.
type Presence interface {
	Join(ctx context.Context, userID, connID string) error
	Leave(ctx context.Context, userID, connID string) error
	Online(ctx context.Context, userID string) (bool, error)
}

// Message is the envelope carried on relay channels.
type Message struct {
	Type    string          `json:"type"`
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}
