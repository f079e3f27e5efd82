package event

import (
	"context"
	"time"
)

// Event is a named domain occurrence. Payload is owned by the publisher and
// must not be mutated after Publish.
type Event struct {
	Name       string      `json:"name"`
	Key        string      `json:"key,omitempty"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Keyed payloads are dispatched on a stable shard so events sharing a key
// are handled in publish order.
type Keyed interface {
	PartitionKey() string
}

// Handler reacts to one event. Returned errors are logged and counted by the
// bus and never reach the publisher.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the producer-facing side of the bus.
type Publisher interface {
	Publish(ctx context.Context, name string, payload interface{})
}
