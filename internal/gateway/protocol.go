package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Server to client events.
const (
	EventNotification = "notification"
	EventRead         = "notification:read"
	EventDeleted      = "notification:deleted"
	EventMissed       = "missed-notifications"
	EventConnected    = "connected"
	EventPong         = "pong"
	EventError        = "error"
)

// Client to server actions.
const (
	ActionMarkRead  = "notification:markRead"
	ActionDelete    = "notification:delete"
	ActionGetMissed = "notification:getMissed"
	ActionPing      = "ping"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type NotificationRef struct {
	NotificationID uuid.UUID `json:"notificationId"`
}

type MissedRequest struct {
	LastReceivedAt time.Time `json:"lastReceivedAt"`
}

type ConnectedData struct {
	UserID       uuid.UUID `json:"userId"`
	ConnectionID string    `json:"connectionId"`
}

type PongData struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorData struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
