package wsclient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Notification is the wire form pushed by the server and returned by the REST API.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	UserID    uuid.UUID              `json:"userId"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

type ServerError struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type notificationRef struct {
	NotificationID uuid.UUID `json:"notificationId"`
}

type missedRequest struct {
	LastReceivedAt time.Time `json:"lastReceivedAt"`
}

// Handlers receive server events. Nil fields are ignored. Callbacks run on
// the client's read goroutine and must not block.
type Handlers struct {
	OnConnected    func()
	OnNotification func(Notification)
	OnRead         func(id uuid.UUID)
	OnDeleted      func(id uuid.UUID)
	OnMissed       func([]Notification)
	OnError        func(ServerError)
	OnStateChange  func(State)
}
