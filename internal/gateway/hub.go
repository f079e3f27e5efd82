package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/messaging"
	"github.com/jwalitptl/notification-api/pkg/metrics"
)

const presenceTimeout = 2 * time.Second

// Hub maps users to their live connections on this instance. A user may hold
// any number of connections at once.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Conn]struct{}

	presence messaging.Presence
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewHub returns an empty hub. presence may be nil when only local state matters.
func NewHub(log *logger.Logger, m *metrics.Metrics, presence messaging.Presence) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[*Conn]struct{}),
		presence: presence,
		logger:   log.With("gateway_hub"),
		metrics:  m,
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	set, ok := h.sessions[c.userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.sessions[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.GatewayConnections.Inc()
	h.touchPresence(c)
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	set, ok := h.sessions[c.userID]
	if ok {
		if _, present := set[c]; !present {
			ok = false
		} else {
			delete(set, c)
			if len(set) == 0 {
				delete(h.sessions, c.userID)
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.metrics.GatewayConnections.Dec()
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := h.presence.Leave(ctx, c.userID.String(), c.id); err != nil {
			h.logger.Warn("failed to clear presence", "error", err.Error())
		}
	}
}

func (h *Hub) touchPresence(c *Conn) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Join(ctx, c.userID.String(), c.id); err != nil {
		h.logger.Warn("failed to record presence", "error", err.Error())
	}
}

func (h *Hub) snapshot(userID uuid.UUID) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.sessions[userID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// SendToUser queues event on every connection of userID and returns how many
// accepted it. Connections whose queue is full are closed. No I/O happens
// under the hub lock.
func (h *Hub) SendToUser(userID uuid.UUID, event string, data interface{}) (int, error) {
	msg, err := encode(event, data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", event, err)
	}

	delivered := 0
	for _, c := range h.snapshot(userID) {
		if c.enqueue(msg) {
			delivered++
			h.metrics.GatewayMessages.WithLabelValues("out", event).Inc()
		}
	}
	return delivered, nil
}

// HandleRelay pushes a message relayed from another instance to local connections.
func (h *Hub) HandleRelay(_ context.Context, msg messaging.Message) error {
	userID, err := uuid.Parse(msg.UserID)
	if err != nil {
		return fmt.Errorf("relay message with bad user id %q: %w", msg.UserID, err)
	}
	_, err = h.SendToUser(userID, msg.Type, msg.Payload)
	return err
}

// Online reports whether userID has a connection on this instance.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Conn
	for _, set := range h.sessions {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}
