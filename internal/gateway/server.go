package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/model"
	authsvc "github.com/jwalitptl/notification-api/internal/service/auth"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

const actionTimeout = 10 * time.Second

// NotificationStore is the part of the notification service the channel needs.
type NotificationStore interface {
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*model.Notification, error)
}

type TicketValidator interface {
	ValidateTicket(ctx context.Context, ticket string) (*authsvc.Principal, error)
}

type Config struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	InboundRate    float64
	InboundBurst   int
	AllowedOrigins []string
}

// NewConfig fills zero values with the same defaults the config loader uses.
func NewConfig(gw config.GatewayConfig, origins []string) Config {
	cfg := Config{
		SendBuffer:     gw.SendBuffer,
		WriteWait:      gw.WriteWait,
		PongWait:       gw.PongWait,
		MaxMessageSize: gw.MaxMessageSize,
		InboundRate:    gw.InboundRate,
		InboundBurst:   gw.InboundBurst,
		AllowedOrigins: origins,
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	cfg.PingPeriod = cfg.PongWait * 9 / 10
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 10
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 20
	}
	return cfg
}

// Server upgrades ticket-authenticated requests and serves the notification channel.
type Server struct {
	hub      *Hub
	store    NotificationStore
	tickets  TicketValidator
	cfg      Config
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewServer(hub *Hub, store NotificationStore, tickets TicketValidator, cfg Config, log *logger.Logger) *Server {
	s := &Server{
		hub:     hub,
		store:   store,
		tickets: tickets,
		cfg:     cfg,
		logger:  log.With("gateway"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS handles GET /ws?ticket=... . The ticket is consumed before the upgrade.
func (s *Server) ServeWS(c *gin.Context) {
	ticket := c.Query("ticket")
	if ticket == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing ticket"})
		return
	}

	principal, err := s.tickets.ValidateTicket(c.Request.Context(), ticket)
	if err != nil {
		s.logger.Debug("rejected channel ticket", "error", err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid ticket"})
		return
	}
	if !principal.Role.Valid() {
		s.logger.Warn("rejected channel role", "user_id", principal.UserID.String(), "role", string(principal.Role))
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error(err, "websocket upgrade failed", "user_id", principal.UserID.String())
		return
	}

	conn := newConn(s, ws, principal.UserID)
	s.hub.add(conn)
	s.logger.Info("channel opened", "user_id", principal.UserID.String(), "conn_id", conn.id)

	conn.reply(EventConnected, ConnectedData{UserID: principal.UserID, ConnectionID: conn.id})

	go conn.writePump()
	go conn.readPump()
}

func (s *Server) handle(c *Conn, env Envelope) {
	ctx, cancel := context.WithTimeout(c.ctx, actionTimeout)
	defer cancel()

	switch env.Event {
	case ActionPing:
		c.reply(EventPong, PongData{Timestamp: time.Now().UTC()})

	case ActionMarkRead:
		ref, ok := s.decodeRef(c, env)
		if !ok {
			return
		}
		if err := s.store.MarkAsRead(ctx, c.userID, ref.NotificationID); err != nil {
			s.fail(c, env.Event, err)
			return
		}
		s.echo(c, EventRead, ref)

	case ActionDelete:
		ref, ok := s.decodeRef(c, env)
		if !ok {
			return
		}
		if err := s.store.Delete(ctx, c.userID, ref.NotificationID); err != nil {
			s.fail(c, env.Event, err)
			return
		}
		s.echo(c, EventDeleted, ref)

	case ActionGetMissed:
		var req MissedRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.LastReceivedAt.IsZero() {
			c.reply(EventError, ErrorData{Action: env.Event, Message: "lastReceivedAt is required"})
			return
		}
		missed, err := s.store.ListSince(ctx, c.userID, req.LastReceivedAt)
		if err != nil {
			s.fail(c, env.Event, err)
			return
		}
		if missed == nil {
			missed = []*model.Notification{}
		}
		c.reply(EventMissed, missed)

	default:
		c.reply(EventError, ErrorData{Action: env.Event, Message: "unknown event"})
	}
}

func (s *Server) decodeRef(c *Conn, env Envelope) (NotificationRef, bool) {
	var ref NotificationRef
	if err := json.Unmarshal(env.Data, &ref); err != nil || ref.NotificationID == uuid.Nil {
		c.reply(EventError, ErrorData{Action: env.Event, Message: "notificationId is required"})
		return ref, false
	}
	return ref, true
}

// echo tells every connection of the user, including the sender, about a mutation.
func (s *Server) echo(c *Conn, event string, data interface{}) {
	if _, err := s.hub.SendToUser(c.userID, event, data); err != nil {
		s.logger.Error(err, "failed to echo mutation", "event", event)
	}
}

func (s *Server) fail(c *Conn, action string, err error) {
	s.logger.Warn("channel action failed", "action", action, "user_id", c.userID.String(), "error", err.Error())
	c.reply(EventError, ErrorData{Action: action, Message: apperrors.PublicMessage(err)})
}
