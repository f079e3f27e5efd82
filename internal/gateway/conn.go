package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn is one authenticated websocket. The writer goroutine owns all data
// writes; everyone else goes through enqueue.
type Conn struct {
	id      string
	userID  uuid.UUID
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	hub    *Hub
	server *Server

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn, userID uuid.UUID) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:      uuid.NewString(),
		userID:  userID,
		ws:      ws,
		send:    make(chan []byte, s.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst),
		hub:     s.hub,
		server:  s,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// enqueue never blocks. A full queue means the client cannot keep up, and
// the connection is closed so it stops holding back its senders.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.hub.metrics.GatewayDropped.Inc()
		c.hub.logger.Warn("closing slow connection", "user_id", c.userID.String(), "conn_id", c.id)
		c.close()
		return false
	}
}

func (c *Conn) reply(event string, data interface{}) {
	msg, err := encode(event, data)
	if err != nil {
		c.hub.logger.Error(err, "failed to encode reply", "event", event)
		return
	}
	if c.enqueue(msg) {
		c.hub.metrics.GatewayMessages.WithLabelValues("out", event).Inc()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.hub.remove(c)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

func (c *Conn) readPump() {
	defer c.close()

	cfg := c.server.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.hub.touchPresence(c)
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err.Error(), "conn_id", c.id)
			}
			return
		}

		if !c.limiter.Allow() {
			c.reply(EventError, ErrorData{Message: "rate limit exceeded"})
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(EventError, ErrorData{Message: "malformed message"})
			continue
		}
		c.hub.metrics.GatewayMessages.WithLabelValues("in", env.Event).Inc()
		c.server.handle(c, env)
	}
}

func (c *Conn) writePump() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
