// Package wsclient is a reconnecting client for the notification channel.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/notification-api/pkg/logger"
)

var (
	ErrNotConnected = errors.New("wsclient: not connected")
	ErrDisconnected = errors.New("wsclient: disconnected by caller")
)

const writeWait = 10 * time.Second

// TicketSource fetches a fresh single-use ticket. It is called before every dial.
type TicketSource interface {
	Ticket(ctx context.Context) (string, error)
}

type TicketFunc func(ctx context.Context) (string, error)

func (f TicketFunc) Ticket(ctx context.Context) (string, error) { return f(ctx) }

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	// URL of the channel endpoint, e.g. ws://host/api/v1/notifications/ws.
	URL         string
	Tickets     TicketSource
	Dialer      Dialer
	BackoffBase time.Duration
	MaxAttempts int
	Logger      *logger.Logger
}

type Client struct {
	opts Options
	log  *logger.Logger

	mu       sync.Mutex
	state    State
	manual   bool
	conn     *websocket.Conn
	stop     chan struct{}
	handlers []Handlers

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Client{opts: opts, log: log.With("wsclient"), state: Disconnected}
}

// AddHandlers registers another set of callbacks.
func (c *Client) AddHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials once and returns that attempt's error. A failed first dial,
// like any later transport failure, reconnects with backoff until Disconnect
// is called or attempts run out. Connect on an active client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	err := c.dial(ctx, stop)
	if err == nil || errors.Is(err, ErrDisconnected) {
		return err
	}
	c.log.Warn("channel connect failed, reconnecting", "error", err.Error())
	go c.reconnect(stop)
	return err
}

// Disconnect closes the channel and suppresses reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	conn := c.conn
	c.conn = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.setState(Disconnected)
}

// dial connects on behalf of the session identified by stop. It returns
// ErrDisconnected once that session has been closed or replaced.
func (c *Client) dial(ctx context.Context, stop chan struct{}) error {
	if !c.transition(stop, Connecting) {
		return ErrDisconnected
	}

	ticket, err := c.opts.Tickets.Ticket(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch ticket: %w", err)
	}

	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return fmt.Errorf("invalid channel url: %w", err)
	}
	q := u.Query()
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("channel dial rejected with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("channel dial failed: %w", err)
	}

	c.mu.Lock()
	if !c.owns(stop) {
		c.mu.Unlock()
		conn.Close()
		return ErrDisconnected
	}
	c.conn = conn
	c.applyLocked(Authenticated)

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("ignoring malformed frame", "error", err.Error())
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dropped(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	manual := c.manual
	stop := c.stop
	c.mu.Unlock()

	if manual {
		c.setState(Disconnected)
		return
	}
	c.log.Warn("channel dropped, reconnecting", "error", cause.Error())
	go c.reconnect(stop)
}

func (c *Client) reconnect(stop chan struct{}) {
	b := Backoff{Base: c.opts.BackoffBase, MaxAttempts: c.opts.MaxAttempts}
	for {
		delay, ok := b.Next()
		if !ok {
			if c.transition(stop, Disconnected) {
				c.log.Warn("giving up on channel", "attempts", b.Attempt())
			}
			return
		}
		if !c.transition(stop, Reconnecting) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.dial(ctx, stop)
		cancel()
		if err == nil || errors.Is(err, ErrDisconnected) {
			return
		}
		c.log.Debug("reconnect attempt failed", "attempt", b.Attempt(), "error", err.Error())
	}
}

// owns reports whether stop still identifies the active session. Callers hold mu.
func (c *Client) owns(stop chan struct{}) bool {
	return !c.manual && c.stop == stop
}

// transition moves to s only while stop's session is still active.
func (c *Client) transition(stop chan struct{}, s State) bool {
	c.mu.Lock()
	if !c.owns(stop) {
		c.mu.Unlock()
		return false
	}
	c.applyLocked(s)
	return true
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.applyLocked(s)
}

// applyLocked is entered with mu held and releases it before running callbacks.
func (c *Client) applyLocked(s State) {
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handlers := append([]Handlers(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		if h.OnStateChange != nil {
			h.OnStateChange(s)
		}
	}
}

func (c *Client) dispatch(env envelope) {
	if env.Event == "connected" {
		c.setState(Connected)
	}

	c.mu.Lock()
	handlers := append([]Handlers(nil), c.handlers...)
	c.mu.Unlock()

	switch env.Event {
	case "connected":
		for _, h := range handlers {
			if h.OnConnected != nil {
				h.OnConnected()
			}
		}
	case "notification":
		var n Notification
		if !c.decode(env, &n) {
			return
		}
		for _, h := range handlers {
			if h.OnNotification != nil {
				h.OnNotification(n)
			}
		}
	case "notification:read", "notification:deleted":
		var ref notificationRef
		if !c.decode(env, &ref) {
			return
		}
		for _, h := range handlers {
			if env.Event == "notification:read" && h.OnRead != nil {
				h.OnRead(ref.NotificationID)
			}
			if env.Event == "notification:deleted" && h.OnDeleted != nil {
				h.OnDeleted(ref.NotificationID)
			}
		}
	case "missed-notifications":
		var missed []Notification
		if !c.decode(env, &missed) {
			return
		}
		for _, h := range handlers {
			if h.OnMissed != nil {
				h.OnMissed(missed)
			}
		}
	case "error":
		var se ServerError
		if !c.decode(env, &se) {
			return
		}
		for _, h := range handlers {
			if h.OnError != nil {
				h.OnError(se)
			}
		}
	}
}

func (c *Client) decode(env envelope, v interface{}) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.log.Warn("ignoring undecodable event", "event", env.Event, "error", err.Error())
		return false
	}
	return true
}

func (c *Client) MarkRead(id uuid.UUID) error {
	return c.send("notification:markRead", notificationRef{NotificationID: id})
}

func (c *Client) Delete(id uuid.UUID) error {
	return c.send("notification:delete", notificationRef{NotificationID: id})
}

// RequestMissed asks for everything created after lastReceivedAt. The answer
// arrives through OnMissed.
func (c *Client) RequestMissed(lastReceivedAt time.Time) error {
	return c.send("notification:getMissed", missedRequest{LastReceivedAt: lastReceivedAt})
}

func (c *Client) Ping() error {
	return c.send("ping", nil)
}

func (c *Client) send(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(envelope{Event: event, Data: raw})
}
