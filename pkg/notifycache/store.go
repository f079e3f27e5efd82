package notifycache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/wsclient"
)

// HistoryFetcher loads the caller's notifications, newest first.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context) ([]wsclient.Notification, error)
}

// RESTHistory reads GET /api/v1/notifications/my with a bearer session token.
type RESTHistory struct {
	baseURL string
	token   func(ctx context.Context) (string, error)
	client  *http.Client
	limit   int
}

func NewRESTHistory(baseURL string, token func(ctx context.Context) (string, error), client *http.Client) *RESTHistory {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTHistory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		limit:   100,
	}
}

type historyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Items []wsclient.Notification `json:"items"`
	} `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *RESTHistory) FetchHistory(ctx context.Context) ([]wsclient.Notification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.baseURL+"/api/v1/notifications/my?limit="+strconv.Itoa(h.limit), nil)
	if err != nil {
		return nil, err
	}
	if h.token != nil {
		tok, err := h.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get session token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification history: %w", err)
	}
	defer resp.Body.Close()

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode notification history: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		msg := http.StatusText(resp.StatusCode)
		if body.Error != nil {
			msg = body.Error.Message
		}
		return nil, fmt.Errorf("notification history request failed with status %d: %s", resp.StatusCode, msg)
	}
	return body.Data.Items, nil
}

// Store is a goroutine-safe cache driven by the transitions in state.go.
type Store struct {
	mu      sync.RWMutex
	state   State
	history HistoryFetcher
	log     *logger.Logger
}

type StoreOption func(*Store)

func WithLogger(l *logger.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l.With("notifycache")
		}
	}
}

func NewStore(history HistoryFetcher, opts ...StoreOption) *Store {
	s := &Store{history: history, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) apply(fn func(State) State) {
	s.mu.Lock()
	s.state = fn(s.state)
	s.mu.Unlock()
}

// FetchNotifications replaces the cache with server history.
func (s *Store) FetchNotifications(ctx context.Context) error {
	list, err := s.history.FetchHistory(ctx)
	if err != nil {
		return err
	}
	s.apply(func(st State) State { return SetNotifications(st, list) })
	return nil
}

func (s *Store) Add(n wsclient.Notification) {
	s.apply(func(st State) State { return AddNotification(st, n) })
}

func (s *Store) MarkAsRead(id uuid.UUID) {
	s.apply(func(st State) State { return MarkAsRead(st, id) })
}

func (s *Store) MarkAllAsRead() {
	s.apply(MarkAllAsRead)
}

func (s *Store) Delete(id uuid.UUID) {
	s.apply(func(st State) State { return DeleteNotification(st, id) })
}

func (s *Store) UnreadCount() int {
	return s.Snapshot().UnreadCount
}

func (s *Store) FilterByType(typ string) []wsclient.Notification {
	return FilterByType(s.Snapshot(), typ)
}

func (s *Store) Search(query string) []wsclient.Notification {
	return Search(s.Snapshot(), query)
}

// LastReceivedAt is the newest createdAt in the cache, zero when empty.
func (s *Store) LastReceivedAt() time.Time {
	var last time.Time
	for _, n := range s.Snapshot().Notifications {
		if n.CreatedAt.After(last) {
			last = n.CreatedAt
		}
	}
	return last
}

type missedRequester interface {
	RequestMissed(lastReceivedAt time.Time) error
}

// resync asks for everything newer than the newest cached item. A failed
// request is logged; the next reconnect retries it.
func (s *Store) resync(c missedRequester) {
	last := s.LastReceivedAt()
	if last.IsZero() {
		return
	}
	if err := c.RequestMissed(last); err != nil {
		s.log.Warn("failed to request missed notifications", "since", last.Format(time.RFC3339), "error", err.Error())
	}
}

// Bind keeps the store in step with client events. Each time the channel
// (re)connects, anything created after the newest cached item is requested.
func (s *Store) Bind(c *wsclient.Client) {
	c.AddHandlers(wsclient.Handlers{
		OnConnected: func() { s.resync(c) },
		OnNotification: s.Add,
		OnRead:         s.MarkAsRead,
		OnDeleted:      s.Delete,
		OnMissed: func(missed []wsclient.Notification) {
			s.apply(func(st State) State { return MergeMissed(st, missed) })
		},
		OnStateChange: func(state wsclient.State) {
			s.apply(func(st State) State { return SetConnected(st, state == wsclient.Connected) })
		},
	})
}
