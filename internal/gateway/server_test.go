package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/model"
	authsvc "github.com/jwalitptl/notification-api/internal/service/auth"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/messaging"
	"github.com/jwalitptl/notification-api/pkg/metrics"
)

type fakeTickets struct {
	mu      sync.Mutex
	tickets map[string]uuid.UUID
	roles   map[string]model.Role
}

func (f *fakeTickets) ValidateTicket(_ context.Context, ticket string) (*authsvc.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tickets[ticket]
	if !ok {
		return nil, apperrors.Unauthorized(errors.New("unknown ticket"))
	}
	delete(f.tickets, ticket)
	role, ok := f.roles[ticket]
	if !ok {
		role = model.RoleRecruiter
	}
	return &authsvc.Principal{UserID: id, Role: role}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	read    []uuid.UUID
	deleted []uuid.UUID
	missed  []*model.Notification
	since   time.Time
	listErr error
}

func (f *fakeStore) MarkAsRead(_ context.Context, _, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == uuid.Nil {
		return apperrors.NotFound("notification", errors.New("no such notification"))
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) ListSince(_ context.Context, _ uuid.UUID, since time.Time) ([]*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.missed, nil
}

func (f *fakeStore) snapshot() (read, deleted []uuid.UUID, since time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read, f.deleted, f.since
}

type harness struct {
	hub     *Hub
	store   *fakeStore
	tickets *fakeTickets
	metrics *metrics.Metrics
	srv     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewNop()
	h := &harness{
		hub:     NewHub(logger.Nop(), m, nil),
		store:   &fakeStore{},
		tickets: &fakeTickets{tickets: map[string]uuid.UUID{}, roles: map[string]model.Role{}},
		metrics: m,
	}
	cfg := NewConfig(config.GatewayConfig{}, nil)
	server := NewServer(h.hub, h.store, h.tickets, cfg, logger.Nop())

	r := gin.New()
	r.GET("/ws", server.ServeWS)
	h.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		h.hub.Close()
		h.srv.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	ticket := uuid.NewString()
	h.tickets.mu.Lock()
	h.tickets.tickets[ticket] = userID
	h.tickets.mu.Unlock()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?ticket=" + ticket
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	env := readEnvelope(t, ws)
	require.Equal(t, EventConnected, env.Event)
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func send(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Envelope{Event: event, Data: raw}))
}

func TestServeWSRejectsMissingOrUnknownTicket(t *testing.T) {
	h := newHarness(t)
	base := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"

	for _, url := range []string{base, base + "?ticket=nope"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Equal(t, 0, h.hub.ConnectionCount())
}

func TestServeWSRejectsUnknownRole(t *testing.T) {
	h := newHarness(t)
	h.tickets.mu.Lock()
	h.tickets.tickets["candidate"] = uuid.New()
	h.tickets.roles["candidate"] = model.Role("CANDIDATE")
	h.tickets.mu.Unlock()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?ticket=candidate"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, h.hub.ConnectionCount())
}

func TestSendToUserReachesEveryConnectionOfThatUserOnly(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()

	a1 := h.dial(t, alice)
	a2 := h.dial(t, alice)
	b := h.dial(t, bob)
	assert.True(t, h.hub.Online(alice))
	assert.Equal(t, 3, h.hub.ConnectionCount())
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.GatewayConnections))

	n, err := h.hub.SendToUser(alice, EventNotification, map[string]string{"title": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, ws := range []*websocket.Conn{a1, a2} {
		env := readEnvelope(t, ws)
		assert.Equal(t, EventNotification, env.Event)
		assert.JSONEq(t, `{"title":"hello"}`, string(env.Data))
	}

	// Bob's first frame is his own pong, so nothing for alice leaked to him.
	send(t, b, ActionPing, nil)
	assert.Equal(t, EventPong, readEnvelope(t, b).Event)
}

func TestMarkReadIsEchoedToSiblingConnections(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	a1 := h.dial(t, user)
	a2 := h.dial(t, user)
	id := uuid.New()

	send(t, a1, ActionMarkRead, NotificationRef{NotificationID: id})

	for _, ws := range []*websocket.Conn{a1, a2} {
		env := readEnvelope(t, ws)
		require.Equal(t, EventRead, env.Event)
		var ref NotificationRef
		require.NoError(t, json.Unmarshal(env.Data, &ref))
		assert.Equal(t, id, ref.NotificationID)
	}
	read, _, _ := h.store.snapshot()
	assert.Equal(t, []uuid.UUID{id}, read)
}

func TestDeleteFailureOnlyTellsTheSender(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	a1 := h.dial(t, user)
	a2 := h.dial(t, user)

	send(t, a1, ActionDelete, map[string]string{"notificationId": "not-a-uuid"})
	env := readEnvelope(t, a1)
	assert.Equal(t, EventError, env.Event)

	send(t, a2, ActionPing, nil)
	assert.Equal(t, EventPong, readEnvelope(t, a2).Event)
	_, deleted, _ := h.store.snapshot()
	assert.Empty(t, deleted)
}

func TestStorageFailureDetailsStayOffTheWire(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = apperrors.NewPersistence("list notifications", errors.New("pq: connection refused"))
	ws := h.dial(t, uuid.New())

	send(t, ws, ActionGetMissed, MissedRequest{LastReceivedAt: time.Now().Add(-time.Hour)})
	env := readEnvelope(t, ws)
	require.Equal(t, EventError, env.Event)

	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, ActionGetMissed, data.Action)
	assert.Equal(t, "Internal server error", data.Message)
	assert.NotContains(t, string(env.Data), "pq:")
}

func TestGetMissedAnswersOnlyTheRequester(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.store.missed = []*model.Notification{{ID: uuid.New(), UserID: user, Title: "while away"}}
	a1 := h.dial(t, user)
	a2 := h.dial(t, user)

	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	send(t, a1, ActionGetMissed, MissedRequest{LastReceivedAt: since})

	env := readEnvelope(t, a1)
	require.Equal(t, EventMissed, env.Event)
	var got []*model.Notification
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "while away", got[0].Title)
	_, _, gotSince := h.store.snapshot()
	assert.True(t, since.Equal(gotSince))

	send(t, a2, ActionPing, nil)
	assert.Equal(t, EventPong, readEnvelope(t, a2).Event)
}

func TestUnknownEventGetsError(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, uuid.New())

	send(t, ws, "notification:explode", nil)
	env := readEnvelope(t, ws)
	require.Equal(t, EventError, env.Event)
	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "notification:explode", data.Action)
}

func TestClosedConnectionLeavesHub(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	ws := h.dial(t, user)
	require.True(t, h.hub.Online(user))

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return !h.hub.Online(user) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.GatewayConnections))
}

func TestSlowConnectionIsDroppedWithoutBlockingSiblings(t *testing.T) {
	m := metrics.NewNop()
	hub := NewHub(logger.Nop(), m, nil)
	s := &Server{hub: hub, cfg: NewConfig(config.GatewayConfig{SendBuffer: 1}, nil), logger: logger.Nop()}
	user := uuid.New()

	slow := newConn(s, nil, user)
	healthy := newConn(s, nil, user)
	healthy.send = make(chan []byte, 8)
	hub.add(slow)
	hub.add(healthy)

	n, err := hub.SendToUser(user, EventNotification, "first")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = hub.SendToUser(user, EventNotification, "second")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GatewayDropped))
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Len(t, healthy.send, 2)

	n, _ = hub.SendToUser(user, EventNotification, "third")
	assert.Equal(t, 1, n)
}

func TestHandleRelayPushesToLocalConnections(t *testing.T) {
	hub := NewHub(logger.Nop(), metrics.NewNop(), nil)
	s := &Server{hub: hub, cfg: NewConfig(config.GatewayConfig{}, nil), logger: logger.Nop()}
	user := uuid.New()
	c := newConn(s, nil, user)
	hub.add(c)

	err := hub.HandleRelay(context.Background(), relayMessage(user.String(), `{"title":"from afar"}`))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, EventNotification, env.Event)
	assert.JSONEq(t, `{"title":"from afar"}`, string(env.Data))

	assert.Error(t, hub.HandleRelay(context.Background(), relayMessage("bogus", `{}`)))
}

func relayMessage(userID, payload string) messaging.Message {
	return messaging.Message{Type: EventNotification, UserID: userID, Payload: json.RawMessage(payload)}
}
