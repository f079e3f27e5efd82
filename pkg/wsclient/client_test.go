package wsclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/pkg/wsclient"
)

func TestBackoffDoublesAndStopsAfterMaxAttempts(t *testing.T) {
	b := wsclient.Backoff{Base: time.Second, MaxAttempts: 5}
	var got []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, got)

	b.Reset()
	d, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// fakeChannel accepts tickets it has not seen before and records client frames.
type fakeChannel struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	tickets []string
	conns   []*websocket.Conn
	frames  chan frame
	reject  atomic.Bool
	// open counts upgraded connections whose read loop is still running.
	open atomic.Int32
}

func newFakeChannel(t *testing.T) *fakeChannel {
	f := &fakeChannel{frames: make(chan frame, 16)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

func (f *fakeChannel) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v1/notifications/ws"
}

func (f *fakeChannel) serve(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	f.mu.Lock()
	for _, seen := range f.tickets {
		if seen == ticket {
			f.mu.Unlock()
			http.Error(w, "ticket reused", http.StatusUnauthorized)
			return
		}
	}
	f.tickets = append(f.tickets, ticket)
	f.mu.Unlock()

	if ticket == "" || f.reject.Load() {
		http.Error(w, "invalid ticket", http.StatusUnauthorized)
		return
	}

	// counted before the handshake completes so a dialer never sees it late
	f.open.Add(1)
	defer f.open.Add(-1)
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	_ = conn.WriteJSON(frame{Event: "connected", Data: json.RawMessage(`{"userId":"u"}`)})
	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			return
		}
		f.frames <- fr
	}
}

func (f *fakeChannel) push(t *testing.T, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	require.NoError(t, conn.WriteJSON(frame{Event: event, Data: raw}))
}

// dropAll closes every server-side connection, simulating a transport failure.
func (f *fakeChannel) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
}

func (f *fakeChannel) ticketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickets)
}

func counterTickets() (wsclient.TicketSource, *atomic.Int32) {
	var n atomic.Int32
	return wsclient.TicketFunc(func(context.Context) (string, error) {
		return fmt.Sprintf("ticket-%d", n.Add(1)), nil
	}), &n
}

type stateLog struct {
	mu     sync.Mutex
	states []wsclient.State
}

func (s *stateLog) record(st wsclient.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateLog) snapshot() []wsclient.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wsclient.State(nil), s.states...)
}

func TestConnectWalksStatesAndDeliversEvents(t *testing.T) {
	ch := newFakeChannel(t)
	tickets, _ := counterTickets()
	client := wsclient.New(wsclient.Options{URL: ch.url(), Tickets: tickets})

	states := &stateLog{}
	got := make(chan wsclient.Notification, 1)
	reads := make(chan uuid.UUID, 1)
	client.AddHandlers(wsclient.Handlers{
		OnStateChange:  states.record,
		OnNotification: func(n wsclient.Notification) { got <- n },
		OnRead:         func(id uuid.UUID) { reads <- id },
	})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []wsclient.State{wsclient.Connecting, wsclient.Authenticated, wsclient.Connected}, states.snapshot())

	id := uuid.New()
	ch.push(t, "notification", wsclient.Notification{ID: id, Title: "New application"})
	select {
	case n := <-got:
		assert.Equal(t, id, n.ID)
		assert.Equal(t, "New application", n.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	ch.push(t, "notification:read", map[string]uuid.UUID{"notificationId": id})
	select {
	case readID := <-reads:
		assert.Equal(t, id, readID)
	case <-time.After(2 * time.Second):
		t.Fatal("read echo not delivered")
	}

	require.NoError(t, client.MarkRead(id))
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, client.RequestMissed(since))

	fr := <-ch.frames
	assert.Equal(t, "notification:markRead", fr.Event)
	assert.JSONEq(t, fmt.Sprintf(`{"notificationId":%q}`, id), string(fr.Data))
	fr = <-ch.frames
	assert.Equal(t, "notification:getMissed", fr.Event)
	assert.JSONEq(t, `{"lastReceivedAt":"2024-01-02T03:04:05Z"}`, string(fr.Data))
}

func TestReconnectFetchesFreshTicket(t *testing.T) {
	ch := newFakeChannel(t)
	tickets, issued := counterTickets()
	client := wsclient.New(wsclient.Options{URL: ch.url(), Tickets: tickets, BackoffBase: time.Millisecond})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)

	ch.dropAll()
	require.Eventually(t, func() bool {
		return ch.ticketCount() == 2 && client.State() == wsclient.Connected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), issued.Load())
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	ch := newFakeChannel(t)
	tickets, _ := counterTickets()
	client := wsclient.New(wsclient.Options{URL: ch.url(), Tickets: tickets, BackoffBase: time.Millisecond})

	require.NoError(t, client.Connect(context.Background()))
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)

	client.Disconnect()
	assert.Equal(t, wsclient.Disconnected, client.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ch.ticketCount())
	assert.ErrorIs(t, client.MarkRead(uuid.New()), wsclient.ErrNotConnected)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	ch := newFakeChannel(t)
	tickets, _ := counterTickets()
	client := wsclient.New(wsclient.Options{
		URL: ch.url(), Tickets: tickets, BackoffBase: time.Millisecond, MaxAttempts: 3,
	})

	states := &stateLog{}
	client.AddHandlers(wsclient.Handlers{OnStateChange: states.record})

	require.NoError(t, client.Connect(context.Background()))
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)

	ch.reject.Store(true)
	ch.dropAll()

	require.Eventually(t, func() bool {
		st := states.snapshot()
		return ch.ticketCount() == 4 && st[len(st)-1] == wsclient.Disconnected
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, ch.ticketCount())
	assert.Contains(t, states.snapshot(), wsclient.Reconnecting)

	// A manual Connect starts over.
	ch.reject.Store(false)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestFailedFirstConnectKeepsRetrying(t *testing.T) {
	ch := newFakeChannel(t)
	ch.reject.Store(true)
	tickets, _ := counterTickets()
	client := wsclient.New(wsclient.Options{URL: ch.url(), Tickets: tickets, BackoffBase: 20 * time.Millisecond})
	defer client.Disconnect()

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	ch.reject.Store(false)
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, ch.ticketCount(), 2)
}

func TestDisconnectStopsRetriesAfterFailedConnect(t *testing.T) {
	ch := newFakeChannel(t)
	ch.reject.Store(true)
	tickets, _ := counterTickets()
	client := wsclient.New(wsclient.Options{URL: ch.url(), Tickets: tickets, BackoffBase: 20 * time.Millisecond})

	require.Error(t, client.Connect(context.Background()))
	client.Disconnect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ch.ticketCount())
	assert.Equal(t, wsclient.Disconnected, client.State())
}

// gatedDialer holds one chosen dial until released.
type gatedDialer struct {
	calls   atomic.Int32
	gateOn  int32
	entered chan struct{}
	release chan struct{}
	done    chan struct{}
}

func newGatedDialer(gateOn int32) *gatedDialer {
	return &gatedDialer{
		gateOn:  gateOn,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (d *gatedDialer) DialContext(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	if d.calls.Add(1) != d.gateOn {
		return websocket.DefaultDialer.DialContext(ctx, u, h)
	}
	close(d.entered)
	<-d.release
	defer close(d.done)
	return websocket.DefaultDialer.DialContext(ctx, u, h)
}

func TestStaleReconnectDoesNotOutliveNewSession(t *testing.T) {
	ch := newFakeChannel(t)
	tickets, _ := counterTickets()
	dialer := newGatedDialer(2)
	client := wsclient.New(wsclient.Options{
		URL: ch.url(), Tickets: tickets, Dialer: dialer, BackoffBase: time.Millisecond,
	})
	defer client.Disconnect()

	require.NoError(t, client.Connect(context.Background()))
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)

	ch.dropAll()
	select {
	case <-dialer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never dialed")
	}

	client.Disconnect()
	require.NoError(t, client.Connect(context.Background()))
	require.Eventually(t, func() bool { return client.State() == wsclient.Connected }, 2*time.Second, 5*time.Millisecond)

	close(dialer.release)
	select {
	case <-dialer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("held dial never finished")
	}

	require.Eventually(t, func() bool { return ch.open.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), ch.open.Load())
	assert.Equal(t, wsclient.Connected, client.State())
	assert.Equal(t, 3, ch.ticketCount())
}
