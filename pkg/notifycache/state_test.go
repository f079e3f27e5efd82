package notifycache_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/pkg/notifycache"
	"github.com/jwalitptl/notification-api/pkg/wsclient"
)

func item(title, typ string, read bool) wsclient.Notification {
	return wsclient.Notification{ID: uuid.New(), Title: title, Type: typ, IsRead: read}
}

func TestAddAndMarkAsReadKeepCounterConsistent(t *testing.T) {
	a := item("Bias alert", "BIAS_ALERT", false)
	b := item("New application", "NEW_APPLICATION", false)

	s := notifycache.AddNotification(notifycache.State{}, a)
	s = notifycache.AddNotification(s, b)
	require.Len(t, s.Notifications, 2)
	assert.Equal(t, b.ID, s.Notifications[0].ID)
	assert.Equal(t, 2, s.UnreadCount)

	s = notifycache.MarkAsRead(s, a.ID)
	s = notifycache.MarkAsRead(s, a.ID)
	assert.Equal(t, 1, s.UnreadCount)
	assert.True(t, s.Notifications[1].IsRead)

	s = notifycache.MarkAsRead(s, uuid.New())
	assert.Equal(t, 1, s.UnreadCount)
}

func TestMarkAsReadClampsAtZero(t *testing.T) {
	n := item("x", "STATUS_CHANGE", false)
	s := notifycache.State{Notifications: []wsclient.Notification{n}, UnreadCount: 0}
	s = notifycache.MarkAsRead(s, n.ID)
	assert.Equal(t, 0, s.UnreadCount)
	assert.True(t, s.Notifications[0].IsRead)
}

func TestTransitionsDoNotMutateInput(t *testing.T) {
	n := item("x", "STATUS_CHANGE", false)
	before := notifycache.SetNotifications(notifycache.State{}, []wsclient.Notification{n})

	after := notifycache.MarkAllAsRead(before)
	assert.False(t, before.Notifications[0].IsRead)
	assert.Equal(t, 1, before.UnreadCount)
	assert.True(t, after.Notifications[0].IsRead)
	assert.Equal(t, 0, after.UnreadCount)
}

func TestDeleteOnlyDecrementsForUnread(t *testing.T) {
	read := item("read", "STATUS_CHANGE", true)
	unread := item("unread", "STATUS_CHANGE", false)
	s := notifycache.SetNotifications(notifycache.State{}, []wsclient.Notification{unread, read})
	require.Equal(t, 1, s.UnreadCount)

	s = notifycache.DeleteNotification(s, read.ID)
	assert.Equal(t, 1, s.UnreadCount)
	s = notifycache.DeleteNotification(s, unread.ID)
	assert.Equal(t, 0, s.UnreadCount)
	assert.Empty(t, s.Notifications)
}

func TestMergeMissedSkipsDuplicatesAndPutsNewestFirst(t *testing.T) {
	cached := item("cached", "STATUS_CHANGE", false)
	s := notifycache.SetNotifications(notifycache.State{}, []wsclient.Notification{cached})

	older := item("older", "NEW_APPLICATION", false)
	newer := item("newer", "NEW_APPLICATION", false)
	s = notifycache.MergeMissed(s, []wsclient.Notification{cached, older, newer, older})

	require.Len(t, s.Notifications, 3)
	assert.Equal(t, "newer", s.Notifications[0].Title)
	assert.Equal(t, "older", s.Notifications[1].Title)
	assert.Equal(t, "cached", s.Notifications[2].Title)
	assert.Equal(t, 3, s.UnreadCount)
}

func TestProjectionsLeaveStateAlone(t *testing.T) {
	s := notifycache.SetNotifications(notifycache.State{}, []wsclient.Notification{
		item("Candidate Shortlisted", "CANDIDATE_SHORTLISTED", false),
		item("Bias Alert", "BIAS_ALERT", false),
		{ID: uuid.New(), Title: "Status", Content: "moved to SHORTLISTED", Type: "STATUS_CHANGE"},
	})

	assert.Len(t, notifycache.FilterByType(s, "BIAS_ALERT"), 1)
	assert.Len(t, notifycache.FilterByType(s, ""), 3)
	assert.Empty(t, notifycache.FilterByType(s, "MILESTONE_REACHED"))
	assert.Len(t, notifycache.Search(s, "shortlisted"), 2)
	assert.Len(t, notifycache.Search(s, "  "), 3)
	assert.Empty(t, notifycache.Search(s, "nothing"))
	assert.Equal(t, 3, s.UnreadCount)
	assert.Len(t, s.Notifications, 3)
}

type staticHistory struct {
	items []wsclient.Notification
	err   error
}

func (h staticHistory) FetchHistory(context.Context) ([]wsclient.Notification, error) {
	return h.items, h.err
}

func TestStoreFetchReplacesAndRecounts(t *testing.T) {
	newest := wsclient.Notification{ID: uuid.New(), CreatedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}
	read := wsclient.Notification{ID: uuid.New(), IsRead: true, CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := notifycache.NewStore(staticHistory{items: []wsclient.Notification{newest, read}})
	store.Add(item("stale", "STATUS_CHANGE", false))
	store.Add(item("stale", "STATUS_CHANGE", false))

	require.NoError(t, store.FetchNotifications(context.Background()))
	assert.Equal(t, 1, store.UnreadCount())
	assert.Len(t, store.Snapshot().Notifications, 2)
	assert.True(t, newest.CreatedAt.Equal(store.LastReceivedAt()))

	failing := notifycache.NewStore(staticHistory{err: errors.New("offline")})
	assert.Error(t, failing.FetchNotifications(context.Background()))
}

func TestRESTHistorySendsBearerAndDecodesPage(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/notifications/my" || r.Header.Get("Authorization") != "Bearer session" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":401,"message":"unauthorized"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"items":[{"id":"` + id.String() + `","title":"hi","isRead":false}],"total":1}}`))
	}))
	defer srv.Close()

	history := notifycache.NewRESTHistory(srv.URL, func(context.Context) (string, error) { return "session", nil }, nil)
	items, err := history.FetchHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)

	anon := notifycache.NewRESTHistory(srv.URL, nil, nil)
	_, err = anon.FetchHistory(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}
