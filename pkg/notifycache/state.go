// Package notifycache mirrors a user's notifications on the client side,
// merging REST history with live pushes from the notification channel.
package notifycache

import (
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/pkg/wsclient"
)

// State is treated as a value. Transitions return a new State and never
// mutate the slice they were given.
type State struct {
	Notifications []wsclient.Notification
	UnreadCount   int
	IsConnected   bool
}

// AddNotification prepends n.
func AddNotification(s State, n wsclient.Notification) State {
	list := make([]wsclient.Notification, 0, len(s.Notifications)+1)
	list = append(list, n)
	list = append(list, s.Notifications...)
	s.Notifications = list
	if !n.IsRead {
		s.UnreadCount++
	}
	return s
}

// MarkAsRead flips id to read if it is unread. The counter never goes below zero.
func MarkAsRead(s State, id uuid.UUID) State {
	idx := indexOf(s.Notifications, id)
	if idx < 0 || s.Notifications[idx].IsRead {
		return s
	}
	list := clone(s.Notifications)
	list[idx].IsRead = true
	s.Notifications = list
	if s.UnreadCount > 0 {
		s.UnreadCount--
	}
	return s
}

func MarkAllAsRead(s State) State {
	list := clone(s.Notifications)
	for i := range list {
		list[i].IsRead = true
	}
	s.Notifications = list
	s.UnreadCount = 0
	return s
}

func DeleteNotification(s State, id uuid.UUID) State {
	idx := indexOf(s.Notifications, id)
	if idx < 0 {
		return s
	}
	wasUnread := !s.Notifications[idx].IsRead
	list := make([]wsclient.Notification, 0, len(s.Notifications)-1)
	list = append(list, s.Notifications[:idx]...)
	list = append(list, s.Notifications[idx+1:]...)
	s.Notifications = list
	if wasUnread && s.UnreadCount > 0 {
		s.UnreadCount--
	}
	return s
}

// SetNotifications replaces the list and recomputes the unread counter.
func SetNotifications(s State, list []wsclient.Notification) State {
	s.Notifications = clone(list)
	s.UnreadCount = countUnread(s.Notifications)
	return s
}

func SetConnected(s State, connected bool) State {
	s.IsConnected = connected
	return s
}

// MergeMissed prepends replayed items that are not already cached. missed is
// oldest first, so the newest ends up at the front.
func MergeMissed(s State, missed []wsclient.Notification) State {
	seen := make(map[uuid.UUID]struct{}, len(s.Notifications))
	for _, n := range s.Notifications {
		seen[n.ID] = struct{}{}
	}
	for _, n := range missed {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		s = AddNotification(s, n)
	}
	return s
}

// FilterByType returns every notification when typ is empty.
func FilterByType(s State, typ string) []wsclient.Notification {
	if typ == "" {
		return clone(s.Notifications)
	}
	var out []wsclient.Notification
	for _, n := range s.Notifications {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// Search matches title or content, case-insensitively.
func Search(s State, query string) []wsclient.Notification {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return clone(s.Notifications)
	}
	var out []wsclient.Notification
	for _, n := range s.Notifications {
		if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Content), q) {
			out = append(out, n)
		}
	}
	return out
}

func indexOf(list []wsclient.Notification, id uuid.UUID) int {
	for i, n := range list {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func clone(list []wsclient.Notification) []wsclient.Notification {
	return append([]wsclient.Notification(nil), list...)
}

func countUnread(list []wsclient.Notification) int {
	n := 0
	for _, item := range list {
		if !item.IsRead {
			n++
		}
	}
	return n
}
