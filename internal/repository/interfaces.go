package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/model"
)

// All repository interfaces in one file
type (
	// NotificationRepository persists notifications. Every user-facing
	// method is scoped to the owning user; a row owned by someone else is
	// indistinguishable from a missing one.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error)
		List(ctx context.Context, filter model.NotificationFilter, page model.Pagination) ([]*model.Notification, int, error)
		ListSince(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*model.Notification, error)
		MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
		MarkManyAsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
		MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
		CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
		CountUnreadByType(ctx context.Context, userID uuid.UUID) (map[model.NotificationType]int, error)
		Delete(ctx context.Context, userID, id uuid.UUID) error
		DeleteMany(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
		DeleteExpired(ctx context.Context, now time.Time) (int64, error)
		DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// DeviceTokenRepository keeps at most one active token per (user, platform).
	DeviceTokenRepository interface {
		Register(ctx context.Context, token *model.DeviceToken) error
		ListActive(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error)
		Deactivate(ctx context.Context, userID, id uuid.UUID) error
		DeactivateByToken(ctx context.Context, token string) error
		Touch(ctx context.Context, token string, at time.Time) error
		DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
		Stats(ctx context.Context) (*model.DeviceTokenStats, error)
	}

	// StatsRepository reads counters owned by the host product.
	StatsRepository interface {
		CountUsers(ctx context.Context) (int64, error)
		CountCompletedCandidates(ctx context.Context) (int64, error)
		ProcessingWindow(ctx context.Context, since time.Time) (*model.ProcessingWindowStats, error)
		MonthlySummary(ctx context.Context, from, to time.Time) (*model.MonthlyReport, error)
	}

	// DirectoryRepository enumerates users for fan-out and email.
	DirectoryRepository interface {
		AdminIDs(ctx context.Context) ([]uuid.UUID, error)
		Email(ctx context.Context, userID uuid.UUID) (string, error)
	}
)
