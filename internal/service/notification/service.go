package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/metrics"
	"github.com/jwalitptl/notification-api/pkg/validator"
)

const defaultMissedLimit = 100

// Servicer is the notification store contract used by handlers, the gateway
// and event handlers.
type Servicer interface {
	Create(ctx context.Context, req *model.CreateNotificationRequest, role model.Role) (*model.Notification, error)
	List(ctx context.Context, filter model.NotificationFilter, page model.Pagination) (model.Page[*model.Notification], error)
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	MarkMultipleAsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	GetUnreadCountByType(ctx context.Context, userID uuid.UUID) (model.UnreadByType, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	DeleteMultiple(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	Search(ctx context.Context, query string, userID *uuid.UUID, page model.Pagination) (model.Page[*model.Notification], error)
	ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*model.Notification, error)
}

// Dispatcher delivers a freshly persisted notification. It must not block on
// slow channels and reports failures through its own logs and metrics.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *model.Notification)
}

type Option func(*Service)

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithMissedLimit caps how many notifications ListSince returns.
func WithMissedLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.missedLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo        repository.NotificationRepository
	validator   validator.Validator
	dispatcher  Dispatcher
	logger      *logger.Logger
	metrics     *metrics.Metrics
	missedLimit int
	now         func() time.Time
}

func NewService(repo repository.NotificationRepository, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		validator:   validator.New(),
		logger:      log.With("notification_service"),
		metrics:     m,
		missedLimit: defaultMissedLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates req, checks that role may create req.Type and persists the
// notification. Nothing is written when the role is not permitted. Delivery
// happens after the write and never fails the call.
func (s *Service) Create(ctx context.Context, req *model.CreateNotificationRequest, role model.Role) (*model.Notification, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	if !role.CanCreate(req.Type) {
		s.metrics.PermissionDenied.WithLabelValues(string(role), string(req.Type)).Inc()
		return nil, apperrors.NewPermissionDenied(
			fmt.Sprintf("role %q is not allowed to create %s notifications", role, req.Type))
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = model.JSONMap{}
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	n := &model.Notification{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Content:   req.Content,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(model.NotificationRetention),
	}

	if err := s.observe("create", func() error { return s.repo.Create(ctx, n) }); err != nil {
		return nil, apperrors.NewPersistence("create notification", err)
	}
	s.metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, n)
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, filter model.NotificationFilter, page model.Pagination) (model.Page[*model.Notification], error) {
	page = page.Normalize()
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return model.Page[*model.Notification]{}, apperrors.NewBadRequest("endDate must not be before startDate", nil)
	}

	var (
		items []*model.Notification
		total int
	)
	err := s.observe("list", func() (err error) {
		items, total, err = s.repo.List(ctx, filter, page)
		return err
	})
	if err != nil {
		return model.Page[*model.Notification]{}, wrap("list notifications", err)
	}
	return model.NewPage(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, wrap("get notification", err)
	}
	return n, nil
}

// MarkAsRead is idempotent for owned notifications.
func (s *Service) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	err := s.observe("mark_read", func() error { return s.repo.MarkAsRead(ctx, userID, id) })
	return wrap("mark notification read", err)
}

func (s *Service) MarkMultipleAsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	var n int64
	err := s.observe("mark_many_read", func() (err error) {
		n, err = s.repo.MarkManyAsRead(ctx, userID, ids)
		return err
	})
	return n, wrap("mark notifications read", err)
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.observe("mark_all_read", func() (err error) {
		n, err = s.repo.MarkAllAsRead(ctx, userID)
		return err
	})
	return n, wrap("mark all notifications read", err)
}

func (s *Service) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	return count, wrap("count unread notifications", err)
}

// GetUnreadCountByType reports every notification type, zero when none are unread.
func (s *Service) GetUnreadCountByType(ctx context.Context, userID uuid.UUID) (model.UnreadByType, error) {
	counts, err := s.repo.CountUnreadByType(ctx, userID)
	if err != nil {
		return nil, wrap("count unread notifications", err)
	}
	out := model.NewUnreadByType()
	for t, c := range counts {
		if t.Valid() {
			out[t] = c
		}
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	err := s.observe("delete", func() error { return s.repo.Delete(ctx, userID, id) })
	return wrap("delete notification", err)
}

// DeleteMultiple skips ids that do not exist or belong to someone else.
func (s *Service) DeleteMultiple(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	var n int64
	err := s.observe("delete_many", func() (err error) {
		n, err = s.repo.DeleteMany(ctx, userID, ids)
		return err
	})
	return n, wrap("delete notifications", err)
}

func (s *Service) Search(ctx context.Context, query string, userID *uuid.UUID, page model.Pagination) (model.Page[*model.Notification], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.Page[*model.Notification]{}, apperrors.NewBadRequest("search query is required", nil)
	}
	return s.List(ctx, model.NotificationFilter{UserID: userID, Search: query}, page)
}

// ListSince returns the user's notifications created strictly after since,
// oldest first.
func (s *Service) ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*model.Notification, error) {
	items, err := s.repo.ListSince(ctx, userID, since, s.missedLimit)
	if err != nil {
		return nil, wrap("list missed notifications", err)
	}
	return items, nil
}

func (s *Service) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "success"
	if err != nil && !apperrors.IsNotFound(err) {
		status = "error"
	}
	s.metrics.DatabaseOperations.WithLabelValues(op, status).Inc()
	s.metrics.DatabaseLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// wrap keeps AppErrors from the repository intact and turns anything else
// into a persistence failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewPersistence(op, err)
}
