package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

type NotificationPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type TokenCleaner interface {
	Cleanup(ctx context.Context, age time.Duration) (int64, error)
}

// RetentionWorker removes expired notifications, read notifications past
// readAfter and device tokens inactive for longer than tokenAge.
type RetentionWorker struct {
	notifications NotificationPurger
	tokens        TokenCleaner
	readAfter     time.Duration
	tokenAge      time.Duration
	now           func() time.Time
	logger        *logger.Logger
}

func NewRetentionWorker(notifications NotificationPurger, tokens TokenCleaner, cfg config.RetentionConfig, log *logger.Logger) *RetentionWorker {
	w := &RetentionWorker{
		notifications: notifications,
		tokens:        tokens,
		readAfter:     cfg.ReadAfter,
		tokenAge:      cfg.InactiveTokenAge,
		now:           time.Now,
		logger:        log.With("retention_worker"),
	}
	if w.readAfter <= 0 {
		w.readAfter = 30 * 24 * time.Hour
	}
	if w.tokenAge <= 0 {
		w.tokenAge = 30 * 24 * time.Hour
	}
	return w
}

func (w *RetentionWorker) Name() string { return "retention" }

func (w *RetentionWorker) Tick(ctx context.Context) error {
	now := w.now().UTC()
	var errs []error

	expired, err := w.notifications.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired notifications: %w", err))
	}
	read, err := w.notifications.DeleteReadBefore(ctx, now.Add(-w.readAfter))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete read notifications: %w", err))
	}
	tokens, err := w.tokens.Cleanup(ctx, w.tokenAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup device tokens: %w", err))
	}

	w.logger.Info("retention pass complete", "expired", expired, "read", read, "tokens", tokens)
	return errors.Join(errs...)
}
