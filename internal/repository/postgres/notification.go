package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
)

const notificationColumns = `id, user_id, type, title, content, metadata, is_read, created_at, expires_at`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(db *sqlx.DB) repository.NotificationRepository {
	return &notificationRepository{NewBaseRepository(db)}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := r.q(`
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Type, n.Title, n.Content, n.Metadata, n.IsRead, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	query := r.q(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ? AND user_id = ?`)
	if err := r.db.GetContext(ctx, &n, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification", nil)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func buildNotificationFilter(f model.NotificationFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.UserID != nil {
		conds = append(conds, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, *f.Type)
	}
	if f.IsRead != nil {
		conds = append(conds, "is_read = ?")
		args = append(args, *f.IsRead)
	}
	if f.StartDate != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.StartDate.UTC())
	}
	if f.EndDate != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.EndDate.UTC())
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := containsPattern(s)
		conds = append(conds, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\')`)
		args = append(args, p, p)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *notificationRepository) List(ctx context.Context, f model.NotificationFilter, page model.Pagination) ([]*model.Notification, int, error) {
	page = page.Normalize()
	where, args := buildNotificationFilter(f)

	var total int
	if err := r.db.GetContext(ctx, &total, r.q(`SELECT COUNT(*) FROM notifications`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := r.q(`SELECT ` + notificationColumns + ` FROM notifications` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	items := []*model.Notification{}
	if err := r.db.SelectContext(ctx, &items, query, append(args, page.Limit, page.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, total, nil
}

func (r *notificationRepository) ListSince(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*model.Notification, error) {
	query := r.q(`
		SELECT ` + notificationColumns + ` FROM notifications
		WHERE user_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`)
	items := []*model.Notification{}
	if err := r.db.SelectContext(ctx, &items, query, userID, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications since %s: %w", since, err)
	}
	return items, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		r.q(`UPDATE notifications SET is_read = ? WHERE id = ? AND user_id = ?`), true, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("notification", nil)
	}
	return nil
}

func (r *notificationRepository) MarkManyAsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := r.in(`
		UPDATE notifications SET is_read = ?
		WHERE user_id = ? AND is_read = ? AND id IN (?)
	`, true, userID, false, ids)
	if err != nil {
		return 0, err
	}
	return r.execCount(ctx, "mark notifications read", query, args...)
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.execCount(ctx, "mark all notifications read",
		r.q(`UPDATE notifications SET is_read = ? WHERE user_id = ? AND is_read = ?`), true, userID, false)
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		r.q(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = ?`), userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (r *notificationRepository) CountUnreadByType(ctx context.Context, userID uuid.UUID) (map[model.NotificationType]int, error) {
	var rows []struct {
		Type  model.NotificationType `db:"type"`
		Count int                    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, r.q(`
		SELECT type, COUNT(*) AS count FROM notifications
		WHERE user_id = ? AND is_read = ?
		GROUP BY type
	`), userID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notifications by type: %w", err)
	}

	counts := make(map[model.NotificationType]int, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Count
	}
	return counts, nil
}

func (r *notificationRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	rows, err := r.execCount(ctx, "delete notification",
		r.q(`DELETE FROM notifications WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.NotFound("notification", nil)
	}
	return nil
}

func (r *notificationRepository) DeleteMany(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := r.in(`DELETE FROM notifications WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return 0, err
	}
	return r.execCount(ctx, "delete notifications", query, args...)
}

func (r *notificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx, "delete expired notifications",
		r.q(`DELETE FROM notifications WHERE expires_at <= ?`), now.UTC())
}

func (r *notificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.execCount(ctx, "delete read notifications",
		r.q(`DELETE FROM notifications WHERE is_read = ? AND created_at < ?`), true, cutoff.UTC())
}

func (r *notificationRepository) execCount(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
