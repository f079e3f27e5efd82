package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
)

const deviceTokenColumns = `id, user_id, token, platform, user_agent, last_used, is_active, created_at`

type deviceTokenRepository struct {
	BaseRepository
}

func NewDeviceTokenRepository(db *sqlx.DB) repository.DeviceTokenRepository {
	return &deviceTokenRepository{NewBaseRepository(db)}
}

// Register deactivates the user's other active tokens on the same platform
// and upserts token as active, all in one transaction. A token string that is
// already known is reassigned to the caller.
func (r *deviceTokenRepository) Register(ctx context.Context, t *model.DeviceToken) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.lockRegistration(ctx, tx, t.UserID, t.Platform); err != nil {
			return fmt.Errorf("failed to lock device token registration: %w", err)
		}

		_, err := tx.ExecContext(ctx, r.q(`
			UPDATE device_tokens SET is_active = ?
			WHERE user_id = ? AND platform = ? AND is_active = ? AND token <> ?
		`), false, t.UserID, t.Platform, true, t.Token)
		if err != nil {
			return fmt.Errorf("failed to deactivate previous tokens: %w", err)
		}

		row := tx.QueryRowxContext(ctx, r.q(`
			INSERT INTO device_tokens (`+deviceTokenColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (token) DO UPDATE SET
				user_id = excluded.user_id,
				platform = excluded.platform,
				user_agent = excluded.user_agent,
				last_used = excluded.last_used,
				is_active = excluded.is_active
			RETURNING id, created_at
		`), t.ID, t.UserID, t.Token, t.Platform, t.UserAgent, t.LastUsed, true, t.CreatedAt)
		if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
			return fmt.Errorf("failed to upsert device token: %w", err)
		}
		t.IsActive = true
		return nil
	})
}

// lockRegistration serialises registrations for one (user, platform) pair
// until tx ends, so the partial unique index on active tokens never sees two
// concurrent winners. SQLite already admits one writer at a time.
func (r *deviceTokenRepository) lockRegistration(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, platform model.Platform) error {
	if r.db.DriverName() != DriverPostgres {
		return nil
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		"device_tokens:"+userID.String()+":"+string(platform))
	return err
}

func (r *deviceTokenRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error) {
	tokens := []*model.DeviceToken{}
	err := r.db.SelectContext(ctx, &tokens, r.q(`
		SELECT `+deviceTokenColumns+` FROM device_tokens
		WHERE user_id = ? AND is_active = ?
		ORDER BY last_used DESC
	`), userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	return tokens, nil
}

func (r *deviceTokenRepository) Deactivate(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		r.q(`UPDATE device_tokens SET is_active = ? WHERE id = ? AND user_id = ?`), false, id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("device token", nil)
	}
	return nil
}

func (r *deviceTokenRepository) DeactivateByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`UPDATE device_tokens SET is_active = ? WHERE token = ?`), false, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return nil
}

func (r *deviceTokenRepository) Touch(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`UPDATE device_tokens SET last_used = ? WHERE token = ?`), at.UTC(), token)
	if err != nil {
		return fmt.Errorf("failed to touch device token: %w", err)
	}
	return nil
}

func (r *deviceTokenRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.q(`DELETE FROM device_tokens WHERE is_active = ? AND last_used < ?`), false, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive device tokens: %w", err)
	}
	return result.RowsAffected()
}

func (r *deviceTokenRepository) Stats(ctx context.Context) (*model.DeviceTokenStats, error) {
	var rows []struct {
		Platform model.Platform `db:"platform"`
		Total    int            `db:"total"`
		Active   int            `db:"active"`
	}
	err := r.db.SelectContext(ctx, &rows, r.q(`
		SELECT platform,
			COUNT(*) AS total,
			SUM(CASE WHEN is_active = ? THEN 1 ELSE 0 END) AS active
		FROM device_tokens
		GROUP BY platform
	`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to collect device token stats: %w", err)
	}

	stats := &model.DeviceTokenStats{ByPlatform: map[model.Platform]int{
		model.PlatformWeb:     0,
		model.PlatformIOS:     0,
		model.PlatformAndroid: 0,
	}}
	for _, row := range rows {
		stats.Total += row.Total
		stats.Active += row.Active
		stats.ByPlatform[row.Platform] = row.Active
	}
	return stats, nil
}
