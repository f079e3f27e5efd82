package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// Presence keeps one sorted set per user whose members are connection ids
// scored by their expiry time. A user is online while any member is unexpired.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{client: client, ttl: ttl, now: time.Now}
}

func presenceKey(userID string) string { return presenceKeyPrefix + userID }

// Join adds or refreshes connID for userID.
func (p *Presence) Join(ctx context.Context, userID, connID string) error {
	key := presenceKey(userID)
	expires := p.now().Add(p.ttl)

	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expires.Unix()), Member: connID})
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

func (p *Presence) Leave(ctx context.Context, userID, connID string) error {
	if err := p.client.ZRem(ctx, presenceKey(userID), connID).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

func (p *Presence) Online(ctx context.Context, userID string) (bool, error) {
	key := presenceKey(userID)
	cutoff := strconv.FormatInt(p.now().Unix(), 10)

	pipe := p.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to read presence: %w", err)
	}
	return card.Val() > 0, nil
}
