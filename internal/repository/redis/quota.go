package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/redis/go-redis/v9"
)

const quotaPrefix = "quota:"

// admitScript increments the counter only while it is below the limit.
// The window is applied on the first increment, giving a fixed window.
var admitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, current}
end
local n = redis.call('INCR', KEYS[1])
local window = tonumber(ARGV[2])
if window > 0 and n == 1 then
	redis.call('PEXPIRE', KEYS[1], window)
end
return {1, n}
`)

var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
	return 0
end
return redis.call('DECR', KEYS[1])
`)

// QuotaCounter keeps per-tenant usage counters shared by every gateway instance
type QuotaCounter struct {
	client *Client
}

// NewQuotaCounter creates a new quota counter
func NewQuotaCounter(client *Client) *QuotaCounter {
	return &QuotaCounter{client: client}
}

func quotaKey(tenantID string, resource domain.QuotaResource) string {
	return fmt.Sprintf("%s%s:%s", quotaPrefix, tenantID, resource)
}

// Admit atomically checks the counter against limit and increments it when
// there is room. A zero window keeps the counter until it is released.
func (q *QuotaCounter) Admit(ctx context.Context, tenantID string, resource domain.QuotaResource, limit int, window time.Duration) (bool, int64, error) {
	res, err := admitScript.Run(ctx, q.client.rdb,
		[]string{quotaKey(tenantID, resource)},
		limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to execute quota check: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected quota script reply: %v", res)
	}
	return res[0] == 1, res[1], nil
}

// Release decrements the counter, never below zero
func (q *QuotaCounter) Release(ctx context.Context, tenantID string, resource domain.QuotaResource) (int64, error) {
	n, err := releaseScript.Run(ctx, q.client.rdb, []string{quotaKey(tenantID, resource)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to release quota: %w", err)
	}
	return n, nil
}

// Get returns the current counter value
func (q *QuotaCounter) Get(ctx context.Context, tenantID string, resource domain.QuotaResource) (int64, error) {
	n, err := q.client.rdb.Get(ctx, quotaKey(tenantID, resource)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return n, nil
}

// Reset clears the counter
func (q *QuotaCounter) Reset(ctx context.Context, tenantID string, resource domain.QuotaResource) error {
	return q.client.rdb.Del(ctx, quotaKey(tenantID, resource)).Err()
}
