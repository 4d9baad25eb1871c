package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionCachePrefix = "session:"

// minVersionTTL keeps the append token alive past any in-flight fill
const minVersionTTL = time.Minute

// fillScript replaces the cached history unless an append moved the
// version token after the caller read it.
var fillScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or ''
if current ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('RPUSH', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// appendScript moves the version token and extends a cached history.
// An absent list stays absent; a list over the limit is dropped.
var appendScript = redis.NewScript(`
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[4])
local n = redis.call('RPUSHX', KEYS[1], ARGV[1])
if n == 0 then
	return 0
end
local ttl = tonumber(ARGV[3])
if n > tonumber(ARGV[5]) or ttl <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
redis.call('PEXPIRE', KEYS[1], ttl)
return n
`)

// SessionCache implements domain.SessionCache on Redis.
// A session's message list is cached whole, so histories longer than
// messageLimit are always served from the durable store.
type SessionCache struct {
	client       *Client
	messageLimit int
}

// NewSessionCache creates a new session cache
func NewSessionCache(client *Client, messageLimit int) *SessionCache {
	return &SessionCache{client: client, messageLimit: messageLimit}
}

func sessionKey(id string) string {
	return sessionCachePrefix + id
}

func messagesKey(sessionID string) string {
	return sessionCachePrefix + sessionID + ":messages"
}

func messagesVersionKey(sessionID string) string {
	return sessionCachePrefix + sessionID + ":messages:version"
}

// GetSession returns nil, nil on a cache miss
func (c *SessionCache) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	data, err := c.client.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to read cached session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// SetSession caches the session for ttl. A non-positive ttl is a no-op.
func (c *SessionCache) SetSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := c.client.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, ttl)
	pipe.PExpire(ctx, messagesKey(session.ID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// DeleteSession drops the session and its message list
func (c *SessionCache) DeleteSession(ctx context.Context, id string) error {
	if err := c.client.rdb.Del(ctx, sessionKey(id), messagesKey(id), messagesVersionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// GetMessages reads a page of the cached history. ok is false when nothing is cached.
func (c *SessionCache) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.Message, bool, error) {
	key := messagesKey(sessionID)
	start := int64(max(offset, 0))
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}

	pipe := c.client.rdb.Pipeline()
	lenCmd := pipe.LLen(ctx, key)
	rangeCmd := pipe.LRange(ctx, key, start, stop)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("failed to read cached messages: %w", err)
	}

	if lenCmd.Val() == 0 {
		return nil, false, nil
	}

	raw := rangeCmd.Val()
	messages := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, true, nil
}

// MessagesVersion returns the current append token, empty when none is held
func (c *SessionCache) MessagesVersion(ctx context.Context, sessionID string) (string, error) {
	v, err := c.client.rdb.Get(ctx, messagesVersionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read message version: %w", err)
	}
	return v, nil
}

// SetMessages replaces the cached history if version still matches the
// append token. stored is false when the fill was skipped. Histories over
// the limit are not cached.
func (c *SessionCache) SetMessages(ctx context.Context, sessionID, version string, messages []domain.Message, ttl time.Duration) (bool, error) {
	if ttl <= 0 || len(messages) == 0 || len(messages) > c.messageLimit {
		return false, nil
	}

	args := make([]any, 0, len(messages)+2)
	args = append(args, version, ttl.Milliseconds())
	for i := range messages {
		data, err := json.Marshal(&messages[i])
		if err != nil {
			return false, fmt.Errorf("failed to marshal message: %w", err)
		}
		args = append(args, data)
	}

	n, err := fillScript.Run(ctx, c.client.rdb,
		[]string{messagesKey(sessionID), messagesVersionKey(sessionID)},
		args...,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to cache messages: %w", err)
	}
	return n == 1, nil
}

// AppendMessage moves the version token and extends an already cached
// history. An absent list stays absent.
func (c *SessionCache) AppendMessage(ctx context.Context, sessionID string, message *domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	token := message.ID
	if token == "" {
		token = uuid.NewString()
	}

	err = appendScript.Run(ctx, c.client.rdb,
		[]string{messagesKey(sessionID), messagesVersionKey(sessionID)},
		data, token, ttl.Milliseconds(), max(ttl, minVersionTTL).Milliseconds(), c.messageLimit,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to append cached message: %w", err)
	}
	return nil
}
