package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/club-chat/chat-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// Version keys outlive any count by far; an expired version restarts at 0.
const versionTTL = 24 * time.Hour

// KEYS[1] count key, KEYS[2] version key; ARGV count, expected version, ttl ms.
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[2]) or '0'
if v ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

type RedisUnreadCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisUnreadCache builds the cache on a client shared with the pubsub driver.
func NewRedisUnreadCache(client *redis.Client, prefix string, ttl time.Duration) *RedisUnreadCache {
	if prefix == "" {
		prefix = "chat:unread"
	}
	return &RedisUnreadCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisUnreadCache) buildKey(conversationID string, reader domain.SenderClass) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, conversationID, reader)
}

func (c *RedisUnreadCache) versionKey(conversationID string) string {
	return fmt.Sprintf("%s:%s:version", c.prefix, conversationID)
}

func (c *RedisUnreadCache) Get(ctx context.Context, conversationID string, reader domain.SenderClass) (int, error) {
	n, err := c.client.Get(ctx, c.buildKey(conversationID, reader)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("failed to get from redis: %w", err)
	}
	return n, nil
}

func (c *RedisUnreadCache) Version(ctx context.Context, conversationID string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(conversationID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get version from redis: %w", err)
	}
	return v, nil
}

func (c *RedisUnreadCache) Set(ctx context.Context, conversationID string, reader domain.SenderClass, count int, version int64) (bool, error) {
	keys := []string{c.buildKey(conversationID, reader), c.versionKey(conversationID)}
	stored, err := setIfVersion.Run(ctx, c.client, keys,
		strconv.Itoa(count),
		strconv.FormatInt(version, 10),
		strconv.FormatInt(c.ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set in redis: %w", err)
	}
	return stored == 1, nil
}

func (c *RedisUnreadCache) Invalidate(ctx context.Context, conversationID string) error {
	version := c.versionKey(conversationID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			c.buildKey(conversationID, domain.SenderPlayer),
			c.buildKey(conversationID, domain.SenderProfessional),
		)
		pipe.Incr(ctx, version)
		pipe.Expire(ctx, version, versionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate in redis: %w", err)
	}
	return nil
}
