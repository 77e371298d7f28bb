package authz

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDecisionPrefix = "authz:decision:"
	redisSetPrefix      = "authz:perms:"
)

// RedisCache is a DecisionCache shared across application processes, so a
// mutation committed by one instance invalidates cached decisions held by
// all of them. Read and write failures degrade to cache misses; only
// invalidation reports its error, since that is the path with a bounded
// staleness contract.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a redis backed decision cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

var _ DecisionCache = (*RedisCache)(nil)

func (c *RedisCache) decisionKey(userID int64, permission string) string {
	return redisDecisionPrefix + strconv.FormatInt(userID, 10) + ":" + permission
}

func (c *RedisCache) setKey(userID int64) string {
	return redisSetPrefix + strconv.FormatInt(userID, 10)
}

// GetDecision returns a cached point decision if present.
func (c *RedisCache) GetDecision(ctx context.Context, userID int64, permission string) (bool, bool) {
	value, err := c.client.Get(ctx, c.decisionKey(userID, permission)).Result()
	if err != nil {
		return false, false
	}
	return value == "1", true
}

// SetDecision stores a point decision with the cache TTL.
func (c *RedisCache) SetDecision(ctx context.Context, userID int64, permission string, allowed bool) {
	value := "0"
	if allowed {
		value = "1"
	}
	_ = c.client.Set(ctx, c.decisionKey(userID, permission), value, c.ttl).Err()
}

// GetPermissionSet returns the cached full permission set if present.
func (c *RedisCache) GetPermissionSet(ctx context.Context, userID int64) ([]string, bool) {
	payload, err := c.client.Get(ctx, c.setKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var permissions []string
	if err := json.Unmarshal(payload, &permissions); err != nil {
		return nil, false
	}
	return permissions, true
}

// SetPermissionSet stores the full permission set with the cache TTL.
func (c *RedisCache) SetPermissionSet(ctx context.Context, userID int64, permissions []string) {
	payload, err := json.Marshal(permissions)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.setKey(userID), payload, c.ttl).Err()
}

// InvalidateUser removes both cache shapes for the user.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) error {
	keys := []string{c.setKey(userID)}
	match := redisDecisionPrefix + strconv.FormatInt(userID, 10) + ":*"
	iter := c.client.Scan(ctx, 0, match, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.client.Del(ctx, keys...).Err()
}

// Purge removes every cached authorization entry.
func (c *RedisCache) Purge(ctx context.Context) error {
	for _, match := range []string{redisDecisionPrefix + "*", redisSetPrefix + "*"} {
		iter := c.client.Scan(ctx, 0, match, 0).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
