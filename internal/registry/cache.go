package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "registry:subject:"
	// missingMarker caches a negative lookup.
	missingMarker = "-"
)

// CachedClient fronts a Client with a Redis cache. Cache failures fall
// through to the underlying client.
type CachedClient struct {
	next   Client
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedClient(next Client, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedClient) Lookup(ctx context.Context, holderID string) (Record, bool, error) {
	key := cacheKeyPrefix + holderID
	raw, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == missingMarker {
			return Record{}, false, nil
		}
		var rec Record
		if jsonErr := json.Unmarshal([]byte(raw), &rec); jsonErr == nil {
			return rec, true, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "registry cache read failed", "error", err)
	}

	rec, found, err := c.next.Lookup(ctx, holderID)
	if err != nil {
		return Record{}, false, err
	}
	value := missingMarker
	if found {
		encoded, encErr := json.Marshal(rec)
		if encErr != nil {
			return rec, found, nil
		}
		value = string(encoded)
	}
	if err := c.redis.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "registry cache write failed", "error", err)
	}
	return rec, found, nil
}
