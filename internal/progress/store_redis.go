package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-progress/internal/platform/cache"
)

const (
	fieldDocument  = "doc"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)

// RedisStore is a Redis/Dragonfly-backed Repository. Each user is one hash; saves are
// compare-and-set on the version field inside a WATCH transaction.
type RedisStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed progress store. A ttl of 0 keeps documents forever.
func NewRedisStore(c *cache.Cache, ttl time.Duration) (*RedisStore, error) {
	if c == nil || c.Client == nil {
		return nil, fmt.Errorf("cache client is nil")
	}
	return &RedisStore{cache: c, ttl: ttl}, nil
}

func (s *RedisStore) key(userID string) string {
	return s.cache.Key("progress", userID)
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*Document, error) {
	fields, err := s.cache.Client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load progress: bad version %q: %w", fields[fieldVersion], err)
	}
	doc := &Document{
		UserID:  userID,
		Data:    []byte(fields[fieldDocument]),
		Version: version,
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err == nil {
		doc.UpdatedAt = ts
	}
	return doc, nil
}

func (s *RedisStore) Save(ctx context.Context, userID string, data []byte, expectedVersion int64) (int64, error) {
	key := s.key(userID)
	var next int64

	err := s.cache.Client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &VersionConflictError{Expected: expectedVersion, Current: current}
		}

		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldDocument, data,
				fieldVersion, next,
				fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
			)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key between WATCH and EXEC.
		current, verr := readVersion(ctx, s.cache.Client, key)
		if verr != nil {
			return 0, fmt.Errorf("save progress: %w", verr)
		}
		return 0, &VersionConflictError{Expected: expectedVersion, Current: current}
	}
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return 0, conflict
	}
	if err != nil {
		return 0, fmt.Errorf("save progress: %w", err)
	}
	return next, nil
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func readVersion(ctx context.Context, c hashGetter, key string) (int64, error) {
	v, err := c.HGet(ctx, key, fieldVersion).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read progress version: %w", err)
	}
	return v, nil
}

// HealthCheck verifies the cache connection is alive.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.cache.HealthCheck(ctx)
}
