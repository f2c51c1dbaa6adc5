package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helios-research/flow-data/internal/config"
	"github.com/helios-research/flow-data/internal/model"
)

// RedisCache is the hot cache. Snapshot records live in hashes overwritten in
// place; bounded-log records live in capped streams trimmed with MAXLEN ~.
type RedisCache struct {
	client *redis.Client
	prefix string
	maxLen int64
	logTTL time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, rcfg config.RedisConfig, ccfg config.CacheConfig, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rcfg.Host, rcfg.Port),
		Password: rcfg.Password,
		DB:       rcfg.DB,
		PoolSize: rcfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: rcfg.Prefix,
		maxLen: ccfg.StreamMaxLen,
		logTTL: ccfg.LogTTL,
		logger: logger,
	}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) snapshotKey(rec model.Record) string {
	return fmt.Sprintf("%s:snap:%s:%s", c.prefix, rec.Dataset, rec.Scope)
}

func (c *RedisCache) logKey(rec model.Record) string {
	return fmt.Sprintf("%s:log:%s:%s", c.prefix, rec.Dataset, rec.Scope)
}

// PutSnapshot overwrites the latest value for the record's dataset/scope.
func (c *RedisCache) PutSnapshot(ctx context.Context, rec model.Record, hash string) error {
	key := c.snapshotKey(rec)
	err := c.client.HSet(ctx, key, map[string]any{
		"payload":     rec.Payload,
		"hash":        hash,
		"source":      string(rec.Source),
		"observed_at": rec.ObservedAt.UnixMilli(),
		"fetched_at":  rec.FetchedAt.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// AppendLog appends the record to the capped stream for its dataset/scope.
// The stream is trimmed approximately so trimming stays O(1).
func (c *RedisCache) AppendLog(ctx context.Context, rec model.Record, hash string) error {
	key := c.logKey(rec)
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: c.maxLen,
		Approx: true,
		Values: map[string]any{
			"payload":     rec.Payload,
			"hash":        hash,
			"source":      string(rec.Source),
			"observed_at": rec.ObservedAt.UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", key, err)
	}

	if c.logTTL > 0 {
		if err := c.client.Expire(ctx, key, c.logTTL).Err(); err != nil {
			c.logger.Warn("set log ttl failed", "key", key, "error", err)
		}
	}
	return nil
}

// Snapshot is a decoded hot-cache snapshot entry.
type Snapshot struct {
	Payload    []byte
	Hash       string
	Source     model.Source
	ObservedAt time.Time
	FetchedAt  time.Time
}

// GetSnapshot reads the latest snapshot for a dataset/scope. Returns
// redis.Nil via the wrapped error when no snapshot exists.
func (c *RedisCache) GetSnapshot(ctx context.Context, dataset, scope string) (Snapshot, error) {
	key := fmt.Sprintf("%s:snap:%s:%s", c.prefix, dataset, scope)
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", key, redis.Nil)
	}

	snap := Snapshot{
		Payload: []byte(fields["payload"]),
		Hash:    fields["hash"],
		Source:  model.Source(fields["source"]),
	}
	if ms, err := strconv.ParseInt(fields["observed_at"], 10, 64); err == nil {
		snap.ObservedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["fetched_at"], 10, 64); err == nil {
		snap.FetchedAt = time.UnixMilli(ms)
	}
	return snap, nil
}

// TailLog reads up to count newest entries from the bounded log for a
// dataset/scope, newest first.
func (c *RedisCache) TailLog(ctx context.Context, dataset, scope string, count int64) ([]Snapshot, error) {
	key := fmt.Sprintf("%s:log:%s:%s", c.prefix, dataset, scope)
	msgs, err := c.client.XRevRangeN(ctx, key, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", key, err)
	}

	out := make([]Snapshot, 0, len(msgs))
	for _, m := range msgs {
		entry := Snapshot{}
		if s, ok := m.Values["payload"].(string); ok {
			entry.Payload = []byte(s)
		}
		if s, ok := m.Values["hash"].(string); ok {
			entry.Hash = s
		}
		if s, ok := m.Values["source"].(string); ok {
			entry.Source = model.Source(s)
		}
		if s, ok := m.Values["observed_at"].(string); ok {
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				entry.ObservedAt = time.UnixMilli(ms)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
