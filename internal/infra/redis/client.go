// Package redis holds the coordination surface shared between mirror
// instances: the cycle locks, the latest/indexed block checkpoints read
// by health checks, and cache invalidation for entity read caches.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checkpoint keys. Health checks compare the chain tip against the most
// recently indexed block to compute lag.
const (
	keyLatestBlockNumber  = "latest_block_number"
	keyLatestBlockHash    = "latest_block_hash"
	keyIndexedBlockNumber = "latest_indexed_block_number"
	keyIndexedBlockHash   = "latest_indexed_block_hash"
)

// Client wraps Redis operations for cycle coordination.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

func cacheKey(entity string, id int64) string {
	return fmt.Sprintf("cache:%s:%d", entity, id)
}

// AcquireLock attempts to take the named cycle lock without blocking.
// The TTL bounds how long a crashed holder can wedge the cycle.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(name), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the named cycle lock.
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	return c.rdb.Del(ctx, lockKey(name)).Err()
}

// SetLatestBlock publishes the chain tip seen at cycle start.
func (c *Client) SetLatestBlock(ctx context.Context, number int64, hash string) error {
	if err := c.rdb.Set(ctx, keyLatestBlockNumber, strconv.FormatInt(number, 10), 0).Err(); err != nil {
		return fmt.Errorf("set latest block number: %w", err)
	}
	if err := c.rdb.Set(ctx, keyLatestBlockHash, hash, 0).Err(); err != nil {
		return fmt.Errorf("set latest block hash: %w", err)
	}
	return nil
}

// PublishIndexed records the most recently committed block.
func (c *Client) PublishIndexed(ctx context.Context, number int64, hash string) error {
	if err := c.rdb.Set(ctx, keyIndexedBlockNumber, strconv.FormatInt(number, 10), 0).Err(); err != nil {
		return fmt.Errorf("set indexed block number: %w", err)
	}
	if err := c.rdb.Set(ctx, keyIndexedBlockHash, hash, 0).Err(); err != nil {
		return fmt.Errorf("set indexed block hash: %w", err)
	}
	return nil
}

// LatestBlockNumber returns the published chain tip, 0 when unset.
func (c *Client) LatestBlockNumber(ctx context.Context) (int64, error) {
	return c.getInt(ctx, keyLatestBlockNumber)
}

// IndexedBlockNumber returns the published indexed checkpoint, 0 when unset.
func (c *Client) IndexedBlockNumber(ctx context.Context) (int64, error) {
	return c.getInt(ctx, keyIndexedBlockNumber)
}

func (c *Client) getInt(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s failed: %w", key, err)
	}
	return strconv.ParseInt(val, 10, 64)
}

// InvalidateUsers drops cached user entries.
func (c *Client) InvalidateUsers(ctx context.Context, ids []int64) error {
	return c.invalidate(ctx, "user", ids)
}

// InvalidateTracks drops cached track entries.
func (c *Client) InvalidateTracks(ctx context.Context, ids []int64) error {
	return c.invalidate(ctx, "track", ids)
}

// InvalidatePlaylists drops cached playlist entries.
func (c *Client) InvalidatePlaylists(ctx context.Context, ids []int64) error {
	return c.invalidate(ctx, "playlist", ids)
}

func (c *Client) invalidate(ctx context.Context, entity string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(entity, id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidation (%s) failed: %w", entity, err)
	}
	return nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
