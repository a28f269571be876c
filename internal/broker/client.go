package broker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/xerrors"
)

// Client is the narrow subset of a Redis-like broker the sharder needs:
// blocking list pop and right push. It exists so the bridge and producer
// can be exercised against a fake in tests without a live broker.
type Client interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error)
	RPush(ctx context.Context, key string, values ...interface{}) error
}

// GoRedisClient adapts *redis.Client to Client.
type GoRedisClient struct {
	rdb *redis.Client
}

var _ Client = (*GoRedisClient)(nil)

// Dial connects to the broker at addr, failing fast with a ping so
// bootstrap errors (spec.md §7 "Configuration errors ... In initial
// connect, fatal") surface immediately rather than on first use.
func Dial(ctx context.Context, addr string) (*GoRedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()

		return nil, xerrors.Errorf("broker dial %s: %w", addr, err)
	}

	return &GoRedisClient{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *GoRedisClient) Close() error {
	return c.rdb.Close()
}

// BLPop blocks until an element is available at one of keys, or timeout
// elapses. A timeout of 0 blocks indefinitely (spec.md §4.2).
func (c *GoRedisClient) BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	return c.rdb.BLPop(ctx, timeout, keys...).Result()
}

// RPush appends values to the list at key.
func (c *GoRedisClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	return c.rdb.RPush(ctx, key, values...).Err()
}
