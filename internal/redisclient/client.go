package redisclient

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps a redis connection used for webhook replay suppression.
// A nil *Client is valid and disables dedup; the database constraints
// remain the authoritative idempotency guard either way.
type Client struct {
	rdb *redis.Client
}

// New connects to redis. An empty addr returns nil, which callers treat
// as dedup disabled.
func New(ctx context.Context, addr, password string, db int) (*Client, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

// AlreadySeen reports whether an event reference was fully applied by an
// earlier delivery. Read-only: a delivery that later fails must leave no
// trace here, or the gateway's retry would be misclassified as a duplicate.
func (c *Client) AlreadySeen(ctx context.Context, reference string) (bool, error) {
	if c == nil {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, "webhook:seen:"+reference).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen records an event reference. Called only after the event's
// effects are durably applied.
func (c *Client) MarkSeen(ctx context.Context, reference string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	return c.rdb.Set(ctx, "webhook:seen:"+reference, 1, ttl).Err()
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
