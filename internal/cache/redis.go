// Package cache keeps finished conversion results in Redis.
package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Results is a content-addressed store of converted documents.
type Results struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResults connects to redisURL and verifies the connection.
func NewResults(ctx context.Context, redisURL string, ttl time.Duration) (*Results, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Results{client: c, ttl: ttl}, nil
}

func (r *Results) Close() error { return r.client.Close() }

// Ping checks the connection.
func (r *Results) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Results) resultKey(key string) string { return "docbroker:result:" + key }

// Get returns the cached result for key. A miss is (nil, false, nil).
func (r *Results) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put stores data under key with the configured TTL.
func (r *Results) Put(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, r.resultKey(key), data, r.ttl).Err()
}
