// Package cache abstracts the key-value store shared by the duel services.
package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the duel services rely on.
type Cache interface {
	BasicOps
	HashOps
	PipelineOps

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps defines key-value operations. Get returns "" and no error for a missing key.
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores a value; a zero ttl never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX reports whether the key was created.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// CounterOps defines integer counters with expiry.
type CounterOps interface {
	Incr(ctx context.Context, key string) (int64, error)
	// TTL returns a negative duration for keys without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// HashOps defines hash operations.
type HashOps interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error
	// HMGet returns one entry per field, nil for missing fields.
	HMGet(ctx context.Context, key string, fields ...string) ([]interface{}, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
}

// PipelineOps batches writes into one round trip.
type PipelineOps interface {
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues commands executed when the pipeline function returns.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	HSet(key, field string, value interface{}) error
	HIncrBy(key, field string, incr int64) error
	Expire(key string, ttl time.Duration) error
}
