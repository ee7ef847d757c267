// Package cache holds the read-side page cache and purges it after the
// catalog changes.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Pages stores serialized read responses. A failed Get is a miss.
type Pages interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Invalidate(context.Context) (int64, error)          { return 0, nil }
func (Nop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) {}

// RedisInvalidator deletes every key under Prefixes.
type RedisInvalidator struct {
	Client    redis.UniversalClient
	Prefixes  []string
	ScanCount int64
	Log       *zap.Logger
}

func NewRedisInvalidator(client redis.UniversalClient, prefixes []string, log *zap.Logger) *RedisInvalidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisInvalidator{Client: client, Prefixes: prefixes, ScanCount: 500, Log: log}
}

func (r *RedisInvalidator) Invalidate(ctx context.Context) (int64, error) {
	var total int64
	for _, prefix := range r.Prefixes {
		iter := r.Client.Scan(ctx, 0, prefix+"*", r.ScanCount).Iterator()
		batch := make([]string, 0, 64)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == cap(batch) {
				n, err := r.Client.Del(ctx, batch...).Result()
				if err != nil {
					return total, err
				}
				total += n
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return total, err
		}
		if len(batch) > 0 {
			n, err := r.Client.Del(ctx, batch...).Result()
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	r.Log.Info("read caches invalidated", zap.Strings("prefixes", r.Prefixes), zap.Int64("keys", total))
	return total, nil
}

// RedisPages keeps read responses in Redis with a per-key TTL.
type RedisPages struct {
	Client redis.UniversalClient
	Log    *zap.Logger
}

func (r *RedisPages) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && r.Log != nil {
			r.Log.Warn("read cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return b, true
}

func (r *RedisPages) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := r.Client.Set(ctx, key, val, ttl).Err(); err != nil && r.Log != nil {
		r.Log.Warn("read cache set failed", zap.String("key", key), zap.Error(err))
	}
}
