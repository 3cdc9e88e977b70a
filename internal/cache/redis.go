package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds each Redis round trip.
const DefaultTimeout = 500 * time.Millisecond

// RedisOptions tunes the Redis backend.
type RedisOptions struct {
	Timeout time.Duration
	// TTL expires a whole key once it elapses after the key's first populate.
	// Later populates do not extend it. Zero keeps keys until invalidated.
	TTL time.Duration
}

// Redis keeps each (namespace, user) key as a hash of views.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
	ttl     time.Duration
}

func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Redis{client: client, timeout: opts.Timeout, ttl: opts.TTL}
}

// Dial parses a redis:// URL and checks the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, ns Namespace, userID int64, field string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	value, err := r.client.HGet(ctx, Key(ns, userID), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, ns Namespace, userID int64, field string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := Key(ns, userID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	if r.ttl > 0 {
		pipe.ExpireNX(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, ns Namespace, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, Key(ns, userID)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}
