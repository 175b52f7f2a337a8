package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisOptions configures a Redis-backed cache.
type RedisOptions struct {
	Address   string
	Database  int
	KeyPrefix string

	// MaxIdle caps idle pooled connections. Zero uses 8.
	MaxIdle int
}

// Redis is a cache backed by a Redis server through a redigo pool.
type Redis struct {
	pool   *redis.Pool
	prefix string
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a pooled Redis cache. Connections are dialed lazily.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Address == "" {
		return nil, errors.New("redis address is required")
	}
	maxIdle := opts.MaxIdle
	if maxIdle == 0 {
		maxIdle = 8
	}
	pool := &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", opts.Address,
				redis.DialDatabase(opts.Database),
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(time.Second),
				redis.DialWriteTimeout(time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return NewRedisFromPool(pool, opts.KeyPrefix), nil
}

// NewRedisFromPool wraps an existing pool.
func NewRedisFromPool(pool *redis.Pool, prefix string) *Redis {
	return &Redis{pool: pool, prefix: prefix}
}

// Close closes the pool.
func (r *Redis) Close() error {
	return r.pool.Close()
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

// Get returns the cached value.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := redis.Bytes(r.do(ctx, "GET", r.key(key)))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value with a millisecond-precision expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := r.do(ctx, "SET", r.key(key), value, "PX", ttl.Milliseconds()); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Touch resets the expiry. Missing keys are ignored.
func (r *Redis) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if _, err := r.do(ctx, "PEXPIRE", r.key(key), ttl.Milliseconds()); err != nil {
		return fmt.Errorf("redis PEXPIRE %s: %w", key, err)
	}
	return nil
}
