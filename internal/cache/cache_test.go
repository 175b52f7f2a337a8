package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	// Addr is unusable once s is closed.
	addr := s.Addr()
	c := NewRedisFromPool(&redis.Pool{
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}, "coldline:")
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestRedis_SetGet(t *testing.T) {
	c, s := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "p/1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "p/1", []byte("payload"), time.Hour))

	v, ok, err := c.Get(ctx, "p/1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), v)

	assert.True(t, s.Exists("coldline:p/1"), "keys carry the prefix")
}

func TestRedis_Expiry(t *testing.T) {
	c, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "p/1", []byte("payload"), time.Hour))

	s.FastForward(59 * time.Minute)
	require.NoError(t, c.Touch(ctx, "p/1", time.Hour))

	s.FastForward(59 * time.Minute)
	_, ok, err := c.Get(ctx, "p/1")
	require.NoError(t, err)
	assert.True(t, ok, "touch extended the entry")

	s.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "p/1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_TouchMissingKey(t *testing.T) {
	c, _ := newTestRedis(t)
	assert.NoError(t, c.Touch(context.Background(), "nope", time.Hour))
}

func TestRedis_ServerDown(t *testing.T) {
	c, s := newTestRedis(t)
	s.Close()

	_, _, err := c.Get(context.Background(), "p/1")
	assert.Error(t, err)
	assert.Error(t, c.Set(context.Background(), "p/1", []byte("x"), time.Hour))
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("boom")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("boom")
}

func (failingCache) Touch(context.Context, string, time.Duration) error {
	return errors.New("boom")
}

func TestSafe_FailuresAreMisses(t *testing.T) {
	c := NewSafe(failingCache{}, nil)
	ctx := context.Background()

	v, ok, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.NoError(t, c.Touch(ctx, "k", time.Minute))
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisOptions{})
	assert.Error(t, err)
}
