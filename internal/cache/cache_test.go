package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// CacheTestSuite runs the same contract against every backend.
type CacheTestSuite struct {
	suite.Suite
	newCache func(t *testing.T) Cache
	cache    Cache
	ctx      context.Context
}

func (suite *CacheTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.cache = suite.newCache(suite.T())
}

func (suite *CacheTestSuite) TestMissOnEmpty() {
	_, ok, err := suite.cache.Get(suite.ctx, Transactions, 1, "page")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)
}

func (suite *CacheTestSuite) TestSetThenGet() {
	require.NoError(suite.T(), suite.cache.Set(suite.ctx, Transactions, 1, "page", []byte(`{"a":1}`)))

	value, ok, err := suite.cache.Get(suite.ctx, Transactions, 1, "page")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.JSONEq(suite.T(), `{"a":1}`, string(value))
}

func (suite *CacheTestSuite) TestKeysAreScopedByNamespaceAndUser() {
	require.NoError(suite.T(), suite.cache.Set(suite.ctx, Transactions, 1, "f", []byte("tx-1")))
	require.NoError(suite.T(), suite.cache.Set(suite.ctx, Analytics, 1, "f", []byte("an-1")))
	require.NoError(suite.T(), suite.cache.Set(suite.ctx, Transactions, 2, "f", []byte("tx-2")))

	require.NoError(suite.T(), suite.cache.Delete(suite.ctx, Transactions, 1))

	_, ok, _ := suite.cache.Get(suite.ctx, Transactions, 1, "f")
	assert.False(suite.T(), ok, "deleted key should be absent")
	value, ok, _ := suite.cache.Get(suite.ctx, Analytics, 1, "f")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), "an-1", string(value))
	value, ok, _ = suite.cache.Get(suite.ctx, Transactions, 2, "f")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), "tx-2", string(value))
}

func (suite *CacheTestSuite) TestDeleteRemovesAllFields() {
	for _, field := range []string{"p1", "p2", "p3"} {
		require.NoError(suite.T(), suite.cache.Set(suite.ctx, Transactions, 5, field, []byte(field)))
	}
	require.NoError(suite.T(), suite.cache.Delete(suite.ctx, Transactions, 5))

	for _, field := range []string{"p1", "p2", "p3"} {
		_, ok, err := suite.cache.Get(suite.ctx, Transactions, 5, field)
		require.NoError(suite.T(), err)
		assert.False(suite.T(), ok, "field %s should be gone", field)
	}
}

func (suite *CacheTestSuite) TestDeleteAbsentIsNoop() {
	assert.NoError(suite.T(), suite.cache.Delete(suite.ctx, Analytics, 99))
	assert.NoError(suite.T(), suite.cache.Delete(suite.ctx, Analytics, 99))
}

func TestMemoryCacheSuite(t *testing.T) {
	suite.Run(t, &CacheTestSuite{newCache: func(*testing.T) Cache { return NewMemory(0) }})
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, &CacheTestSuite{newCache: func(t *testing.T) Cache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedis(client, RedisOptions{})
	}})
}

func TestRedisUsesNamespacedHashKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedis(client, RedisOptions{TTL: time.Minute})

	require.NoError(t, c.Set(context.Background(), Analytics, 42, "summary", []byte("v")))

	assert.True(t, mr.Exists("analytics:42"))
	assert.Equal(t, "v", mr.HGet("analytics:42", "summary"))
	assert.Equal(t, time.Minute, mr.TTL("analytics:42"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(context.Background(), Analytics, 42, "summary")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewRedis(client, RedisOptions{Timeout: 100 * time.Millisecond})
	mr.Close()

	_, _, err := c.Get(context.Background(), Transactions, 1, "f")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, c.Delete(context.Background(), Transactions, 1), ErrUnavailable)
}

func TestMemoryTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(context.Background(), Transactions, 1, "f", []byte("v")))
	assert.Equal(t, 1, m.Len())

	now = now.Add(time.Minute)
	_, ok, err := m.Get(context.Background(), Transactions, 1, "f")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryTTLNotExtendedByLaterViews(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, Transactions, 1, "stale", []byte("v")))
	for i := 0; i < 3; i++ {
		now = now.Add(20 * time.Second)
		require.NoError(t, m.Set(ctx, Transactions, 1, "fresh", []byte("v")))
	}

	_, ok, err := m.Get(ctx, Transactions, 1, "stale")
	require.NoError(t, err)
	assert.False(t, ok, "a view must not outlive the ttl")
}

func TestRedisTTLNotExtendedByLaterViews(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedis(client, RedisOptions{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Transactions, 1, "stale", []byte("v")))
	mr.FastForward(40 * time.Second)
	require.NoError(t, c.Set(ctx, Transactions, 1, "fresh", []byte("v")))
	assert.Equal(t, 20*time.Second, mr.TTL("transactions:1"))

	mr.FastForward(21 * time.Second)
	_, ok, err := c.Get(ctx, Transactions, 1, "stale")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldIsStable(t *testing.T) {
	assert.Equal(t, Field("1", "10", "food"), Field("1", "10", "food"))
	assert.NotEqual(t, Field("1", "10", "food"), Field("1", "10", "fo", "od"))
	assert.Equal(t, "transactions:7", Key(Transactions, 7))
}
