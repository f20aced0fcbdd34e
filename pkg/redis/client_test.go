package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glassapp/glass-server/pkg/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCmdable struct {
	counts      map[string]int64
	expirations map[string]time.Duration
	incrErr     error
}

func newFakeCmdable() *fakeCmdable {
	return &fakeCmdable{
		counts:      map[string]int64{},
		expirations: map[string]time.Duration{},
	}
}

func (f *fakeCmdable) Ping(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeCmdable) Incr(ctx context.Context, key string) *goredis.IntCmd {
	if f.incrErr != nil {
		return goredis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return goredis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCmdable) Expire(ctx context.Context, key string, ttl time.Duration) *goredis.BoolCmd {
	f.expirations[key] = ttl
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeCmdable) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	for _, k := range keys {
		delete(f.counts, k)
	}
	return goredis.NewIntResult(int64(len(keys)), nil)
}

func TestOptionsFromConfigRequiresEndpoint(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)
}

func TestOptionsFromConfigParsesURL(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@localhost:6379/2", PoolSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
}

func TestIncrWithTTLSetsExpiryOnFirstHit(t *testing.T) {
	fake := newFakeCmdable()
	client := &Client{store: fake}

	count, err := client.IncrWithTTL(context.Background(), "glass:rate_limit:x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, fake.expirations["glass:rate_limit:x"])

	count, err = client.IncrWithTTL(context.Background(), "glass:rate_limit:x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFixedWindowAllowBlocksOverLimit(t *testing.T) {
	fake := newFakeCmdable()
	client := &Client{store: fake}

	for i := 0; i < 3; i++ {
		allowed, _, err := client.FixedWindowAllow(context.Background(), "activate:ip:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, count, err := client.FixedWindowAllow(context.Background(), "activate:ip:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(4), count)
}

func TestIncrPropagatesErrors(t *testing.T) {
	fake := newFakeCmdable()
	fake.incrErr = errors.New("connection reset")
	client := &Client{store: fake}

	_, err := client.Incr(context.Background(), "k")
	assert.Error(t, err)
}

func TestRateLimitKeyNamespacing(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "glass:rate_limit:activate:key:abc", client.RateLimitKey("activate:key:abc"))
}
