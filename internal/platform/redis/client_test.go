package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundops/internal/platform/config"
)

func TestOpen_NotConfigured(t *testing.T) {
	client, err := Open(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestOpen_PingsAndProbes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := Open(ctx, config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	probe := Probe(client)
	require.NoError(t, probe(ctx))

	mr.Close()
	assert.Error(t, probe(ctx))
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), config.RedisConfig{URL: "redis://" + addr, DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts, err := Options(config.RedisConfig{
		URL:         "redis://cache:6380/2",
		PoolSize:    7,
		ReadTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Zero(t, opts.MinIdleConns, "unset values keep the library default")

	_, err = Options(config.RedisConfig{URL: "http://nope"})
	assert.Error(t, err)
}
