package quota

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envTestRedisAddr = "DRAGONBOT_TEST_REDIS_ADDR"

func newTestRedisClient(t testing.TB) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv(envTestRedisAddr)
	if addr == "" {
		t.Skipf("%s not set", envTestRedisAddr)
	}
	cli := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	require.NoError(t, cli.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cli := newTestRedisClient(t)

	store := NewRedisStore(cli, "dragonbot:test", t.Name())
	t.Cleanup(func() { _ = cli.Del(context.Background(), store.Key()).Err() })

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	want := State{Date: "2024-06-01", Count: 9}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := cli.Get(ctx, store.Key()).Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-06-01","count":9}`, raw)
}

func TestRedisStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	cli := newTestRedisClient(t)

	store := NewRedisStore(cli, "dragonbot:test", t.Name())
	t.Cleanup(func() { _ = cli.Del(context.Background(), store.Key()).Err() })

	require.NoError(t, cli.Set(ctx, store.Key(), "{{", 0).Err())
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestNewRedisStore_Key(t *testing.T) {
	t.Parallel()
	store := NewRedisStore(nil, "", "")
	assert.Equal(t, "dragonbot:quota:ai", store.Key())
}
