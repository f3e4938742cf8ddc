package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counts struct {
	Valid int `json:"valid"`
	Due   int `json:"due"`
}

func testClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestFetchPopulatesAndReuses(t *testing.T) {
	client, _ := testClient(t)
	c := NewJSONCache(client, time.Minute)

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return counts{Valid: 3, Due: 1}, nil
	}

	var got counts
	require.NoError(t, c.Fetch(context.Background(), "quotes:summary", &got, loader))
	assert.Equal(t, counts{Valid: 3, Due: 1}, got)
	assert.Equal(t, 1, calls)

	var again counts
	require.NoError(t, c.Fetch(context.Background(), "quotes:summary", &again, loader))
	assert.Equal(t, got, again)
	assert.Equal(t, 1, calls, "second fetch should be served from cache")
}

func TestFetchExpiry(t *testing.T) {
	client, mr := testClient(t)
	c := NewJSONCache(client, time.Minute)

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return counts{Valid: calls}, nil
	}

	var got counts
	require.NoError(t, c.Fetch(context.Background(), "k", &got, loader))
	mr.FastForward(2 * time.Minute)

	require.NoError(t, c.Fetch(context.Background(), "k", &got, loader))
	assert.Equal(t, 2, calls)
	assert.Equal(t, counts{Valid: 2}, got)
}

func TestInvalidateForcesReload(t *testing.T) {
	client, _ := testClient(t)
	c := NewJSONCache(client, time.Minute)

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return counts{Valid: calls}, nil
	}

	var got counts
	require.NoError(t, c.Fetch(context.Background(), "k", &got, loader))
	require.NoError(t, c.Invalidate(context.Background(), "k"))
	require.NoError(t, c.Fetch(context.Background(), "k", &got, loader))
	assert.Equal(t, 2, calls)
}

func TestFetchWithoutClientCallsLoader(t *testing.T) {
	c := NewJSONCache(nil, time.Minute)

	var got counts
	err := c.Fetch(context.Background(), "k", &got, func(ctx context.Context) (interface{}, error) {
		return counts{Due: 9}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, counts{Due: 9}, got)

	require.NoError(t, c.Invalidate(context.Background(), "k"))
}

func TestFetchLoaderError(t *testing.T) {
	client, _ := testClient(t)
	c := NewJSONCache(client, time.Minute)

	boom := errors.New("boom")
	var got counts
	err := c.Fetch(context.Background(), "k", &got, func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := client.Exists(context.Background(), "k").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "failed loads must not be cached")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "quotes:summary", Key("quotes", "summary"))
}
