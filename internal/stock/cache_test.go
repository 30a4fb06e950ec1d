package stock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*BalanceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBalanceCache(client, time.Minute), mr
}

func TestBalanceCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	key := BinKey{ItemID: 1, LocationID: 10}

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)

	cache.Set(ctx, Balance{ItemID: 1, LocationID: 10, Qty: d("16"), Value: d("96"), Rate: d("6")})

	bal, ok := cache.Get(ctx, key)
	require.True(t, ok)
	require.Equal(t, int64(1), bal.ItemID)
	require.Equal(t, int64(10), bal.LocationID)
	require.True(t, bal.Qty.Equal(d("16")))
	require.True(t, bal.Value.Equal(d("96")))
	require.True(t, bal.Rate.Equal(d("6")))
}

func TestBalanceCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	key := BinKey{ItemID: 1, LocationID: 10}

	cache.Set(ctx, Balance{ItemID: 1, LocationID: 10, Qty: d("5"), Value: d("25"), Rate: d("5")})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)
}

func TestBalanceCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, Balance{ItemID: 1, LocationID: 10, Qty: d("5"), Value: d("25"), Rate: d("5")})
	cache.Set(ctx, Balance{ItemID: 1, LocationID: 11, Qty: d("2"), Value: d("10"), Rate: d("5")})

	cache.Invalidate(ctx, []BinKey{{ItemID: 1, LocationID: 10}})

	_, ok := cache.Get(ctx, BinKey{ItemID: 1, LocationID: 10})
	require.False(t, ok)
	_, ok = cache.Get(ctx, BinKey{ItemID: 1, LocationID: 11})
	require.True(t, ok)
}

func TestBalanceCacheNilClientDisabled(t *testing.T) {
	cache := NewBalanceCache(nil, time.Minute)
	require.Nil(t, cache)

	// All operations are safe no-ops on a nil cache.
	ctx := context.Background()
	_, ok := cache.Get(ctx, BinKey{ItemID: 1, LocationID: 10})
	require.False(t, ok)
	cache.Set(ctx, Balance{ItemID: 1, LocationID: 10})
	cache.Invalidate(ctx, []BinKey{{ItemID: 1, LocationID: 10}})
}

func TestBalanceCacheCorruptPayloadTreatedAsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("stock:bin:1:10", "not-json"))
	_, ok := cache.Get(ctx, BinKey{ItemID: 1, LocationID: 10})
	require.False(t, ok)
}
