package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BalanceCache is a redis read-through cache for latest-balance lookups. It is
// never authoritative: entries are short-lived and busted on every submission
// or cancellation touching the key, and a miss simply falls through to the bin
// projection.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache constructs the cache. A nil client disables caching.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

type cachedBalance struct {
	Qty   decimal.Decimal `json:"qty"`
	Value decimal.Decimal `json:"value"`
	Rate  decimal.Decimal `json:"rate"`
}

func balanceKey(key BinKey) string {
	return fmt.Sprintf("stock:bin:%d:%d", key.ItemID, key.LocationID)
}

// Get returns a cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, key BinKey) (Balance, bool) {
	if c == nil {
		return Balance{}, false
	}
	raw, err := c.client.Get(ctx, balanceKey(key)).Bytes()
	if err != nil {
		return Balance{}, false
	}
	var cached cachedBalance
	if err := json.Unmarshal(raw, &cached); err != nil {
		return Balance{}, false
	}
	return Balance{
		ItemID:     key.ItemID,
		LocationID: key.LocationID,
		Qty:        cached.Qty,
		Value:      cached.Value,
		Rate:       cached.Rate,
	}, true
}

// Set stores a balance with the configured TTL. Failures are ignored; the bin
// projection remains the source served on the next miss.
func (c *BalanceCache) Set(ctx context.Context, bal Balance) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(cachedBalance{Qty: bal.Qty, Value: bal.Value, Rate: bal.Rate})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, balanceKey(BinKey{ItemID: bal.ItemID, LocationID: bal.LocationID}), raw, c.ttl).Err()
}

// Invalidate drops the cached balances for the given keys.
func (c *BalanceCache) Invalidate(ctx context.Context, keys []BinKey) {
	if c == nil || len(keys) == 0 {
		return
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, balanceKey(key))
	}
	_ = c.client.Del(ctx, names...).Err()
}
