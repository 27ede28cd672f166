// Package cache provides the read-through/write-through balance cache. It is
// a serving-path optimization only: authorization of mutations always reads
// the store of record.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceKeyFormat = "wallet:%s:balance"

// Balance is the cached view of a wallet: the owner alongside the amount, so
// read-path ownership checks can be answered without a store round trip.
type Balance struct {
	OwnerID string `json:"owner_id"`
	Amount  int64  `json:"balance"`
}

// BalanceCache stores wallet balances in Redis under a bounded TTL. The TTL
// is the explicit staleness bound: even if a write path ever forgot its
// write-through step, a stale entry ages out.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache builds a cache around the provided Redis client.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

// Get returns the cached balance for a wallet and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, walletID string) (Balance, bool, error) {
	payload, err := c.client.Get(ctx, balanceKey(walletID)).Result()
	if err == redis.Nil {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("balance cache get: %w", err)
	}

	var b Balance
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		// A corrupt entry is treated as a miss; the write-through on the next
		// mutation replaces it.
		return Balance{}, false, nil
	}
	return b, true, nil
}

// Set writes through the current balance for a wallet.
func (c *BalanceCache) Set(ctx context.Context, walletID string, b Balance) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("balance cache encode: %w", err)
	}
	if err := c.client.Set(ctx, balanceKey(walletID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("balance cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached balance, e.g. when a wallet is deleted.
func (c *BalanceCache) Invalidate(ctx context.Context, walletID string) error {
	if err := c.client.Del(ctx, balanceKey(walletID)).Err(); err != nil {
		return fmt.Errorf("balance cache invalidate: %w", err)
	}
	return nil
}

func balanceKey(walletID string) string {
	return fmt.Sprintf(balanceKeyFormat, walletID)
}
