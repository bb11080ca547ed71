package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// DefaultMarketTTL applies when NewMarketCache is given a non-positive TTL.
const DefaultMarketTTL = 30 * time.Second

// setMarketLua writes the market unless the cached version is higher.
// KEYS[1] = market key, ARGV[1] = JSON, ARGV[2] = version, ARGV[3] = ttl ms.
const setMarketLua = `
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
    return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// MarketCache implements domain.MarketCache using Redis hashes holding the
// JSON-serialized market and its version.
//
// Key schema:
//
//	{prefix}market:{name} - hash with fields "data" (JSON) and "version"
type MarketCache struct {
	c     *Client
	ttl   time.Duration
	setSc *redis.Script
}

// NewMarketCache creates a MarketCache whose entries live for ttl.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl, setSc: redis.NewScript(setMarketLua)}
}

// Set stores market under its name. A cached copy with a higher version is
// kept, so a slow read-through back-fill cannot overwrite a newer commit.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Name, err)
	}

	key := mc.c.key("market", market.Name)
	err = mc.setSc.Run(ctx, mc.c.rdb, []string{key}, data, market.Version, mc.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Name, err)
	}
	return nil
}

// Get returns the cached market or domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, name string) (domain.Market, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.c.key("market", name), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", name, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", name, err)
	}
	return market, nil
}

// Invalidate drops the cached copy of a market.
func (mc *MarketCache) Invalidate(ctx context.Context, name string) error {
	if err := mc.c.rdb.Del(ctx, mc.c.key("market", name)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", name, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
