package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quoter is the narrow price-lookup slice of the broker interface.
type Quoter interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type cacheKey struct {
	Account string
	Symbol  string
}

type cacheEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Cache is a shared, lock-protected price cache keyed by (account, symbol)
// with a time-to-live. Only map reads and writes are critical sections;
// the quoter network call happens outside the lock so a slow fetch never
// blocks unrelated lookups.
type Cache struct {
	Quoter Quoter
	TTL    time.Duration
	Logger *zap.Logger

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func NewCache(quoter Quoter, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		Quoter:  quoter,
		TTL:     ttl,
		Logger:  logger,
		entries: map[cacheKey]cacheEntry{},
	}
}

// Price returns the cached price for (account, symbol), fetching through
// the quoter on a miss or an expired entry. The second return reports
// whether a usable price exists; lookups never error out of the caller's
// pass.
func (c *Cache) Price(ctx context.Context, account, symbol string) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	key := cacheKey{Account: account, Symbol: symbol}
	now := time.Now().UTC()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Sub(e.fetchedAt) < c.TTL {
		c.mu.Unlock()
		return e.price, true
	}
	c.mu.Unlock()

	if c.Quoter == nil {
		return decimal.Zero, false
	}
	price, err := c.Quoter.GetCurrentPrice(ctx, symbol)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		if c.Logger != nil {
			c.Logger.Warn("price fetch failed",
				zap.String("account", account),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		return decimal.Zero, false
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{price: price, fetchedAt: now}
	c.mu.Unlock()
	return price, true
}

// Invalidate drops the cached entry for (account, symbol).
func (c *Cache) Invalidate(account, symbol string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, cacheKey{Account: account, Symbol: symbol})
	c.mu.Unlock()
}
