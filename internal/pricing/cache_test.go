package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type countingQuoter struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
}

func (q *countingQuoter) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	p, ok := q.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

func TestPriceCachedWithinTTL(t *testing.T) {
	q := &countingQuoter{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}}
	c := NewCache(q, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		price, ok := c.Price(context.Background(), "default", "AAPL")
		if !ok || !price.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("lookup %d failed: %s %v", i, price, ok)
		}
	}
	if q.calls != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", q.calls)
	}
}

func TestPriceKeyedByAccountAndSymbol(t *testing.T) {
	q := &countingQuoter{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}}
	c := NewCache(q, time.Minute, zap.NewNop())

	c.Price(context.Background(), "acct-a", "AAPL")
	c.Price(context.Background(), "acct-b", "AAPL")
	if q.calls != 2 {
		t.Fatalf("distinct accounts must fetch separately, got %d calls", q.calls)
	}
	c.Price(context.Background(), "acct-a", "AAPL")
	if q.calls != 2 {
		t.Fatalf("repeat lookup must hit the cache, got %d calls", q.calls)
	}
}

func TestPriceExpiry(t *testing.T) {
	q := &countingQuoter{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}}
	c := NewCache(q, time.Nanosecond, zap.NewNop())

	c.Price(context.Background(), "default", "AAPL")
	time.Sleep(time.Millisecond)
	c.Price(context.Background(), "default", "AAPL")
	if q.calls != 2 {
		t.Fatalf("expired entry must refetch, got %d calls", q.calls)
	}
}

func TestPriceFetchFailure(t *testing.T) {
	q := &countingQuoter{prices: map[string]decimal.Decimal{}}
	c := NewCache(q, time.Minute, zap.NewNop())

	if _, ok := c.Price(context.Background(), "default", "GME"); ok {
		t.Fatalf("failed fetch must report no price")
	}
	// Failures are not cached negatively: the next lookup retries.
	c.Price(context.Background(), "default", "GME")
	if q.calls != 2 {
		t.Fatalf("expected retry on next lookup, got %d calls", q.calls)
	}
}

func TestInvalidate(t *testing.T) {
	q := &countingQuoter{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}}
	c := NewCache(q, time.Minute, zap.NewNop())

	c.Price(context.Background(), "default", "AAPL")
	c.Invalidate("default", "AAPL")
	c.Price(context.Background(), "default", "AAPL")
	if q.calls != 2 {
		t.Fatalf("invalidated entry must refetch, got %d calls", q.calls)
	}
}
