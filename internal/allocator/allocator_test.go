package allocator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/config"
	"tradecore/internal/models"
)

type fakePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakePrices) Price(ctx context.Context, account, symbol string) (decimal.Decimal, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func newAllocator(prices map[string]decimal.Decimal) *Allocator {
	return &Allocator{
		Prices: &fakePrices{prices: prices},
		Logger: zap.NewNop(),
		Config: config.AllocatorConfig{
			DiversificationFactor:   0.7,
			MaxEquityPerInstrument:  500,
			DefaultInstrumentWeight: 100,
		},
	}
}

func entry(symbol string, expectedProfit string) Candidate {
	return Candidate{
		Order: &models.Order{
			ExpertID:  7,
			Symbol:    symbol,
			Side:      models.SideBuy,
			OrderType: models.OrderTypeMarket,
			Status:    models.OrderStatusPending,
		},
		Recommendation: models.Recommendation{
			ExpertID:          7,
			Symbol:            symbol,
			ExpectedProfitPct: dec(expectedProfit),
		},
	}
}

func newState(balance string) *State {
	return &State{
		Account:          "default",
		Balance:          dec(balance),
		Allocations:      map[string]decimal.Decimal{},
		Weights:          map[string]int{},
		MaxPerInstrument: dec("500"),
	}
}

func TestAllocateCapAndWeight(t *testing.T) {
	// Balance 1300, price 243.97, cap 500: cap bounds to 2.05 shares,
	// floored to 2; weight 115 keeps it at 2 (2 * 1.15 floors back).
	a := newAllocator(map[string]decimal.Decimal{"MSFT": dec("243.97")})
	batch := []Candidate{entry("MSFT", "12")}
	st := newState("1300")
	st.Weights["MSFT"] = 115

	a.Allocate(context.Background(), batch, st)

	if !batch[0].Order.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2 shares, got %s", batch[0].Order.Quantity)
	}
	wantBalance := dec("1300").Sub(dec("243.97").Mul(decimal.NewFromInt(2)))
	if !st.Balance.Equal(wantBalance) {
		t.Fatalf("balance not debited: %s, want %s", st.Balance, wantBalance)
	}
	if !st.Allocations["MSFT"].Equal(dec("487.94")) {
		t.Fatalf("allocation tracking wrong: %s", st.Allocations["MSFT"])
	}
}

func TestAllocateMinimumOneShare(t *testing.T) {
	// Base floors to 1; an up-weight must not lose it and a down-weight
	// must not starve it to zero.
	a := newAllocator(map[string]decimal.Decimal{"AAPL": dec("400")})
	batch := []Candidate{entry("AAPL", "10")}
	st := newState("450")
	st.Weights["AAPL"] = 115

	a.Allocate(context.Background(), batch, st)
	if !batch[0].Order.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1 share with up-weight, got %s", batch[0].Order.Quantity)
	}

	batch = []Candidate{entry("AAPL", "10")}
	st = newState("450")
	st.Weights["AAPL"] = 50
	a.Allocate(context.Background(), batch, st)
	if !batch[0].Order.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("down-weight must keep the minimum share, got %s", batch[0].Order.Quantity)
	}
}

func TestAllocateUnaffordableSkipped(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{"AAPL": dec("600")})
	batch := []Candidate{entry("AAPL", "10")}
	st := newState("450") // one share costs more than the balance

	a.Allocate(context.Background(), batch, st)
	if !batch[0].Order.Quantity.IsZero() {
		t.Fatalf("unaffordable order must stay at zero, got %s", batch[0].Order.Quantity)
	}
	if batch[0].Order.Status == models.OrderStatusError {
		t.Fatalf("unaffordable is a skip, not an error")
	}
}

func TestAllocateCapAlreadyConsumed(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{"AAPL": dec("100")})
	batch := []Candidate{entry("AAPL", "10")}
	st := newState("1000")
	st.Allocations["AAPL"] = dec("450") // only 50 headroom under the 500 cap

	a.Allocate(context.Background(), batch, st)
	if !batch[0].Order.Quantity.IsZero() {
		t.Fatalf("cap headroom below one share must allocate nothing, got %s", batch[0].Order.Quantity)
	}
}

func TestAllocateWeightOverspendReverts(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{"AAPL": dec("100")})
	a.Config.MaxEquityPerInstrument = 1000
	batch := []Candidate{entry("AAPL", "10")}
	st := newState("250")
	st.MaxPerInstrument = dec("1000")
	st.Weights["AAPL"] = 160 // 2 shares weighted to 3, which costs 300 > 250

	a.Allocate(context.Background(), batch, st)
	if !batch[0].Order.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("overspending weight must revert to the unweighted quantity, got %s", batch[0].Order.Quantity)
	}
}

func TestAllocateDiversification(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{
		"AAPL": dec("100"),
		"MSFT": dec("100"),
	})
	a.Config.MaxEquityPerInstrument = 10000
	batch := []Candidate{entry("AAPL", "20"), entry("MSFT", "10")}
	st := newState("1000")
	st.MaxPerInstrument = dec("10000")

	a.Allocate(context.Background(), batch, st)

	// First (highest expected profit) sees 2 distinct symbols remaining:
	// 10 affordable shares * 0.7 = 7. The second is last and takes from
	// what is left: 300 / 100 = 3.
	if !batch[0].Order.Quantity.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected 7 shares for first candidate, got %s", batch[0].Order.Quantity)
	}
	if !batch[1].Order.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3 shares for second candidate, got %s", batch[1].Order.Quantity)
	}
}

func TestAllocateOrdersByExpectedProfit(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{
		"AAPL": dec("400"),
		"MSFT": dec("400"),
	})
	// Only one share is affordable in total; the higher expected profit
	// must win it regardless of batch order.
	batch := []Candidate{entry("AAPL", "5"), entry("MSFT", "25")}
	st := newState("450")

	a.Allocate(context.Background(), batch, st)

	var aapl, msft decimal.Decimal
	for _, cand := range batch {
		switch cand.Order.Symbol {
		case "AAPL":
			aapl = cand.Order.Quantity
		case "MSFT":
			msft = cand.Order.Quantity
		}
	}
	if !msft.Equal(decimal.NewFromInt(1)) || !aapl.IsZero() {
		t.Fatalf("higher expected profit should be funded first: MSFT=%s AAPL=%s", msft, aapl)
	}
}

func TestAllocateMissingPriceMarksError(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{})
	batch := []Candidate{entry("GME", "50")}
	st := newState("1000")

	a.Allocate(context.Background(), batch, st)

	if batch[0].Order.Status != models.OrderStatusError {
		t.Fatalf("missing price must mark the order error, got %s", batch[0].Order.Status)
	}
	if batch[0].Order.FailureReason == "" {
		t.Fatalf("failure reason must be recorded")
	}
	if !st.Balance.Equal(dec("1000")) {
		t.Fatalf("no funds may be reserved for a failed order")
	}
}

func TestAllocateDefaultWeightNeutral(t *testing.T) {
	a := newAllocator(map[string]decimal.Decimal{"AAPL": dec("100")})
	batch := []Candidate{entry("AAPL", "10")}
	st := newState("1000") // cap 500 bounds to 5 shares

	a.Allocate(context.Background(), batch, st)
	if !batch[0].Order.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("neutral weight must leave the base quantity, got %s", batch[0].Order.Quantity)
	}
}
