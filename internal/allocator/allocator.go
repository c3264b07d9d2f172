package allocator

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/config"
	"tradecore/internal/models"
)

// PriceSource is satisfied by pricing.Cache.
type PriceSource interface {
	Price(ctx context.Context, account, symbol string) (decimal.Decimal, bool)
}

// Candidate pairs a zero-quantity pending order with the recommendation
// that produced it.
type Candidate struct {
	Order          *models.Order
	Recommendation models.Recommendation
}

// State is the account snapshot one allocation pass runs against. Balance
// and Allocations are mutated in place as quantities are assigned.
type State struct {
	Account          string
	Balance          decimal.Decimal
	Allocations      map[string]decimal.Decimal
	Weights          map[string]int
	MaxPerInstrument decimal.Decimal
}

type Allocator struct {
	Prices PriceSource
	Logger *zap.Logger
	Config config.AllocatorConfig
}

// Allocate assigns share quantities to the batch, highest expected profit
// first, respecting the remaining balance, the per-instrument cap, the
// diversification factor and the per-instrument weights. Orders whose
// symbol has no retrievable price are marked error with a logged reason.
func (a *Allocator) Allocate(ctx context.Context, batch []Candidate, st *State) {
	if a == nil || st == nil || len(batch) == 0 {
		return
	}
	if st.Allocations == nil {
		st.Allocations = map[string]decimal.Decimal{}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Recommendation.ExpectedProfitPct.
			GreaterThan(batch[j].Recommendation.ExpectedProfitPct)
	})

	remainingDistinct := suffixDistinctSymbols(batch)

	for i, cand := range batch {
		order := cand.Order
		if order == nil {
			continue
		}
		price, ok := a.Prices.Price(ctx, st.Account, order.Symbol)
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			order.Status = models.OrderStatusError
			order.FailureReason = "no current price for symbol"
			if a.Logger != nil {
				a.Logger.Warn("allocation skipped: no price",
					zap.String("symbol", order.Symbol),
					zap.Uint64("expert_id", order.ExpertID),
				)
			}
			continue
		}

		maxByBalance := st.Balance.Div(price)
		headroom := st.MaxPerInstrument.Sub(st.Allocations[order.Symbol])
		if headroom.LessThan(decimal.Zero) {
			headroom = decimal.Zero
		}
		maxByInstrument := headroom.Div(price)

		base := decimal.Min(maxByBalance, maxByInstrument)
		if remainingDistinct[i] > 1 {
			base = base.Mul(decimal.NewFromFloat(a.diversificationFactor()))
		}

		one := decimal.NewFromInt(1)
		affordable := maxByBalance.GreaterThanOrEqual(one) && maxByInstrument.GreaterThanOrEqual(one)

		rounded := base.Floor()
		if rounded.IsZero() && affordable {
			rounded = one
		}
		if rounded.LessThanOrEqual(decimal.Zero) {
			a.logSkip(order, "no affordable quantity", maxByBalance, maxByInstrument)
			continue
		}

		weighted := rounded.Mul(a.weightMultiplier(st, order.Symbol)).Floor()
		// Weighting must not starve an affordable order back to zero: the
		// minimum-1 safeguard re-applies at this second rounding point.
		if weighted.IsZero() && affordable {
			weighted = one
		}

		cost := weighted.Mul(price)
		if cost.GreaterThan(st.Balance) || st.Allocations[order.Symbol].Add(cost).GreaterThan(st.MaxPerInstrument) {
			if a.Logger != nil {
				a.Logger.Debug("weighted quantity reverted",
					zap.String("symbol", order.Symbol),
					zap.String("weighted", weighted.String()),
					zap.String("reverted_to", rounded.String()),
					zap.String("cost", cost.StringFixed(2)),
					zap.String("balance", st.Balance.StringFixed(2)),
				)
			}
			weighted = rounded
			cost = weighted.Mul(price)
		}

		order.Quantity = weighted
		if order.Price.IsZero() {
			order.Price = price
		}
		st.Balance = st.Balance.Sub(cost)
		st.Allocations[order.Symbol] = st.Allocations[order.Symbol].Add(cost)

		if a.Logger != nil {
			a.Logger.Info("order allocated",
				zap.String("symbol", order.Symbol),
				zap.String("quantity", weighted.String()),
				zap.String("price", price.StringFixed(4)),
				zap.String("cost", cost.StringFixed(2)),
				zap.String("remaining_balance", st.Balance.StringFixed(2)),
			)
		}
	}
}

func (a *Allocator) diversificationFactor() float64 {
	if a.Config.DiversificationFactor > 0 {
		return a.Config.DiversificationFactor
	}
	return 0.7
}

func (a *Allocator) weightMultiplier(st *State, symbol string) decimal.Decimal {
	weight, ok := st.Weights[symbol]
	if !ok || weight <= 0 {
		weight = a.Config.DefaultInstrumentWeight
		if weight <= 0 {
			weight = models.NeutralWeight
		}
	}
	return decimal.NewFromInt(int64(weight)).Div(decimal.NewFromInt(models.NeutralWeight))
}

func (a *Allocator) logSkip(order *models.Order, why string, byBalance, byInstrument decimal.Decimal) {
	if a.Logger == nil {
		return
	}
	a.Logger.Info("allocation skipped",
		zap.String("symbol", order.Symbol),
		zap.String("reason", why),
		zap.String("max_by_balance", byBalance.StringFixed(4)),
		zap.String("max_by_instrument", byInstrument.StringFixed(4)),
	)
}

// suffixDistinctSymbols returns, for each index, how many distinct symbols
// remain from that index to the end of the batch.
func suffixDistinctSymbols(batch []Candidate) []int {
	out := make([]int, len(batch))
	seen := map[string]struct{}{}
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Order != nil {
			seen[batch[i].Order.Symbol] = struct{}{}
		}
		out[i] = len(seen)
	}
	return out
}
