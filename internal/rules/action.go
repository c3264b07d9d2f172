package rules

import (
	"errors"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

type ActionType string

const (
	ActionOpenPosition     ActionType = "open_position"
	ActionClosePosition    ActionType = "close_position"
	ActionAdjustTakeProfit ActionType = "adjust_take_profit"
	ActionAdjustStopLoss   ActionType = "adjust_stop_loss"
	ActionIncreaseShare    ActionType = "increase_instrument_share"
	ActionDecreaseShare    ActionType = "decrease_instrument_share"
)

type ReferenceBasis string

const (
	BasisOrderOpenPrice ReferenceBasis = "order_open_price"
	BasisCurrentPrice   ReferenceBasis = "current_price"
	BasisExpertTarget   ReferenceBasis = "expert_target"
)

var (
	ErrNoPosition   = errors.New("action requires an active position")
	ErrNoPrice      = errors.New("no current price available")
	ErrNoReference  = errors.New("reference price unavailable")
	ErrNoAdjustment = errors.New("action would not change the position")
)

// ActionConfig is the per-rule action parameterization loaded from a
// ruleset row.
type ActionConfig struct {
	Type ActionType `json:"type"`

	Side      string `json:"side,omitempty"`
	OrderType string `json:"order_type,omitempty"`

	Basis   ReferenceBasis `json:"basis,omitempty"`
	Percent float64        `json:"percent,omitempty"`

	TargetSharePct float64 `json:"target_share_pct,omitempty"`
}

// CalcPreview explains a take-profit/stop-loss calculation: which basis
// was used, the resolved reference price, the percent applied and the
// resulting price. Produced without side effects.
type CalcPreview struct {
	Basis          ReferenceBasis  `json:"basis"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Percent        float64         `json:"percent"`
	Result         decimal.Decimal `json:"result"`
}

// OrderIntent is the broker-free output of an action: everything the
// lifecycle manager needs to create or adjust orders.
type OrderIntent struct {
	Action    ActionType      `json:"action"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side,omitempty"`
	OrderType string          `json:"order_type,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Calc      *CalcPreview    `json:"calc,omitempty"`
}

// Preview resolves the reference basis and computes the adjusted price for
// a take-profit/stop-loss action. It is pure: no store or broker access.
func Preview(cfg ActionConfig, ctx *EvalContext) (CalcPreview, error) {
	ref, err := resolveReference(cfg.Basis, ctx)
	if err != nil {
		return CalcPreview{}, err
	}
	pct := decimal.NewFromFloat(cfg.Percent)
	result := ref.Mul(decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100))))
	return CalcPreview{
		Basis:          cfg.Basis,
		ReferencePrice: ref,
		Percent:        cfg.Percent,
		Result:         result,
	}, nil
}

func resolveReference(basis ReferenceBasis, ctx *EvalContext) (decimal.Decimal, error) {
	switch basis {
	case BasisOrderOpenPrice:
		if ctx.Position == nil || ctx.Position.OpenPrice.IsZero() {
			return decimal.Zero, ErrNoReference
		}
		return ctx.Position.OpenPrice, nil
	case BasisCurrentPrice, "":
		if !ctx.HasPrice || ctx.CurrentPrice.IsZero() {
			return decimal.Zero, ErrNoPrice
		}
		return ctx.CurrentPrice, nil
	case BasisExpertTarget:
		if ctx.Recommendation.TargetPrice.IsZero() {
			return decimal.Zero, ErrNoReference
		}
		return ctx.Recommendation.TargetPrice, nil
	}
	return decimal.Zero, ErrNoReference
}

// Build computes concrete order parameters for an action. Open intents
// carry quantity zero: sizing belongs to the risk allocator.
func Build(cfg ActionConfig, ctx *EvalContext) (OrderIntent, error) {
	symbol := ctx.Recommendation.Symbol
	switch cfg.Type {
	case ActionOpenPosition:
		side := cfg.Side
		if side == "" {
			if ctx.Recommendation.Bearish() {
				side = models.SideSell
			} else {
				side = models.SideBuy
			}
		}
		orderType := cfg.OrderType
		if orderType == "" {
			orderType = models.OrderTypeMarket
		}
		price := decimal.Zero
		if ctx.HasPrice {
			price = ctx.CurrentPrice
		}
		return OrderIntent{
			Action:    cfg.Type,
			Symbol:    symbol,
			Side:      side,
			OrderType: orderType,
			Quantity:  decimal.Zero,
			Price:     price,
		}, nil

	case ActionClosePosition:
		if ctx.Position == nil || !ctx.Position.Active() {
			return OrderIntent{}, ErrNoPosition
		}
		return OrderIntent{
			Action:    cfg.Type,
			Symbol:    ctx.Position.Symbol,
			Side:      oppositeSide(ctx.Position.Side),
			OrderType: models.OrderTypeMarket,
			Quantity:  ctx.Position.Quantity,
			Price:     ctx.CurrentPrice,
		}, nil

	case ActionAdjustTakeProfit, ActionAdjustStopLoss:
		if ctx.Position == nil || !ctx.Position.Active() {
			return OrderIntent{}, ErrNoPosition
		}
		calc, err := Preview(cfg, ctx)
		if err != nil {
			return OrderIntent{}, err
		}
		return OrderIntent{
			Action:    cfg.Type,
			Symbol:    ctx.Position.Symbol,
			Side:      oppositeSide(ctx.Position.Side),
			OrderType: dependentOrderType(cfg.Type),
			Quantity:  ctx.Position.Quantity,
			Price:     calc.Result,
			Calc:      &calc,
		}, nil

	case ActionIncreaseShare:
		return buildIncreaseShare(cfg, ctx, symbol)

	case ActionDecreaseShare:
		return buildDecreaseShare(cfg, ctx)
	}
	return OrderIntent{}, errors.New("unknown action type: " + string(cfg.Type))
}

func buildIncreaseShare(cfg ActionConfig, ctx *EvalContext, symbol string) (OrderIntent, error) {
	if !ctx.HasPrice || ctx.CurrentPrice.IsZero() {
		return OrderIntent{}, ErrNoPrice
	}
	target := ctx.Equity.
		Mul(decimal.NewFromFloat(cfg.TargetSharePct)).
		Div(decimal.NewFromInt(100))
	delta := target.Sub(ctx.AllocatedCost)
	qty := delta.Div(ctx.CurrentPrice).Floor()
	if qty.LessThanOrEqual(decimal.Zero) {
		return OrderIntent{}, ErrNoAdjustment
	}
	return OrderIntent{
		Action:    cfg.Type,
		Symbol:    symbol,
		Side:      models.SideBuy,
		OrderType: models.OrderTypeMarket,
		Quantity:  qty,
		Price:     ctx.CurrentPrice,
	}, nil
}

func buildDecreaseShare(cfg ActionConfig, ctx *EvalContext) (OrderIntent, error) {
	if ctx.Position == nil || !ctx.Position.Active() {
		return OrderIntent{}, ErrNoPosition
	}
	if !ctx.HasPrice || ctx.CurrentPrice.IsZero() {
		return OrderIntent{}, ErrNoPrice
	}
	target := ctx.Equity.
		Mul(decimal.NewFromFloat(cfg.TargetSharePct)).
		Div(decimal.NewFromInt(100))
	desiredQty := target.Div(ctx.CurrentPrice).Floor()
	sell := ctx.Position.Quantity.Sub(desiredQty)

	// The position is never reduced below one unit here, even for a zero
	// target; full closure goes through the close-position action.
	// TODO: product decision pending on whether a 0% target should fully
	// close instead of flooring at one unit.
	one := decimal.NewFromInt(1)
	if ctx.Position.Quantity.Sub(sell).LessThan(one) {
		sell = ctx.Position.Quantity.Sub(one)
	}
	if sell.LessThanOrEqual(decimal.Zero) {
		return OrderIntent{}, ErrNoAdjustment
	}
	return OrderIntent{
		Action:    cfg.Type,
		Symbol:    ctx.Position.Symbol,
		Side:      oppositeSide(ctx.Position.Side),
		OrderType: models.OrderTypeMarket,
		Quantity:  sell,
		Price:     ctx.CurrentPrice,
	}, nil
}

func dependentOrderType(t ActionType) string {
	if t == ActionAdjustStopLoss {
		return models.OrderTypeStop
	}
	return models.OrderTypeLimit
}

func oppositeSide(side string) string {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}
