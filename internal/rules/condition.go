package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

type ConditionType string

const (
	CondConfidence               ConditionType = "confidence"
	CondExpectedProfitPct        ConditionType = "expected_profit_pct"
	CondPositionProfitPct        ConditionType = "position_profit_pct"
	CondPositionProfitAmount     ConditionType = "position_profit_amount"
	CondDistanceToTargetPct      ConditionType = "distance_to_target_pct"
	CondDistanceToSuggestedPct   ConditionType = "distance_to_suggested_target_pct"
	CondDaysSinceOpen            ConditionType = "days_since_open"
	CondSignalBullish            ConditionType = "signal_bullish"
	CondSignalBearish            ConditionType = "signal_bearish"
	CondRiskLevel                ConditionType = "risk_level"
	CondTimeHorizon              ConditionType = "time_horizon"
	CondHasPosition              ConditionType = "has_position"
	CondSuggestedTargetAboveCurr ConditionType = "suggested_target_above_current"
	CondSuggestedTargetBelowCurr ConditionType = "suggested_target_below_current"
)

// ConditionConfig parameterizes one predicate inside a trigger.
type ConditionConfig struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator,omitempty"`
	Value    float64       `json:"value,omitempty"`
	Match    string        `json:"match,omitempty"`
}

// EvalContext is the read-only snapshot a condition or action evaluates
// against: the recommendation, the active position (if any), the current
// market price and the account state used by share-sizing actions.
type EvalContext struct {
	Recommendation models.Recommendation
	Position       *models.Transaction

	CurrentPrice decimal.Decimal
	HasPrice     bool

	Equity        decimal.Decimal
	AllocatedCost decimal.Decimal

	Now time.Time
}

// ConditionResult retains the operands that were actually compared so the
// evaluator can always report why a condition passed or failed.
type ConditionResult struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator,omitempty"`
	Passed   bool          `json:"passed"`

	Left      *float64 `json:"left,omitempty"`
	Right     *float64 `json:"right,omitempty"`
	LeftText  string   `json:"left_text,omitempty"`
	RightText string   `json:"right_text,omitempty"`

	Diagnostic string `json:"diagnostic,omitempty"`
}

type conditionFunc func(cfg ConditionConfig, ctx *EvalContext) ConditionResult

var conditionRegistry = map[ConditionType]conditionFunc{
	CondConfidence: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return numericResult(cfg, ctx.Recommendation.Confidence)
	},
	CondExpectedProfitPct: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return numericResult(cfg, ctx.Recommendation.ExpectedProfitPct.InexactFloat64())
	},
	CondPositionProfitPct:    positionProfitPct,
	CondPositionProfitAmount: positionProfitAmount,
	CondDistanceToTargetPct:  distanceToTargetPct,
	CondDistanceToSuggestedPct: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		if !ctx.HasPrice || ctx.CurrentPrice.IsZero() {
			return failClosed(cfg, "no current price")
		}
		target := ctx.Recommendation.TargetPrice
		if target.IsZero() {
			return failClosed(cfg, "recommendation has no target price")
		}
		dist := target.Sub(ctx.CurrentPrice).
			Div(ctx.CurrentPrice).
			Mul(decimal.NewFromInt(100))
		return numericResult(cfg, dist.InexactFloat64())
	},
	CondDaysSinceOpen: daysSinceOpen,
	CondSignalBullish: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return flagResult(cfg, ctx.Recommendation.Signal, ctx.Recommendation.Bullish())
	},
	CondSignalBearish: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return flagResult(cfg, ctx.Recommendation.Signal, ctx.Recommendation.Bearish())
	},
	CondRiskLevel: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return matchResult(cfg, ctx.Recommendation.RiskLevel)
	},
	CondTimeHorizon: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return matchResult(cfg, ctx.Recommendation.TimeHorizon)
	},
	CondHasPosition: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		has := ctx.Position != nil && ctx.Position.Active()
		text := "none"
		if has {
			text = ctx.Position.Symbol
		}
		return flagResult(cfg, text, has)
	},
	CondSuggestedTargetAboveCurr: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return targetDirection(cfg, ctx, true)
	},
	CondSuggestedTargetBelowCurr: func(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
		return targetDirection(cfg, ctx, false)
	},
}

// RegisterCondition extends the condition set. Intended for wiring custom
// predicates at startup; the built-in set is closed otherwise.
func RegisterCondition(t ConditionType, fn conditionFunc) {
	if t == "" || fn == nil {
		return
	}
	conditionRegistry[t] = fn
}

// EvaluateCondition runs one predicate. Missing data fails closed with a
// diagnostic rather than erroring out of the rule pass.
func EvaluateCondition(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
	fn, ok := conditionRegistry[cfg.Type]
	if !ok {
		return failClosed(cfg, "unknown condition type")
	}
	return fn(cfg, ctx)
}

func positionProfitPct(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
	pl, ok, why := positionProfit(ctx)
	if !ok {
		return failClosed(cfg, why)
	}
	basis := ctx.Position.CostBasis()
	if basis.IsZero() {
		return failClosed(cfg, "position has zero cost basis")
	}
	pct := pl.Div(basis).Mul(decimal.NewFromInt(100))
	return numericResult(cfg, pct.InexactFloat64())
}

func positionProfitAmount(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
	pl, ok, why := positionProfit(ctx)
	if !ok {
		return failClosed(cfg, why)
	}
	return numericResult(cfg, pl.InexactFloat64())
}

// positionProfit returns the signed unrealized P/L of the active position.
func positionProfit(ctx *EvalContext) (decimal.Decimal, bool, string) {
	if ctx.Position == nil || !ctx.Position.Active() {
		return decimal.Zero, false, "no active position"
	}
	if !ctx.HasPrice || ctx.CurrentPrice.IsZero() {
		return decimal.Zero, false, "no current price"
	}
	p := ctx.Position
	diff := ctx.CurrentPrice.Sub(p.OpenPrice)
	if p.Side == models.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity), true, ""
}

func distanceToTargetPct(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
	if ctx.Position == nil || !ctx.Position.Active() {
		return failClosed(cfg, "no active position")
	}
	if ctx.Position.TargetPrice.IsZero() {
		return failClosed(cfg, "position has no target price")
	}
	if !ctx.HasPrice || ctx.CurrentPrice.IsZero() {
		return failClosed(cfg, "no current price")
	}
	dist := ctx.Position.TargetPrice.Sub(ctx.CurrentPrice).
		Div(ctx.CurrentPrice).
		Mul(decimal.NewFromInt(100))
	return numericResult(cfg, dist.InexactFloat64())
}

func daysSinceOpen(cfg ConditionConfig, ctx *EvalContext) ConditionResult {
	if ctx.Position == nil || !ctx.Position.Active() || ctx.Position.OpenedAt == nil {
		return failClosed(cfg, "no active position")
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	days := now.Sub(*ctx.Position.OpenedAt).Hours() / 24
	return numericResult(cfg, days)
}

func targetDirection(cfg ConditionConfig, ctx *EvalContext, wantAbove bool) ConditionResult {
	suggested := ctx.Recommendation.TargetPrice
	if suggested.IsZero() {
		return failClosed(cfg, "recommendation has no target price")
	}
	if ctx.Position == nil || ctx.Position.TargetPrice.IsZero() {
		return failClosed(cfg, "no current target to compare against")
	}
	current := ctx.Position.TargetPrice
	passed := suggested.GreaterThan(current)
	if !wantAbove {
		passed = suggested.LessThan(current)
	}
	left := suggested.InexactFloat64()
	right := current.InexactFloat64()
	return ConditionResult{
		Type:   cfg.Type,
		Passed: passed,
		Left:   &left,
		Right:  &right,
	}
}

func numericResult(cfg ConditionConfig, left float64) ConditionResult {
	op := cfg.Operator
	if op == "" {
		op = OpGTE
	}
	right := cfg.Value
	return ConditionResult{
		Type:     cfg.Type,
		Operator: op,
		Passed:   compare(op, left, right),
		Left:     &left,
		Right:    &right,
	}
}

func flagResult(cfg ConditionConfig, text string, passed bool) ConditionResult {
	return ConditionResult{
		Type:     cfg.Type,
		Passed:   passed,
		LeftText: text,
	}
}

func matchResult(cfg ConditionConfig, actual string) ConditionResult {
	return ConditionResult{
		Type:      cfg.Type,
		Passed:    actual != "" && actual == cfg.Match,
		LeftText:  actual,
		RightText: cfg.Match,
	}
}

func failClosed(cfg ConditionConfig, why string) ConditionResult {
	return ConditionResult{
		Type:       cfg.Type,
		Operator:   cfg.Operator,
		Passed:     false,
		Diagnostic: why,
	}
}

func compare(op Operator, left, right float64) bool {
	switch op {
	case OpGT:
		return left > right
	case OpGTE:
		return left >= right
	case OpLT:
		return left < right
	case OpLTE:
		return left <= right
	case OpEQ:
		return left == right
	case OpNEQ:
		return left != right
	}
	return false
}
