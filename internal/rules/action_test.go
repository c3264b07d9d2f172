package rules

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

func TestPreviewBases(t *testing.T) {
	ctx := &EvalContext{
		Recommendation: models.Recommendation{Symbol: "AAPL", TargetPrice: dec("150")},
		Position:       longPosition("100", "130", 10),
		CurrentPrice:   dec("110"),
		HasPrice:       true,
	}
	tests := []struct {
		basis ReferenceBasis
		pct   float64
		want  string
	}{
		{BasisOrderOpenPrice, 5, "105"},
		{BasisCurrentPrice, 10, "121"},
		{BasisExpertTarget, -2, "147"},
		{"", 10, "121"}, // empty basis defaults to current price
	}
	for _, tt := range tests {
		calc, err := Preview(ActionConfig{Type: ActionAdjustTakeProfit, Basis: tt.basis, Percent: tt.pct}, ctx)
		if err != nil {
			t.Fatalf("Preview(%s): %v", tt.basis, err)
		}
		if !calc.Result.Equal(dec(tt.want)) {
			t.Fatalf("Preview(%s, %v%%) = %s, want %s", tt.basis, tt.pct, calc.Result, tt.want)
		}
	}
}

func TestPreviewMissingReference(t *testing.T) {
	ctx := &EvalContext{Recommendation: models.Recommendation{Symbol: "AAPL"}}
	if _, err := Preview(ActionConfig{Basis: BasisOrderOpenPrice}, ctx); !errors.Is(err, ErrNoReference) {
		t.Fatalf("expected ErrNoReference, got %v", err)
	}
	if _, err := Preview(ActionConfig{Basis: BasisCurrentPrice}, ctx); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	if _, err := Preview(ActionConfig{Basis: BasisExpertTarget}, ctx); !errors.Is(err, ErrNoReference) {
		t.Fatalf("expected ErrNoReference, got %v", err)
	}
}

func TestBuildOpenPosition(t *testing.T) {
	ctx := &EvalContext{
		Recommendation: models.Recommendation{Symbol: "AAPL", Signal: models.SignalBuy},
		CurrentPrice:   dec("110"),
		HasPrice:       true,
	}
	intent, err := Build(ActionConfig{Type: ActionOpenPosition}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intent.Side != models.SideBuy || intent.OrderType != models.OrderTypeMarket {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !intent.Quantity.IsZero() {
		t.Fatalf("open intents carry zero quantity, got %s", intent.Quantity)
	}

	ctx.Recommendation.Signal = models.SignalSell
	intent, err = Build(ActionConfig{Type: ActionOpenPosition}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intent.Side != models.SideSell {
		t.Fatalf("bearish signal should open short, got %s", intent.Side)
	}
}

func TestBuildClosePosition(t *testing.T) {
	ctx := &EvalContext{
		Position:     longPosition("100", "130", 8),
		CurrentPrice: dec("120"),
		HasPrice:     true,
	}
	intent, err := Build(ActionConfig{Type: ActionClosePosition}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intent.Side != models.SideSell || !intent.Quantity.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("close should sell full quantity, got %+v", intent)
	}

	if _, err := Build(ActionConfig{Type: ActionClosePosition}, &EvalContext{}); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestBuildAdjustTakeProfit(t *testing.T) {
	ctx := &EvalContext{
		Recommendation: models.Recommendation{Symbol: "AAPL"},
		Position:       longPosition("100", "130", 8),
		CurrentPrice:   dec("120"),
		HasPrice:       true,
	}
	intent, err := Build(ActionConfig{Type: ActionAdjustTakeProfit, Basis: BasisOrderOpenPrice, Percent: 15}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intent.OrderType != models.OrderTypeLimit {
		t.Fatalf("take profit should be a limit order, got %s", intent.OrderType)
	}
	if !intent.Price.Equal(dec("115")) {
		t.Fatalf("expected 115, got %s", intent.Price)
	}
	if intent.Calc == nil || intent.Calc.Percent != 15 {
		t.Fatalf("calc preview missing, got %+v", intent.Calc)
	}

	intent, err = Build(ActionConfig{Type: ActionAdjustStopLoss, Basis: BasisOrderOpenPrice, Percent: -5}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intent.OrderType != models.OrderTypeStop {
		t.Fatalf("stop loss should be a stop order, got %s", intent.OrderType)
	}
	if !intent.Price.Equal(dec("95")) {
		t.Fatalf("expected 95, got %s", intent.Price)
	}
}

func TestBuildIncreaseShare(t *testing.T) {
	ctx := &EvalContext{
		Recommendation: models.Recommendation{Symbol: "AAPL"},
		Position:       longPosition("100", "130", 5),
		CurrentPrice:   dec("100"),
		HasPrice:       true,
		Equity:         dec("10000"),
		AllocatedCost:  dec("500"),
	}
	// Target 10% of 10000 = 1000; already holding 500 => buy 5 more.
	intent, err := Build(ActionConfig{Type: ActionIncreaseShare, TargetSharePct: 10}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !intent.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5 shares, got %s", intent.Quantity)
	}

	// Already above target: nothing to do.
	ctx.AllocatedCost = dec("2000")
	if _, err := Build(ActionConfig{Type: ActionIncreaseShare, TargetSharePct: 10}, ctx); !errors.Is(err, ErrNoAdjustment) {
		t.Fatalf("expected ErrNoAdjustment, got %v", err)
	}
}

func TestBuildDecreaseShare(t *testing.T) {
	ctx := &EvalContext{
		Position:     longPosition("100", "130", 10),
		CurrentPrice: dec("100"),
		HasPrice:     true,
		Equity:       dec("10000"),
	}
	// Target 5% of 10000 = 500 => keep 5, sell 5.
	intent, err := Build(ActionConfig{Type: ActionDecreaseShare, TargetSharePct: 5}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intent.Side != models.SideSell || !intent.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected sell 5, got %+v", intent)
	}
}

func TestDecreaseShareKeepsOneShare(t *testing.T) {
	ctx := &EvalContext{
		Position:     longPosition("100", "130", 10),
		CurrentPrice: dec("100"),
		HasPrice:     true,
		Equity:       dec("10000"),
	}
	// A zero target reduces to one share, never to zero.
	intent, err := Build(ActionConfig{Type: ActionDecreaseShare, TargetSharePct: 0}, ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !intent.Quantity.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected sell 9 keeping 1, got %s", intent.Quantity)
	}

	// Single-share position: nothing can be sold.
	ctx.Position = longPosition("100", "130", 1)
	if _, err := Build(ActionConfig{Type: ActionDecreaseShare, TargetSharePct: 0}, ctx); !errors.Is(err, ErrNoAdjustment) {
		t.Fatalf("expected ErrNoAdjustment, got %v", err)
	}
}
