package lifecycle

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/models"
)

// applyMinimumProtection keeps a take-profit or stop-loss price at least
// MinProtectionPct away from the position's open price, on the correct
// side for the position's direction. A price already beyond the floor is
// returned unchanged; a too-tight price is widened to the floor.
func (m *Manager) applyMinimumProtection(positionSide, kind string, openPrice, price decimal.Decimal) decimal.Decimal {
	min := m.Config.MinProtectionPct
	if min <= 0 || openPrice.LessThanOrEqual(decimal.Zero) {
		return price
	}
	dist := decimal.NewFromFloat(min).Div(hundred)
	above := openPrice.Mul(one.Add(dist))
	below := openPrice.Mul(one.Sub(dist))
	long := positionSide == models.SideBuy

	clamped := price
	switch {
	case kind == models.TPSLKindTakeProfit && long:
		if price.LessThan(above) {
			clamped = above
		}
	case kind == models.TPSLKindTakeProfit && !long:
		if price.GreaterThan(below) {
			clamped = below
		}
	case kind == models.TPSLKindStopLoss && long:
		if price.GreaterThan(below) {
			clamped = below
		}
	case kind == models.TPSLKindStopLoss && !long:
		if price.LessThan(above) {
			clamped = above
		}
	}

	if !clamped.Equal(price) && m.Logger != nil {
		m.Logger.Info("protection price widened to minimum distance",
			zap.String("kind", kind),
			zap.String("side", positionSide),
			zap.String("requested", price.String()),
			zap.String("clamped", clamped.String()),
			zap.String("open_price", openPrice.String()),
			zap.Float64("min_pct", min),
		)
	}
	return clamped
}
