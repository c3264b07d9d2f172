package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

// Position is an open holding as reported by the broker.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
}

// Fill is the broker's view of one order's execution state.
type Fill struct {
	Status         string
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
}

// OrderParams carries the mutable fields of an order modification.
type OrderParams struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Broker is the narrow boundary to the (external) broker adapter. All
// methods must tolerate concurrent callers.
type Broker interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	SubmitOrder(ctx context.Context, order *models.Order) (string, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, params OrderParams) error
	GetOrderFill(ctx context.Context, brokerOrderID string) (Fill, error)
}
