package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

var ErrUnknownSymbol = errors.New("paper broker: no price for symbol")

// PaperBroker is a deterministic in-process broker used by the dry-run
// mode and by tests. Market orders fill immediately at the posted price;
// limit and stop orders rest until SetPrice crosses them.
type PaperBroker struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	prices    map[string]decimal.Decimal
	orders    map[string]*paperOrder
	positions map[string]Position
	seq       int
}

type paperOrder struct {
	symbol    string
	side      string
	orderType string
	quantity  decimal.Decimal
	price     decimal.Decimal
	fill      Fill
}

func NewPaperBroker(balance decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		balance:   balance,
		prices:    map[string]decimal.Decimal{},
		orders:    map[string]*paperOrder{},
		positions: map[string]Position{},
	}
}

// SetPrice posts a price and triggers any resting orders it crosses.
func (b *PaperBroker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
	for _, o := range b.orders {
		if o.symbol != symbol || o.fill.Status == models.OrderStatusFilled {
			continue
		}
		if o.orderType == models.OrderTypeMarket {
			continue
		}
		if paperCrossed(o, price) {
			b.fillLocked(o, price)
		}
	}
}

func paperCrossed(o *paperOrder, price decimal.Decimal) bool {
	switch o.orderType {
	case models.OrderTypeLimit:
		if o.side == models.SideBuy {
			return price.LessThanOrEqual(o.price)
		}
		return price.GreaterThanOrEqual(o.price)
	case models.OrderTypeStop:
		if o.side == models.SideBuy {
			return price.GreaterThanOrEqual(o.price)
		}
		return price.LessThanOrEqual(o.price)
	}
	return false
}

func (b *PaperBroker) fillLocked(o *paperOrder, price decimal.Decimal) {
	o.fill = Fill{
		Status:         models.OrderStatusFilled,
		FilledQuantity: o.quantity,
		AvgFillPrice:   price,
	}
	cost := price.Mul(o.quantity)
	pos := b.positions[o.symbol]
	pos.Symbol = o.symbol
	if o.side == models.SideBuy {
		b.balance = b.balance.Sub(cost)
		total := pos.AvgPrice.Mul(pos.Quantity).Add(cost)
		pos.Quantity = pos.Quantity.Add(o.quantity)
		if pos.Quantity.GreaterThan(decimal.Zero) {
			pos.AvgPrice = total.Div(pos.Quantity)
		}
	} else {
		b.balance = b.balance.Add(cost)
		pos.Quantity = pos.Quantity.Sub(o.quantity)
	}
	if pos.Quantity.IsZero() {
		delete(b.positions, o.symbol)
	} else {
		b.positions[o.symbol] = pos
	}
}

func (b *PaperBroker) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return price, nil
}

func (b *PaperBroker) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

func (b *PaperBroker) GetOpenPositions(ctx context.Context) ([]Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *PaperBroker) SubmitOrder(ctx context.Context, order *models.Order) (string, error) {
	if order == nil || order.Quantity.LessThanOrEqual(decimal.Zero) {
		return "", errors.New("paper broker: non-positive quantity")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("paper-%d", b.seq)
	o := &paperOrder{
		symbol:    order.Symbol,
		side:      order.Side,
		orderType: order.OrderType,
		quantity:  order.Quantity,
		price:     order.Price,
		fill:      Fill{Status: models.OrderStatusSubmitted},
	}
	b.orders[id] = o
	if o.orderType == models.OrderTypeMarket {
		price, ok := b.prices[o.symbol]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, o.symbol)
		}
		b.fillLocked(o, price)
	}
	return id, nil
}

func (b *PaperBroker) ModifyOrder(ctx context.Context, brokerOrderID string, params OrderParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return errors.New("paper broker: unknown order " + brokerOrderID)
	}
	if o.fill.Status == models.OrderStatusFilled {
		return errors.New("paper broker: order already filled")
	}
	if params.Price.GreaterThan(decimal.Zero) {
		o.price = params.Price
	}
	if params.Quantity.GreaterThan(decimal.Zero) {
		o.quantity = params.Quantity
	}
	return nil
}

func (b *PaperBroker) GetOrderFill(ctx context.Context, brokerOrderID string) (Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return Fill{}, errors.New("paper broker: unknown order " + brokerOrderID)
	}
	return o.fill, nil
}
