package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/broker"
	"tradecore/internal/models"
)

// SyncFills sweeps submitted orders, pulls their fill state from the
// broker and reconciles the affected transactions. It runs on the cron
// schedule and is safe to run concurrently with processing.
func (m *Manager) SyncFills(ctx context.Context) error {
	orders, err := m.Repo.ListOrdersByStatuses(ctx, []string{models.OrderStatusSubmitted}, 500)
	if err != nil {
		return fmt.Errorf("list submitted orders: %w", err)
	}
	for i := range orders {
		order := &orders[i]
		if err := m.refreshFill(ctx, order); err != nil {
			m.Logger.Warn("fill refresh failed",
				zap.Uint64("order_id", order.ID), zap.Error(err))
			continue
		}
		if order.Status != models.OrderStatusFilled {
			continue
		}
		if order.TransactionID != nil {
			if err := m.ReconcileTransaction(ctx, *order.TransactionID); err != nil {
				m.Logger.Warn("transaction reconcile failed",
					zap.Uint64("transaction_id", *order.TransactionID), zap.Error(err))
			}
		}
		if err := m.RetriggerDependents(ctx, order); err != nil {
			m.Logger.Warn("dependent retrigger failed",
				zap.Uint64("order_id", order.ID), zap.Error(err))
		}
	}
	return nil
}

// refreshFill copies the broker's fill state onto the order and persists
// any change. Terminal orders are left alone.
func (m *Manager) refreshFill(ctx context.Context, order *models.Order) error {
	switch order.Status {
	case models.OrderStatusFilled, models.OrderStatusError, models.OrderStatusCanceled:
		return nil
	}
	if order.BrokerOrderID == "" {
		return nil
	}
	fill, err := m.Broker.GetOrderFill(ctx, order.BrokerOrderID)
	if err != nil {
		return err
	}
	changed := !fill.FilledQuantity.Equal(order.FilledQuantity) ||
		!fill.AvgFillPrice.Equal(order.AvgFillPrice)
	order.FilledQuantity = fill.FilledQuantity
	order.AvgFillPrice = fill.AvgFillPrice
	if fill.Status == models.OrderStatusFilled {
		now := time.Now().UTC()
		order.Status = models.OrderStatusFilled
		order.FilledAt = &now
		changed = true
	}
	if !changed {
		return nil
	}
	return m.Repo.SaveOrder(ctx, order)
}

// ReconcileTransaction derives the transaction's status, quantity and
// prices from the fills of its orders. Same-side fills open the position,
// opposite-side fills close it; status transitions follow the summed
// quantities, never direct edits.
func (m *Manager) ReconcileTransaction(ctx context.Context, id uint64) error {
	tx, err := m.Repo.GetTransactionByID(ctx, id)
	if err != nil {
		return err
	}
	if tx == nil || tx.Status == models.TransactionStatusClosed {
		return nil
	}
	orders, err := m.Repo.ListOrdersByTransactionID(ctx, id)
	if err != nil {
		return fmt.Errorf("list transaction orders: %w", err)
	}

	var openQty, openCost, closeQty, closeCost decimal.Decimal
	pendingClose := false
	for _, o := range orders {
		// Resting protections (limit/stop) do not count as an in-flight
		// close; only an unfilled market order on the opposite side does.
		if o.Side != tx.Side && o.OrderType == models.OrderTypeMarket &&
			(o.Status == models.OrderStatusPending || o.Status == models.OrderStatusSubmitted) {
			pendingClose = true
		}
		if o.FilledQuantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		notional := o.FilledQuantity.Mul(o.AvgFillPrice)
		if o.Side == tx.Side {
			openQty = openQty.Add(o.FilledQuantity)
			openCost = openCost.Add(notional)
		} else {
			closeQty = closeQty.Add(o.FilledQuantity)
			closeCost = closeCost.Add(notional)
		}
	}

	now := time.Now().UTC()
	changed := false

	if openQty.GreaterThan(decimal.Zero) {
		avgOpen := openCost.Div(openQty)
		remaining := openQty.Sub(closeQty)
		if remaining.LessThan(decimal.Zero) {
			remaining = decimal.Zero
		}
		if !tx.OpenPrice.Equal(avgOpen) || !tx.Quantity.Equal(remaining) {
			tx.OpenPrice = avgOpen
			tx.Quantity = remaining
			changed = true
		}
		if tx.OpenedAt == nil {
			tx.OpenedAt = &now
			changed = true
		}
	}
	if closeQty.GreaterThan(decimal.Zero) {
		avgClose := closeCost.Div(closeQty)
		if !tx.ClosePrice.Equal(avgClose) {
			tx.ClosePrice = avgClose
			changed = true
		}
	}

	status := tx.Status
	switch {
	case openQty.IsZero():
		status = models.TransactionStatusWaiting
	case closeQty.GreaterThanOrEqual(openQty):
		status = models.TransactionStatusClosed
	case closeQty.GreaterThan(decimal.Zero) || pendingClose:
		status = models.TransactionStatusClosing
	default:
		status = models.TransactionStatusOpened
	}
	if status != tx.Status {
		m.Logger.Info("transaction status changed",
			zap.Uint64("transaction_id", tx.ID),
			zap.String("symbol", tx.Symbol),
			zap.String("from", tx.Status),
			zap.String("to", status),
		)
		tx.Status = status
		changed = true
	}
	if status == models.TransactionStatusClosed && tx.ClosedAt == nil {
		tx.ClosedAt = &now
		changed = true
	}

	if changed {
		if err := m.Repo.SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
	}
	if status == models.TransactionStatusClosed {
		m.cancelLiveProtections(ctx, orders)
	}
	return nil
}

// cancelLiveProtections marks the remaining waiting-trigger protections of
// a closed transaction canceled so they never submit.
func (m *Manager) cancelLiveProtections(ctx context.Context, orders []models.Order) {
	now := time.Now().UTC()
	for i := range orders {
		o := &orders[i]
		if o.Status != models.OrderStatusWaitingTrigger {
			continue
		}
		o.Status = models.OrderStatusCanceled
		o.CanceledAt = &now
		if err := m.Repo.SaveOrder(ctx, o); err != nil {
			m.Logger.Error("canceling stale protection failed",
				zap.Uint64("order_id", o.ID), zap.Error(err))
		}
	}
}

// RetriggerDependents recomputes each waiting-trigger dependent of a
// filled parent from its stored percent against the actual fill price,
// re-applies the minimum protection distance and submits it. The stored
// percent, not the stale absolute price, is the source of truth when the
// fill lands away from the assumed reference.
func (m *Manager) RetriggerDependents(ctx context.Context, parent *models.Order) error {
	if parent.AvgFillPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	deps, err := m.Repo.ListDependentOrders(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("list dependent orders: %w", err)
	}
	for i := range deps {
		dep := &deps[i]
		if dep.Status != models.OrderStatusWaitingTrigger {
			continue
		}
		var att models.TPSLAttachment
		if dep.Attachment(models.AttachmentTPSL, &att) {
			fillPrice := parent.AvgFillPrice
			if !att.ReferencePrice.Equal(fillPrice) {
				price := fillPrice.Mul(one.Add(decimal.NewFromFloat(att.Percent).Div(hundred)))
				price = m.applyMinimumProtection(parent.Side, att.Kind, fillPrice, price)
				if !price.Equal(dep.Price) {
					m.Logger.Info("dependent order retargeted",
						zap.Uint64("order_id", dep.ID),
						zap.String("kind", att.Kind),
						zap.String("old_price", dep.Price.String()),
						zap.String("new_price", price.String()),
						zap.String("fill_price", fillPrice.String()),
					)
					dep.Price = price
				}
				att.ReferencePrice = fillPrice
				if err := dep.SetAttachment(models.AttachmentTPSL, att); err != nil {
					m.Logger.Error("attachment encode failed",
						zap.Uint64("order_id", dep.ID), zap.Error(err))
					continue
				}
			}
			dep.Quantity = parent.FilledQuantity
		}
		if dep.BrokerOrderID != "" {
			if err := m.Broker.ModifyOrder(ctx, dep.BrokerOrderID, broker.OrderParams{
				Price:    dep.Price,
				Quantity: dep.Quantity,
			}); err != nil {
				m.Logger.Error("modify broker order failed",
					zap.Uint64("order_id", dep.ID), zap.Error(err))
			}
			continue
		}
		if err := m.submit(ctx, dep); err != nil {
			m.Logger.Error("dependent submit failed",
				zap.Uint64("order_id", dep.ID), zap.Error(err))
		}
	}
	return nil
}
