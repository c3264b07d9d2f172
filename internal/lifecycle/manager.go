package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	"tradecore/internal/allocator"
	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/metrics"
	"tradecore/internal/models"
	"tradecore/internal/pricing"
	"tradecore/internal/repository"
	"tradecore/internal/rules"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Manager owns the order and transaction lifecycle: it turns pending
// recommendations into evaluated intents, sizes and submits the resulting
// orders, maintains dependent take-profit/stop-loss orders and reconciles
// transaction status from fills. One run per (expert, use case) executes
// at a time; concurrent invocations skip instead of queueing.
type Manager struct {
	Repo      repository.Repository
	Broker    broker.Broker
	Prices    *pricing.Cache
	Evaluator *rules.Evaluator
	Allocator *allocator.Allocator
	Logger    *zap.Logger
	Config    config.LifecycleConfig
	Account   string

	// Limiter throttles order submission toward the broker.
	Limiter *rate.Limiter

	locksMu sync.Mutex
	locks   map[lockKey]chan struct{}
}

// Result summarizes one processing run.
type Result struct {
	Skipped         bool                `json:"skipped"`
	Recommendations int                 `json:"recommendations"`
	Evaluations     []*rules.Evaluation `json:"evaluations,omitempty"`
	Orders          []models.Order      `json:"orders,omitempty"`
}

// runSnapshot is the account and configuration state one run evaluates
// against. It is loaded once under the processing lock.
type runSnapshot struct {
	rules          []rules.Rule
	recs           []models.Recommendation
	balance        decimal.Decimal
	equity         decimal.Decimal
	allocations    map[string]decimal.Decimal
	activeBySymbol map[string]*models.Transaction
	weights        map[string]int
	disabled       map[string]bool
}

// ProcessRecommendationsAfterAnalysis drains the pending recommendations
// for (expert, use case): each one is evaluated against the expert's
// ruleset, entry intents are batch-sized by the allocator, and all
// resulting orders are persisted and submitted. When another run holds
// the lock the invocation skips and returns Skipped.
func (m *Manager) ProcessRecommendationsAfterAnalysis(ctx context.Context, expertID uint64, useCase string) (*Result, error) {
	key := lockKey{ExpertID: expertID, UseCase: useCase}
	if !m.tryLock(key) {
		metrics.ContentionSkips.Inc()
		m.Logger.Info("processing skipped: already running",
			zap.Uint64("expert_id", expertID),
			zap.String("use_case", useCase),
		)
		return &Result{Skipped: true}, nil
	}
	defer m.unlock(key)

	snap, err := m.loadSnapshot(ctx, expertID, useCase)
	if err != nil {
		return nil, err
	}
	res := &Result{Recommendations: len(snap.recs)}
	if len(snap.recs) == 0 {
		return res, nil
	}

	now := time.Now().UTC()
	var candidates []allocator.Candidate

	for _, rec := range snap.recs {
		if snap.disabled[rec.Symbol] {
			m.Logger.Info("recommendation skipped: instrument disabled",
				zap.Uint64("expert_id", expertID),
				zap.String("symbol", rec.Symbol),
			)
			if err := m.Repo.MarkRecommendationProcessed(ctx, rec.ID, now); err != nil {
				return res, fmt.Errorf("mark recommendation %d processed: %w", rec.ID, err)
			}
			continue
		}

		ectx := m.evalContext(ctx, snap, rec)
		ev := m.Evaluator.Evaluate(snap.rules, ectx, rules.EvaluationStrategy{})
		metrics.EvaluationsTotal.Inc()
		res.Evaluations = append(res.Evaluations, ev)
		m.archiveEvaluation(ctx, useCase, rec, ev)
		if err := m.Repo.MarkRecommendationProcessed(ctx, rec.ID, now); err != nil {
			return res, fmt.Errorf("mark recommendation %d processed: %w", rec.ID, err)
		}

		for _, intent := range ev.Intents {
			metrics.IntentsEmitted.Inc()
			switch intent.Action {
			case rules.ActionOpenPosition:
				existing := snap.activeBySymbol[intent.Symbol]
				if existing != nil && existing.Active() {
					metrics.DuplicatePositionSkips.Inc()
					m.Logger.Info("entry skipped: active position exists",
						zap.Uint64("expert_id", expertID),
						zap.String("symbol", intent.Symbol),
						zap.Uint64("transaction_id", existing.ID),
					)
					continue
				}
				order := orderFromIntent(expertID, intent)
				candidates = append(candidates, allocator.Candidate{Order: order, Recommendation: rec})

			case rules.ActionIncreaseShare:
				order, err := m.increaseShare(ctx, snap, expertID, intent)
				if err != nil {
					m.Logger.Error("increase share failed",
						zap.String("symbol", intent.Symbol), zap.Error(err))
					continue
				}
				if order != nil {
					res.Orders = append(res.Orders, *order)
				}

			case rules.ActionClosePosition, rules.ActionDecreaseShare:
				order, err := m.closeOrReduce(ctx, snap, expertID, intent)
				if err != nil {
					m.Logger.Error("position reduction failed",
						zap.String("symbol", intent.Symbol), zap.Error(err))
					continue
				}
				if order != nil {
					res.Orders = append(res.Orders, *order)
				}

			case rules.ActionAdjustTakeProfit, rules.ActionAdjustStopLoss:
				order, err := m.adjustDependent(ctx, snap, intent)
				if err != nil {
					m.Logger.Error("protection adjustment failed",
						zap.String("symbol", intent.Symbol), zap.Error(err))
					continue
				}
				if order != nil {
					res.Orders = append(res.Orders, *order)
				}
			}
		}
	}

	st := &allocator.State{
		Account:          m.Account,
		Balance:          snap.balance,
		Allocations:      snap.allocations,
		Weights:          snap.weights,
		MaxPerInstrument: decimal.NewFromFloat(m.Allocator.Config.MaxEquityPerInstrument),
	}
	m.Allocator.Allocate(ctx, candidates, st)
	snap.balance = st.Balance

	for _, cand := range candidates {
		order := cand.Order
		if order.Status == models.OrderStatusError {
			metrics.OrdersFailed.Inc()
			if err := m.Repo.InsertOrder(ctx, order); err != nil {
				return res, fmt.Errorf("archive rejected order: %w", err)
			}
			res.Orders = append(res.Orders, *order)
			continue
		}
		if order.Quantity.LessThanOrEqual(decimal.Zero) {
			m.Logger.Info("entry skipped: no quantity allocated",
				zap.Uint64("expert_id", expertID),
				zap.String("symbol", order.Symbol),
			)
			continue
		}
		if err := m.openPosition(ctx, snap, cand.Recommendation, order); err != nil {
			m.Logger.Error("open position failed",
				zap.String("symbol", order.Symbol), zap.Error(err))
			continue
		}
		res.Orders = append(res.Orders, *order)
	}
	return res, nil
}

// DryRun evaluates the pending recommendations under the given strategy
// without creating orders, marking recommendations or archiving traces.
// It backs the operator debug endpoint.
func (m *Manager) DryRun(ctx context.Context, expertID uint64, useCase string, strat rules.EvaluationStrategy) ([]*rules.Evaluation, error) {
	snap, err := m.loadSnapshot(ctx, expertID, useCase)
	if err != nil {
		return nil, err
	}
	out := make([]*rules.Evaluation, 0, len(snap.recs))
	for _, rec := range snap.recs {
		ectx := m.evalContext(ctx, snap, rec)
		out = append(out, m.Evaluator.Evaluate(snap.rules, ectx, strat))
	}
	return out, nil
}

func (m *Manager) loadSnapshot(ctx context.Context, expertID uint64, useCase string) (*runSnapshot, error) {
	row, err := m.Repo.GetRuleset(ctx, expertID, useCase)
	if err != nil {
		return nil, fmt.Errorf("load ruleset: %w", err)
	}
	if row == nil || !row.Enabled {
		return nil, ErrNoRuleset
	}
	ruleList, err := rules.DecodeRules(row.Rules)
	if err != nil {
		return nil, fmt.Errorf("decode ruleset %d: %w", row.ID, err)
	}

	recs, err := m.Repo.ListPendingRecommendations(ctx, expertID, useCase)
	if err != nil {
		return nil, fmt.Errorf("list pending recommendations: %w", err)
	}

	balance, err := m.Broker.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker balance: %w", err)
	}

	active, err := m.Repo.ListActiveTransactions(ctx, expertID)
	if err != nil {
		return nil, fmt.Errorf("list active transactions: %w", err)
	}
	allocations := map[string]decimal.Decimal{}
	activeBySymbol := map[string]*models.Transaction{}
	total := decimal.Zero
	for i := range active {
		tx := &active[i]
		cost := tx.CostBasis()
		allocations[tx.Symbol] = allocations[tx.Symbol].Add(cost)
		total = total.Add(cost)
		activeBySymbol[tx.Symbol] = tx
	}

	cfgs, err := m.Repo.ListInstrumentConfigs(ctx, expertID)
	if err != nil {
		return nil, fmt.Errorf("list instrument configs: %w", err)
	}
	weights := map[string]int{}
	disabled := map[string]bool{}
	for _, ic := range cfgs {
		weights[ic.Symbol] = ic.Weight
		if !ic.Enabled {
			disabled[ic.Symbol] = true
		}
	}

	return &runSnapshot{
		rules:          ruleList,
		recs:           recs,
		balance:        balance,
		equity:         balance.Add(total),
		allocations:    allocations,
		activeBySymbol: activeBySymbol,
		weights:        weights,
		disabled:       disabled,
	}, nil
}

func (m *Manager) evalContext(ctx context.Context, snap *runSnapshot, rec models.Recommendation) *rules.EvalContext {
	price, ok := m.Prices.Price(ctx, m.Account, rec.Symbol)
	return &rules.EvalContext{
		Recommendation: rec,
		Position:       snap.activeBySymbol[rec.Symbol],
		CurrentPrice:   price,
		HasPrice:       ok,
		Equity:         snap.equity,
		AllocatedCost:  snap.allocations[rec.Symbol],
		Now:            time.Now().UTC(),
	}
}

// openPosition creates the transaction and its entry order, submits it and
// attaches the configured default protections. The active-position check
// re-runs here: the batch may have opened the symbol earlier in this run.
func (m *Manager) openPosition(ctx context.Context, snap *runSnapshot, rec models.Recommendation, order *models.Order) error {
	existing, err := m.Repo.GetActiveTransaction(ctx, order.ExpertID, order.Symbol)
	if err != nil {
		return fmt.Errorf("active transaction check: %w", err)
	}
	if existing != nil {
		metrics.DuplicatePositionSkips.Inc()
		m.Logger.Info("entry skipped: active position exists",
			zap.Uint64("expert_id", order.ExpertID),
			zap.String("symbol", order.Symbol),
			zap.Uint64("transaction_id", existing.ID),
		)
		return nil
	}

	tx := &models.Transaction{
		ExpertID:    order.ExpertID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Status:      models.TransactionStatusWaiting,
		Quantity:    order.Quantity,
		OpenPrice:   order.Price,
		TargetPrice: rec.TargetPrice,
	}
	if err := m.Repo.InsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	snap.activeBySymbol[order.Symbol] = tx

	order.TransactionID = &tx.ID
	if err := m.Repo.InsertOrder(ctx, order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := m.submit(ctx, order); err != nil {
		return err
	}
	m.createDefaultProtections(ctx, order, tx)
	return nil
}

// createDefaultProtections attaches the configured take-profit and
// stop-loss dependents to a freshly submitted entry order. Failures are
// logged, not fatal: the position stands without protection and the next
// adjust intent can still create it.
func (m *Manager) createDefaultProtections(ctx context.Context, parent *models.Order, tx *models.Transaction) {
	long := tx.Side == models.SideBuy
	if tp := m.Config.DefaultTakeProfitPct; tp > 0 {
		pct := tp
		if !long {
			pct = -tp
		}
		if _, err := m.createDependent(ctx, parent, tx, models.TPSLKindTakeProfit, pct, parent.Price); err != nil {
			m.Logger.Error("default take profit failed",
				zap.Uint64("order_id", parent.ID), zap.Error(err))
		}
	}
	if sl := m.Config.DefaultStopLossPct; sl > 0 {
		pct := -sl
		if !long {
			pct = sl
		}
		if _, err := m.createDependent(ctx, parent, tx, models.TPSLKindStopLoss, pct, parent.Price); err != nil {
			m.Logger.Error("default stop loss failed",
				zap.Uint64("order_id", parent.ID), zap.Error(err))
		}
	}
}

// createDependent persists a waiting-trigger protection order computed
// from percent over reference. The price is clamped to the configured
// minimum protection distance from the position's open price. When the
// parent is already filled the dependent is submitted immediately.
func (m *Manager) createDependent(ctx context.Context, parent *models.Order, tx *models.Transaction, kind string, percent float64, reference decimal.Decimal) (*models.Order, error) {
	price := reference.Mul(one.Add(decimal.NewFromFloat(percent).Div(hundred)))
	price = m.applyMinimumProtection(tx.Side, kind, tx.OpenPrice, price)

	orderType := models.OrderTypeLimit
	if kind == models.TPSLKindStopLoss {
		orderType = models.OrderTypeStop
	}
	dep := &models.Order{
		ExpertID:      parent.ExpertID,
		TransactionID: parent.TransactionID,
		ParentOrderID: &parent.ID,
		Symbol:        parent.Symbol,
		Side:          oppositeSide(tx.Side),
		OrderType:     orderType,
		Quantity:      parent.Quantity,
		Price:         price,
		Status:        models.OrderStatusWaitingTrigger,
	}
	if err := dep.SetAttachment(models.AttachmentTPSL, models.TPSLAttachment{
		Percent:        percent,
		ReferencePrice: reference,
		Kind:           kind,
	}); err != nil {
		return nil, fmt.Errorf("encode attachment: %w", err)
	}
	if err := m.Repo.InsertOrder(ctx, dep); err != nil {
		return nil, fmt.Errorf("insert dependent order: %w", err)
	}
	if parent.Status == models.OrderStatusFilled {
		dep.Quantity = parent.FilledQuantity
		if err := m.submit(ctx, dep); err != nil {
			return dep, err
		}
	}
	return dep, nil
}

// adjustDependent retargets the position's existing protection order of
// the intent's kind, or creates one when none exists.
func (m *Manager) adjustDependent(ctx context.Context, snap *runSnapshot, intent rules.OrderIntent) (*models.Order, error) {
	pos := snap.activeBySymbol[intent.Symbol]
	if pos == nil || intent.Calc == nil {
		return nil, rules.ErrNoPosition
	}
	kind := models.TPSLKindTakeProfit
	if intent.Action == rules.ActionAdjustStopLoss {
		kind = models.TPSLKindStopLoss
	}

	orders, err := m.Repo.ListOrdersByTransactionID(ctx, pos.ID)
	if err != nil {
		return nil, fmt.Errorf("list transaction orders: %w", err)
	}

	price := m.applyMinimumProtection(pos.Side, kind, pos.OpenPrice, intent.Price)
	att := models.TPSLAttachment{
		Percent:        intent.Calc.Percent,
		ReferencePrice: intent.Calc.ReferencePrice,
		Kind:           kind,
	}

	for i := range orders {
		dep := &orders[i]
		if dep.Status != models.OrderStatusWaitingTrigger && dep.Status != models.OrderStatusSubmitted {
			continue
		}
		var existing models.TPSLAttachment
		if !dep.Attachment(models.AttachmentTPSL, &existing) || existing.Kind != kind {
			continue
		}
		if dep.Price.Equal(price) {
			return dep, nil
		}
		m.Logger.Info("protection retargeted",
			zap.Uint64("order_id", dep.ID),
			zap.String("kind", kind),
			zap.String("old_price", dep.Price.String()),
			zap.String("new_price", price.String()),
		)
		dep.Price = price
		if err := dep.SetAttachment(models.AttachmentTPSL, att); err != nil {
			return nil, fmt.Errorf("encode attachment: %w", err)
		}
		if dep.BrokerOrderID != "" {
			if err := m.Broker.ModifyOrder(ctx, dep.BrokerOrderID, broker.OrderParams{
				Price:    dep.Price,
				Quantity: dep.Quantity,
			}); err != nil {
				return nil, fmt.Errorf("modify broker order: %w", err)
			}
		}
		if err := m.Repo.SaveOrder(ctx, dep); err != nil {
			return nil, fmt.Errorf("save dependent order: %w", err)
		}
		return dep, nil
	}

	// No live protection of this kind: create one off the entry order.
	parent := entryOrder(orders, pos.Side)
	if parent == nil {
		return nil, fmt.Errorf("transaction %d has no entry order", pos.ID)
	}
	return m.createDependent(ctx, parent, pos, kind, intent.Calc.Percent, intent.Calc.ReferencePrice)
}

// increaseShare submits a market buy that tops the position up toward the
// target equity share. The quantity was computed by the rules engine; it
// is re-capped here against the remaining balance.
func (m *Manager) increaseShare(ctx context.Context, snap *runSnapshot, expertID uint64, intent rules.OrderIntent) (*models.Order, error) {
	pos := snap.activeBySymbol[intent.Symbol]
	qty := intent.Quantity
	if intent.Price.GreaterThan(decimal.Zero) {
		affordable := snap.balance.Div(intent.Price).Floor()
		if qty.GreaterThan(affordable) {
			qty = affordable
		}
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		m.Logger.Info("share increase skipped: insufficient balance",
			zap.Uint64("expert_id", expertID),
			zap.String("symbol", intent.Symbol),
			zap.String("balance", snap.balance.StringFixed(2)),
		)
		return nil, nil
	}

	order := orderFromIntent(expertID, intent)
	order.Quantity = qty
	if pos != nil {
		order.TransactionID = &pos.ID
	}
	if err := m.Repo.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	if err := m.submit(ctx, order); err != nil {
		return order, err
	}
	cost := qty.Mul(intent.Price)
	snap.balance = snap.balance.Sub(cost)
	snap.allocations[intent.Symbol] = snap.allocations[intent.Symbol].Add(cost)
	return order, nil
}

// closeOrReduce submits a market order against the position: the full
// quantity for close intents, the computed excess for share decreases.
func (m *Manager) closeOrReduce(ctx context.Context, snap *runSnapshot, expertID uint64, intent rules.OrderIntent) (*models.Order, error) {
	pos := snap.activeBySymbol[intent.Symbol]
	if pos == nil {
		return nil, fmt.Errorf("no active position for %s", intent.Symbol)
	}
	order := orderFromIntent(expertID, intent)
	order.TransactionID = &pos.ID
	if err := m.Repo.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	if err := m.submit(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// submit pushes one persisted order to the broker under the rate limit,
// then picks up any synchronous fill and reconciles the transaction.
func (m *Manager) submit(ctx context.Context, order *models.Order) error {
	if m.Limiter != nil {
		if err := m.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	brokerID, err := m.Broker.SubmitOrder(ctx, order)
	if err != nil {
		metrics.OrdersFailed.Inc()
		order.Status = models.OrderStatusError
		order.FailureReason = err.Error()
		if saveErr := m.Repo.SaveOrder(ctx, order); saveErr != nil {
			m.Logger.Error("persisting order rejection failed",
				zap.Uint64("order_id", order.ID), zap.Error(saveErr))
		}
		return fmt.Errorf("submit order %d: %w", order.ID, err)
	}
	now := time.Now().UTC()
	order.BrokerOrderID = brokerID
	order.Status = models.OrderStatusSubmitted
	order.SubmittedAt = &now
	if err := m.Repo.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("save submitted order %d: %w", order.ID, err)
	}
	metrics.OrdersSubmitted.Inc()

	// Market orders in paper mode fill synchronously.
	if err := m.refreshFill(ctx, order); err != nil {
		m.Logger.Warn("fill refresh failed",
			zap.Uint64("order_id", order.ID), zap.Error(err))
		return nil
	}
	if order.TransactionID != nil {
		if err := m.ReconcileTransaction(ctx, *order.TransactionID); err != nil {
			m.Logger.Warn("transaction reconcile failed",
				zap.Uint64("transaction_id", *order.TransactionID), zap.Error(err))
		}
	}
	if order.Status == models.OrderStatusFilled {
		if err := m.RetriggerDependents(ctx, order); err != nil {
			m.Logger.Warn("dependent retrigger failed",
				zap.Uint64("order_id", order.ID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) archiveEvaluation(ctx context.Context, useCase string, rec models.Recommendation, ev *rules.Evaluation) {
	trace, err := json.Marshal(ev)
	if err != nil {
		m.Logger.Error("evaluation trace encode failed",
			zap.String("evaluation_id", ev.ID), zap.Error(err))
		return
	}
	record := &models.EvaluationRecord{
		EvaluationID:     ev.ID,
		ExpertID:         rec.ExpertID,
		UseCase:          useCase,
		RecommendationID: rec.ID,
		Symbol:           rec.Symbol,
		ActionCount:      len(ev.Intents),
		Trace:            datatypes.JSON(trace),
	}
	if err := m.Repo.InsertEvaluationRecord(ctx, record); err != nil {
		m.Logger.Error("evaluation archive failed",
			zap.String("evaluation_id", ev.ID), zap.Error(err))
	}
}

func orderFromIntent(expertID uint64, intent rules.OrderIntent) *models.Order {
	return &models.Order{
		ExpertID:  expertID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		OrderType: intent.OrderType,
		Quantity:  intent.Quantity,
		Price:     intent.Price,
		Status:    models.OrderStatusPending,
	}
}

// entryOrder picks the order that opened the position: the earliest one
// on the position's own side.
func entryOrder(orders []models.Order, side string) *models.Order {
	for i := range orders {
		if orders[i].Side == side {
			return &orders[i]
		}
	}
	return nil
}

func oppositeSide(side string) string {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}
