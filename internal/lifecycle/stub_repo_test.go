package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"tradecore/internal/models"
	"tradecore/internal/repository"
)

// stubRepo is a test-only in-memory implementation of
// repository.Repository. Writes copy their input so later mutations by
// the caller do not leak into the store.
type stubRepo struct {
	mu sync.Mutex

	recs     []models.Recommendation
	rulesets map[string]models.Ruleset
	configs  []models.InstrumentConfig
	orders   map[uint64]models.Order
	txs      map[uint64]models.Transaction
	evals    []models.EvaluationRecord

	nextOrderID uint64
	nextTxID    uint64
	nextRecID   uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		rulesets: map[string]models.Ruleset{},
		orders:   map[uint64]models.Order{},
		txs:      map[uint64]models.Transaction{},
	}
}

func rulesetKey(expertID uint64, useCase string) string {
	return fmt.Sprintf("%d:%s", expertID, useCase)
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) InsertRecommendation(ctx context.Context, item *models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecID++
	item.ID = s.nextRecID
	s.recs = append(s.recs, *item)
	return nil
}

func (s *stubRepo) ListPendingRecommendations(ctx context.Context, expertID uint64, useCase string) ([]models.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Recommendation
	for _, r := range s.recs {
		if r.ExpertID == expertID && r.UseCase == useCase && r.ProcessedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRepo) MarkRecommendationProcessed(ctx context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recs {
		if s.recs[i].ID == id {
			t := at
			s.recs[i].ProcessedAt = &t
		}
	}
	return nil
}

func (s *stubRepo) GetRuleset(ctx context.Context, expertID uint64, useCase string) (*models.Ruleset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.rulesets[rulesetKey(expertID, useCase)]; ok {
		out := rs
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) UpsertRuleset(ctx context.Context, item *models.Ruleset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesets[rulesetKey(item.ExpertID, item.UseCase)] = *item
	return nil
}

func (s *stubRepo) ListRulesets(ctx context.Context, expertID uint64) ([]models.Ruleset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ruleset
	for _, rs := range s.rulesets {
		if rs.ExpertID == expertID {
			out = append(out, rs)
		}
	}
	return out, nil
}

func (s *stubRepo) ListInstrumentConfigs(ctx context.Context, expertID uint64) ([]models.InstrumentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.InstrumentConfig
	for _, ic := range s.configs {
		if ic.ExpertID == expertID {
			out = append(out, ic)
		}
	}
	return out, nil
}

func (s *stubRepo) UpsertInstrumentConfig(ctx context.Context, item *models.InstrumentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, *item)
	return nil
}

func (s *stubRepo) InsertOrder(ctx context.Context, item *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	item.ID = s.nextOrderID
	s.orders[item.ID] = *item
	return nil
}

func (s *stubRepo) SaveOrder(ctx context.Context, item *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[item.ID] = *item
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		out := o
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	return nil, nil
}

func (s *stubRepo) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	return 0, nil
}

func (s *stubRepo) ListOrdersByTransactionID(ctx context.Context, transactionID uint64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for id := uint64(1); id <= s.nextOrderID; id++ {
		o, ok := s.orders[id]
		if ok && o.TransactionID != nil && *o.TransactionID == transactionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubRepo) ListDependentOrders(ctx context.Context, parentOrderID uint64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for id := uint64(1); id <= s.nextOrderID; id++ {
		o, ok := s.orders[id]
		if ok && o.ParentOrderID != nil && *o.ParentOrderID == parentOrderID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubRepo) ListOrdersByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match := map[string]struct{}{}
	for _, st := range statuses {
		match[st] = struct{}{}
	}
	var out []models.Order
	for id := uint64(1); id <= s.nextOrderID; id++ {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		if _, hit := match[o.Status]; hit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubRepo) InsertTransaction(ctx context.Context, item *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxID++
	item.ID = s.nextTxID
	s.txs[item.ID] = *item
	return nil
}

func (s *stubRepo) SaveTransaction(ctx context.Context, item *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[item.ID] = *item
	return nil
}

func (s *stubRepo) GetTransactionByID(ctx context.Context, id uint64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		out := tx
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetActiveTransaction(ctx context.Context, expertID uint64, symbol string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ExpertID == expertID && tx.Symbol == symbol && tx.Active() {
			out := tx
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListActiveTransactions(ctx context.Context, expertID uint64) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for id := uint64(1); id <= s.nextTxID; id++ {
		tx, ok := s.txs[id]
		if ok && tx.ExpertID == expertID && tx.Active() {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *stubRepo) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	return 0, nil
}

func (s *stubRepo) InsertEvaluationRecord(ctx context.Context, item *models.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals = append(s.evals, *item)
	return nil
}

func (s *stubRepo) ListEvaluationRecords(ctx context.Context, params repository.ListEvaluationsParams) ([]models.EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EvaluationRecord(nil), s.evals...), nil
}

func (s *stubRepo) CountEvaluationRecords(ctx context.Context, params repository.ListEvaluationsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.evals)), nil
}
