package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecore/internal/models"
	"tradecore/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- recommendations ---------------------------------------------------------

func (s *Store) InsertRecommendation(ctx context.Context, item *models.Recommendation) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPendingRecommendations(ctx context.Context, expertID uint64, useCase string) ([]models.Recommendation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Recommendation
	query := s.db.WithContext(ctx).
		Model(&models.Recommendation{}).
		Where("expert_id = ?", expertID).
		Where("processed_at IS NULL")
	if strings.TrimSpace(useCase) != "" {
		query = query.Where("use_case = ?", strings.TrimSpace(useCase))
	}
	if err := query.Order("created_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkRecommendationProcessed(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.Recommendation{}).
		Where("id = ?", id).
		Update("processed_at", at).Error
}

// --- rulesets ----------------------------------------------------------------

func (s *Store) GetRuleset(ctx context.Context, expertID uint64, useCase string) (*models.Ruleset, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Ruleset
	err := s.db.WithContext(ctx).
		Where("expert_id = ?", expertID).
		Where("use_case = ?", strings.TrimSpace(useCase)).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertRuleset(ctx context.Context, item *models.Ruleset) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "expert_id"}, {Name: "use_case"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"enabled",
			"rules",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListRulesets(ctx context.Context, expertID uint64) ([]models.Ruleset, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Ruleset
	query := s.db.WithContext(ctx).Model(&models.Ruleset{})
	if expertID > 0 {
		query = query.Where("expert_id = ?", expertID)
	}
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- instrument configs ------------------------------------------------------

func (s *Store) ListInstrumentConfigs(ctx context.Context, expertID uint64) ([]models.InstrumentConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.InstrumentConfig
	if err := s.db.WithContext(ctx).
		Model(&models.InstrumentConfig{}).
		Where("expert_id = ?", expertID).
		Order("symbol asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertInstrumentConfig(ctx context.Context, item *models.InstrumentConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "expert_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled",
			"weight",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- orders ------------------------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SaveOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func applyOrderFilters(query *gorm.DB, params repository.ListOrdersParams) *gorm.DB {
	if params.ExpertID != nil && *params.ExpertID > 0 {
		query = query.Where("expert_id = ?", *params.ExpertID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.TransactionID != nil && *params.TransactionID > 0 {
		query = query.Where("transaction_id = ?", *params.TransactionID)
	}
	return query
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Order
	if err := query.
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params)
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListOrdersByTransactionID(ctx context.Context, transactionID uint64) ([]models.Order, error) {
	if s == nil || s.db == nil || transactionID == 0 {
		return nil, nil
	}
	var items []models.Order
	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListDependentOrders(ctx context.Context, parentOrderID uint64) ([]models.Order, error) {
	if s == nil || s.db == nil || parentOrderID == 0 {
		return nil, nil
	}
	var items []models.Order
	if err := s.db.WithContext(ctx).
		Where("parent_order_id = ?", parentOrderID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrdersByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil || len(statuses) == 0 {
		return nil, nil
	}
	var items []models.Order
	if err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- transactions ------------------------------------------------------------

func (s *Store) InsertTransaction(ctx context.Context, item *models.Transaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SaveTransaction(ctx context.Context, item *models.Transaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetTransactionByID(ctx context.Context, id uint64) (*models.Transaction, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Transaction
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetActiveTransaction(ctx context.Context, expertID uint64, symbol string) (*models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Transaction
	err := s.db.WithContext(ctx).
		Where("expert_id = ?", expertID).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Where("status IN ?", []string{models.TransactionStatusWaiting, models.TransactionStatusOpened}).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListActiveTransactions(ctx context.Context, expertID uint64) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Transaction
	query := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.TransactionStatusWaiting, models.TransactionStatusOpened})
	if expertID > 0 {
		query = query.Where("expert_id = ?", expertID)
	}
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func applyTransactionFilters(query *gorm.DB, params repository.ListTransactionsParams) *gorm.DB {
	if params.ExpertID != nil && *params.ExpertID > 0 {
		query = query.Where("expert_id = ?", *params.ExpertID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyTransactionFilters(s.db.WithContext(ctx).Model(&models.Transaction{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Transaction
	if err := query.
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	query := applyTransactionFilters(s.db.WithContext(ctx).Model(&models.Transaction{}), params)
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- evaluation records --------------------------------------------------------

func (s *Store) InsertEvaluationRecord(ctx context.Context, item *models.EvaluationRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func applyEvaluationFilters(query *gorm.DB, params repository.ListEvaluationsParams) *gorm.DB {
	if params.ExpertID != nil && *params.ExpertID > 0 {
		query = query.Where("expert_id = ?", *params.ExpertID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListEvaluationRecords(ctx context.Context, params repository.ListEvaluationsParams) ([]models.EvaluationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyEvaluationFilters(s.db.WithContext(ctx).Model(&models.EvaluationRecord{}), params)
	var items []models.EvaluationRecord
	if err := query.
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountEvaluationRecords(ctx context.Context, params repository.ListEvaluationsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	query := applyEvaluationFilters(s.db.WithContext(ctx).Model(&models.EvaluationRecord{}), params)
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- helpers -------------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	col := strings.TrimSpace(orderBy)
	switch col {
	case "created_at", "updated_at", "id", "symbol", "status":
	default:
		col = fallback
	}
	dir := "desc"
	if asc != nil && *asc {
		dir = "asc"
	}
	return query.Order(col + " " + dir)
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
