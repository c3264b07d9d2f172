package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tradecore/internal/models"
)

type ListOrdersParams struct {
	Limit         int
	Offset        int
	ExpertID      *uint64
	Symbol        *string
	Status        *string
	TransactionID *uint64
	OrderBy       string
	Asc           *bool
}

type ListTransactionsParams struct {
	Limit    int
	Offset   int
	ExpertID *uint64
	Symbol   *string
	Status   *string
	OrderBy  string
	Asc      *bool
}

type ListEvaluationsParams struct {
	Limit    int
	Offset   int
	ExpertID *uint64
	Symbol   *string
	Since    *time.Time
}

// Repository is the transactional store boundary for the decision core.
// Orders, transactions and evaluation records are archived, never deleted.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Recommendations (write-once; the core only reads and marks them).
	InsertRecommendation(ctx context.Context, item *models.Recommendation) error
	ListPendingRecommendations(ctx context.Context, expertID uint64, useCase string) ([]models.Recommendation, error)
	MarkRecommendationProcessed(ctx context.Context, id uint64, at time.Time) error

	// Rulesets (configuration, loaded read-only per evaluation).
	GetRuleset(ctx context.Context, expertID uint64, useCase string) (*models.Ruleset, error)
	UpsertRuleset(ctx context.Context, item *models.Ruleset) error
	ListRulesets(ctx context.Context, expertID uint64) ([]models.Ruleset, error)

	// Instrument configuration.
	ListInstrumentConfigs(ctx context.Context, expertID uint64) ([]models.InstrumentConfig, error)
	UpsertInstrumentConfig(ctx context.Context, item *models.InstrumentConfig) error

	// Orders.
	InsertOrder(ctx context.Context, item *models.Order) error
	SaveOrder(ctx context.Context, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	ListOrdersByTransactionID(ctx context.Context, transactionID uint64) ([]models.Order, error)
	ListDependentOrders(ctx context.Context, parentOrderID uint64) ([]models.Order, error)
	ListOrdersByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Order, error)

	// Transactions. GetActiveTransaction backs the duplicate-position
	// guard and must be cheap (composite index on expert, symbol, status).
	InsertTransaction(ctx context.Context, item *models.Transaction) error
	SaveTransaction(ctx context.Context, item *models.Transaction) error
	GetTransactionByID(ctx context.Context, id uint64) (*models.Transaction, error)
	GetActiveTransaction(ctx context.Context, expertID uint64, symbol string) (*models.Transaction, error)
	ListActiveTransactions(ctx context.Context, expertID uint64) ([]models.Transaction, error)
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, params ListTransactionsParams) (int64, error)

	// Evaluation traces.
	InsertEvaluationRecord(ctx context.Context, item *models.EvaluationRecord) error
	ListEvaluationRecords(ctx context.Context, params ListEvaluationsParams) ([]models.EvaluationRecord, error)
	CountEvaluationRecords(ctx context.Context, params ListEvaluationsParams) (int64, error)
}
