package services

import (
	"context"

	"fintrack/internal/core"
	"fintrack/internal/dto"
	"fintrack/internal/storage"
)

// LedgerStore is the local store the engine writes to first.
type LedgerStore interface {
	InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, userID string, id int64) error
	GetTransaction(ctx context.Context, userID string, id int64) (core.Transaction, error)
	UpsertTransactionByServerID(ctx context.Context, tx core.Transaction) (int64, bool, error)
	ListTransactions(ctx context.Context, userID string, f storage.TransactionFilter) ([]core.Transaction, error)
	SumByType(ctx context.Context, userID string) (core.Totals, error)

	InsertBudget(ctx context.Context, b core.Budget) (int64, error)
	UpdateBudget(ctx context.Context, b core.Budget) error
	DeleteBudget(ctx context.Context, userID string, id int64) error
	GetBudget(ctx context.Context, userID string, id int64) (core.Budget, error)
	UpsertBudgetByServerID(ctx context.Context, b core.Budget) (int64, bool, error)
	ListBudgets(ctx context.Context, userID string) ([]core.Budget, error)

	InsertCategory(ctx context.Context, c core.Category) (int64, error)
	UpdateCategory(ctx context.Context, c core.Category) error
	DeleteCategory(ctx context.Context, userID string, id int64) error
	GetCategory(ctx context.Context, userID string, id int64) (core.Category, error)
	UpsertCategoryByServerID(ctx context.Context, c core.Category) (int64, bool, error)
	ListCategories(ctx context.Context, userID string) ([]core.Category, error)
}

// RemoteLedger is the authoritative backend.
type RemoteLedger interface {
	ListTransactions(ctx context.Context, token string) ([]dto.TransactionDTO, error)
	CreateTransaction(ctx context.Context, token string, t dto.TransactionDTO) (dto.TransactionDTO, error)
	UpdateTransaction(ctx context.Context, token, serverID string, t dto.TransactionDTO) (dto.TransactionDTO, error)
	DeleteTransaction(ctx context.Context, token, serverID string) error
	SyncTransactions(ctx context.Context, token string, items []dto.TransactionDTO) (int, error)

	ListBudgets(ctx context.Context, token string) ([]dto.BudgetDTO, error)
	CreateBudget(ctx context.Context, token string, b dto.BudgetDTO) (dto.BudgetDTO, error)
	UpdateBudget(ctx context.Context, token, serverID string, b dto.BudgetDTO) (dto.BudgetDTO, error)
	DeleteBudget(ctx context.Context, token, serverID string) error

	ListCategories(ctx context.Context, token string) ([]dto.CategoryDTO, error)
	CreateCategory(ctx context.Context, token string, c dto.CategoryDTO) (dto.CategoryDTO, error)
	DeleteCategory(ctx context.Context, token, serverID string) error
}
