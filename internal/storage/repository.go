package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fintrack/internal/core"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// TransactionFilter narrows a transaction listing. Zero values mean "no bound".
type TransactionFilter struct {
	From       time.Time
	To         time.Time
	CategoryID *int64
	Type       core.TransactionType
	Limit      int
}

// SQLiteRepository is the local ledger store. Every query is scoped by user id;
// an empty user id is its own scope, never a wildcard.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// lockUser serializes writes within one user scope.
func (r *SQLiteRepository) lockUser(userID string) func() {
	r.locksMu.Lock()
	m, ok := r.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[userID] = m
	}
	r.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

func storageErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return &core.LocalStorageError{Op: op, Err: err}
}

// Transactions

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	row, err := transactionToRow(tx)
	if err != nil {
		return 0, err
	}
	if row.CreatedAtMs == 0 {
		row.CreatedAtMs = time.Now().UnixMilli()
	}

	unlock := r.lockUser(tx.UserID)
	defer unlock()

	id, err := r.queries.InsertTransaction(ctx, row)
	if err != nil {
		return 0, storageErr("insert transaction", err)
	}
	slog.DebugContext(ctx, "Transaction saved to SQLite", "local_id", id, "user_id", tx.UserID, "type", tx.Type)
	return id, nil
}

// UpdateTransaction overwrites the row identified by tx.LocalID in tx.UserID's scope.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	row, err := transactionToRow(tx)
	if err != nil {
		return err
	}

	unlock := r.lockUser(tx.UserID)
	defer unlock()

	n, err := r.queries.UpdateTransaction(ctx, row)
	if err != nil {
		return storageErr("update transaction", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeleteTransaction removes the row; deleting a missing row is not an error.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID string, id int64) error {
	unlock := r.lockUser(userID)
	defer unlock()

	if _, err := r.queries.DeleteTransaction(ctx, id, userID); err != nil {
		return storageErr("delete transaction", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID string, id int64) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id, userID)
	if err != nil {
		return core.Transaction{}, storageErr("get transaction", err)
	}
	return rowToTransaction(row)
}

func (r *SQLiteRepository) GetTransactionByServerID(ctx context.Context, userID, serverID string) (core.Transaction, error) {
	row, err := r.queries.GetTransactionByServerID(ctx, serverID, userID)
	if err != nil {
		return core.Transaction{}, storageErr("get transaction by server id", err)
	}
	return rowToTransaction(row)
}

// UpsertTransactionByServerID applies a pulled record: the local row with the
// same (server id, user id) is overwritten in place, otherwise a new row is
// inserted. The lookup and the write happen under the user's write lock.
func (r *SQLiteRepository) UpsertTransactionByServerID(ctx context.Context, tx core.Transaction) (localID int64, inserted bool, err error) {
	if tx.ServerID == "" {
		return 0, false, fmt.Errorf("%w: pulled transaction without server id", core.ErrInvalidRecord)
	}

	unlock := r.lockUser(tx.UserID)
	defer unlock()

	existing, err := r.queries.GetTransactionByServerID(ctx, tx.ServerID, tx.UserID)
	switch {
	case err == nil:
		tx.LocalID = existing.ID
		row, err := transactionToRow(tx)
		if err != nil {
			return 0, false, err
		}
		row.CreatedAtMs = existing.CreatedAtMs
		if _, err := r.queries.UpdateTransaction(ctx, row); err != nil {
			return 0, false, storageErr("update pulled transaction", err)
		}
		return existing.ID, false, nil
	case errors.Is(err, sql.ErrNoRows):
		row, err := transactionToRow(tx)
		if err != nil {
			return 0, false, err
		}
		if row.CreatedAtMs == 0 {
			row.CreatedAtMs = time.Now().UnixMilli()
		}
		id, err := r.queries.InsertTransaction(ctx, row)
		if err != nil {
			return 0, false, storageErr("insert pulled transaction", err)
		}
		return id, true, nil
	default:
		return 0, false, storageErr("lookup pulled transaction", err)
	}
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error) {
	p := ListTransactionsParams{UserID: userID, CategoryID: f.CategoryID, Type: string(f.Type), Limit: f.Limit}
	if !f.From.IsZero() {
		ms := f.From.UnixMilli()
		p.FromMs = &ms
	}
	if !f.To.IsZero() {
		ms := f.To.UnixMilli()
		p.ToMs = &ms
	}

	rows, err := r.queries.ListTransactions(ctx, p)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := rowToTransaction(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *SQLiteRepository) CountTransactions(ctx context.Context, userID string) (int64, error) {
	n, err := r.queries.CountTransactions(ctx, userID)
	if err != nil {
		return 0, storageErr("count transactions", err)
	}
	return n, nil
}

// SumByType totals the user's amounts per transaction type.
func (r *SQLiteRepository) SumByType(ctx context.Context, userID string) (core.Totals, error) {
	rows, err := r.queries.ListAmountsByType(ctx, userID)
	if err != nil {
		return core.Totals{}, storageErr("sum by type", err)
	}
	txs := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		amt, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return core.Totals{}, storageErr("sum by type", err)
		}
		txs = append(txs, core.Transaction{Type: core.TransactionType(row.Type), Amount: amt})
	}
	return core.TotalsByType(txs), nil
}

// Budgets

func (r *SQLiteRepository) InsertBudget(ctx context.Context, b core.Budget) (int64, error) {
	unlock := r.lockUser(b.UserID)
	defer unlock()

	id, err := r.queries.InsertBudget(ctx, budgetToRow(b))
	if err != nil {
		return 0, storageErr("insert budget", err)
	}
	return id, nil
}

func (r *SQLiteRepository) UpdateBudget(ctx context.Context, b core.Budget) error {
	unlock := r.lockUser(b.UserID)
	defer unlock()

	n, err := r.queries.UpdateBudget(ctx, budgetToRow(b))
	if err != nil {
		return storageErr("update budget", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteBudget(ctx context.Context, userID string, id int64) error {
	unlock := r.lockUser(userID)
	defer unlock()

	if _, err := r.queries.DeleteBudget(ctx, id, userID); err != nil {
		return storageErr("delete budget", err)
	}
	return nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, userID string, id int64) (core.Budget, error) {
	row, err := r.queries.GetBudget(ctx, id, userID)
	if err != nil {
		return core.Budget{}, storageErr("get budget", err)
	}
	return rowToBudget(row)
}

func (r *SQLiteRepository) UpsertBudgetByServerID(ctx context.Context, b core.Budget) (localID int64, inserted bool, err error) {
	if b.ServerID == "" {
		return 0, false, fmt.Errorf("%w: pulled budget without server id", core.ErrInvalidRecord)
	}

	unlock := r.lockUser(b.UserID)
	defer unlock()

	existing, err := r.queries.GetBudgetByServerID(ctx, b.ServerID, b.UserID)
	switch {
	case err == nil:
		b.LocalID = existing.ID
		if _, err := r.queries.UpdateBudget(ctx, budgetToRow(b)); err != nil {
			return 0, false, storageErr("update pulled budget", err)
		}
		return existing.ID, false, nil
	case errors.Is(err, sql.ErrNoRows):
		id, err := r.queries.InsertBudget(ctx, budgetToRow(b))
		if err != nil {
			return 0, false, storageErr("insert pulled budget", err)
		}
		return id, true, nil
	default:
		return 0, false, storageErr("lookup pulled budget", err)
	}
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := r.queries.ListBudgets(ctx, userID)
	if err != nil {
		return nil, storageErr("list budgets", err)
	}
	out := make([]core.Budget, 0, len(rows))
	for _, row := range rows {
		b, err := rowToBudget(row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Categories

func (r *SQLiteRepository) InsertCategory(ctx context.Context, c core.Category) (int64, error) {
	row, err := categoryToRow(c)
	if err != nil {
		return 0, err
	}

	unlock := r.lockUser(c.UserID)
	defer unlock()

	id, err := r.queries.InsertCategory(ctx, row)
	if err != nil {
		return 0, storageErr("insert category", err)
	}
	return id, nil
}

// UpdateCategory only touches categories owned by c.UserID; system rows are
// never matched.
func (r *SQLiteRepository) UpdateCategory(ctx context.Context, c core.Category) error {
	row, err := categoryToRow(c)
	if err != nil {
		return err
	}

	unlock := r.lockUser(c.UserID)
	defer unlock()

	n, err := r.queries.UpdateCategory(ctx, row)
	if err != nil {
		return storageErr("update category", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, userID string, id int64) error {
	unlock := r.lockUser(userID)
	defer unlock()

	if _, err := r.queries.DeleteCategory(ctx, id, userID); err != nil {
		return storageErr("delete category", err)
	}
	return nil
}

// GetCategory returns a category visible to the user (own or system).
func (r *SQLiteRepository) GetCategory(ctx context.Context, userID string, id int64) (core.Category, error) {
	row, err := r.queries.GetCategory(ctx, id, userID)
	if err != nil {
		return core.Category{}, storageErr("get category", err)
	}
	return rowToCategory(row)
}

func (r *SQLiteRepository) UpsertCategoryByServerID(ctx context.Context, c core.Category) (localID int64, inserted bool, err error) {
	if c.ServerID == "" {
		return 0, false, fmt.Errorf("%w: pulled category without server id", core.ErrInvalidRecord)
	}
	row, err := categoryToRow(c)
	if err != nil {
		return 0, false, err
	}

	unlock := r.lockUser(c.UserID)
	defer unlock()

	existing, err := r.queries.GetCategoryByServerID(ctx, c.ServerID, c.UserID)
	switch {
	case err == nil:
		row.ID = existing.ID
		// Keywords are a local concept; keep what the user configured.
		row.Keywords = existing.Keywords
		if _, err := r.queries.UpdateCategory(ctx, row); err != nil {
			return 0, false, storageErr("update pulled category", err)
		}
		return existing.ID, false, nil
	case errors.Is(err, sql.ErrNoRows):
		id, err := r.queries.InsertCategory(ctx, row)
		if err != nil {
			return 0, false, storageErr("insert pulled category", err)
		}
		return id, true, nil
	default:
		return 0, false, storageErr("lookup pulled category", err)
	}
}

// ListCategories returns the user's categories plus the system ones.
func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx, userID)
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	out := make([]core.Category, 0, len(rows))
	for _, row := range rows {
		c, err := rowToCategory(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Row mapping

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func transactionToRow(tx core.Transaction) (TransactionRow, error) {
	if tx.Date.IsZero() {
		return TransactionRow{}, fmt.Errorf("%w: date cannot be zero", core.ErrInvalidRecord)
	}
	pm := tx.PaymentMethod
	if pm == "" {
		pm = core.DefaultPaymentMethod
	}
	row := TransactionRow{
		ID:            tx.LocalID,
		ServerID:      nullString(tx.ServerID),
		UserID:        tx.UserID,
		Amount:        tx.Amount.String(),
		Type:          string(tx.Type),
		CategoryID:    tx.CategoryID,
		PaymentMethod: pm,
		DateMs:        tx.Date.UnixMilli(),
		Notes:         tx.Notes,
	}
	if !tx.CreatedAt.IsZero() {
		row.CreatedAtMs = tx.CreatedAt.UnixMilli()
	}
	return row, nil
}

func rowToTransaction(row TransactionRow) (core.Transaction, error) {
	amt, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Transaction{}, storageErr("decode transaction amount", err)
	}
	return core.Transaction{
		LocalID:       row.ID,
		ServerID:      row.ServerID.String,
		UserID:        row.UserID,
		Amount:        amt,
		Type:          core.TransactionType(row.Type),
		CategoryID:    row.CategoryID,
		PaymentMethod: row.PaymentMethod,
		Date:          time.UnixMilli(row.DateMs).UTC(),
		Notes:         row.Notes,
		CreatedAt:     time.UnixMilli(row.CreatedAtMs).UTC(),
	}, nil
}

func budgetToRow(b core.Budget) BudgetRow {
	row := BudgetRow{
		ID:          b.LocalID,
		ServerID:    nullString(b.ServerID),
		UserID:      b.UserID,
		Amount:      b.Amount.String(),
		Period:      string(b.Period),
		StartDateMs: b.StartDate.UnixMilli(),
	}
	if b.CategoryID != nil {
		row.CategoryID = sql.NullInt64{Int64: *b.CategoryID, Valid: true}
	}
	return row
}

func rowToBudget(row BudgetRow) (core.Budget, error) {
	amt, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Budget{}, storageErr("decode budget amount", err)
	}
	b := core.Budget{
		LocalID:   row.ID,
		ServerID:  row.ServerID.String,
		UserID:    row.UserID,
		Amount:    amt,
		Period:    core.BudgetPeriod(row.Period),
		StartDate: time.UnixMilli(row.StartDateMs).UTC(),
	}
	if row.CategoryID.Valid {
		id := row.CategoryID.Int64
		b.CategoryID = &id
	}
	return b, nil
}

func categoryToRow(c core.Category) (CategoryRow, error) {
	kw := c.Keywords
	if kw == nil {
		kw = []string{}
	}
	raw, err := json.Marshal(kw)
	if err != nil {
		return CategoryRow{}, fmt.Errorf("encode keywords: %w", err)
	}
	return CategoryRow{
		ID:       c.ID,
		ServerID: nullString(c.ServerID),
		UserID:   c.UserID,
		Name:     c.Name,
		Color:    core.NormalizeColor(c.Color),
		Icon:     c.Icon,
		IsCustom: c.IsCustom,
		Keywords: string(raw),
	}, nil
}

func rowToCategory(row CategoryRow) (core.Category, error) {
	var kw []string
	if row.Keywords != "" {
		if err := json.Unmarshal([]byte(row.Keywords), &kw); err != nil {
			return core.Category{}, storageErr("decode category keywords", err)
		}
	}
	return core.Category{
		ID:       row.ID,
		ServerID: row.ServerID.String,
		UserID:   row.UserID,
		Name:     row.Name,
		Color:    row.Color,
		Icon:     row.Icon,
		IsCustom: row.IsCustom,
		Keywords: kw,
	}, nil
}
