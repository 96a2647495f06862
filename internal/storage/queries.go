package storage

import (
	"context"
	"database/sql"
	"strings"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Transaction rows

type TransactionRow struct {
	ID            int64
	ServerID      sql.NullString
	UserID        string
	Amount        string
	Type          string
	CategoryID    int64
	PaymentMethod string
	DateMs        int64
	Notes         string
	CreatedAtMs   int64
}

const transactionColumns = `id, server_id, user_id, amount, type, category_id, payment_method, date_ms, notes, created_at_ms`

func scanTransaction(s rowScanner) (TransactionRow, error) {
	var r TransactionRow
	err := s.Scan(&r.ID, &r.ServerID, &r.UserID, &r.Amount, &r.Type, &r.CategoryID,
		&r.PaymentMethod, &r.DateMs, &r.Notes, &r.CreatedAtMs)
	return r, err
}

const insertTransaction = `INSERT INTO transactions
    (server_id, user_id, amount, type, category_id, payment_method, date_ms, notes, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, r TransactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertTransaction,
		r.ServerID, r.UserID, r.Amount, r.Type, r.CategoryID, r.PaymentMethod, r.DateMs, r.Notes, r.CreatedAtMs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateTransaction = `UPDATE transactions
SET server_id = ?, amount = ?, type = ?, category_id = ?, payment_method = ?, date_ms = ?, notes = ?
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, r TransactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		r.ServerID, r.Amount, r.Type, r.CategoryID, r.PaymentMethod, r.DateMs, r.Notes, r.ID, r.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id int64, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? AND user_id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id int64, userID string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id, userID))
}

const getTransactionByServerID = `SELECT ` + transactionColumns + ` FROM transactions WHERE server_id = ? AND user_id = ?`

func (q *Queries) GetTransactionByServerID(ctx context.Context, serverID, userID string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransactionByServerID, serverID, userID))
}

type ListTransactionsParams struct {
	UserID     string
	FromMs     *int64
	ToMs       *int64
	CategoryID *int64
	Type       string
	Limit      int
}

func (q *Queries) ListTransactions(ctx context.Context, p ListTransactionsParams) ([]TransactionRow, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`)
	args := []interface{}{p.UserID}
	if p.FromMs != nil {
		sb.WriteString(` AND date_ms >= ?`)
		args = append(args, *p.FromMs)
	}
	if p.ToMs != nil {
		sb.WriteString(` AND date_ms < ?`)
		args = append(args, *p.ToMs)
	}
	if p.CategoryID != nil {
		sb.WriteString(` AND category_id = ?`)
		args = append(args, *p.CategoryID)
	}
	if p.Type != "" {
		sb.WriteString(` AND type = ?`)
		args = append(args, p.Type)
	}
	sb.WriteString(` ORDER BY date_ms DESC, id DESC`)
	if p.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, p.Limit)
	}

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		r, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const countTransactions = `SELECT COUNT(*) FROM transactions WHERE user_id = ?`

func (q *Queries) CountTransactions(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countTransactions, userID).Scan(&n)
	return n, err
}

type TypeAmountRow struct {
	Type   string
	Amount string
}

const listAmountsByType = `SELECT type, amount FROM transactions WHERE user_id = ?`

// ListAmountsByType returns raw amounts; sums are computed in Go so that
// decimal text is never coerced to REAL by SQLite.
func (q *Queries) ListAmountsByType(ctx context.Context, userID string) ([]TypeAmountRow, error) {
	rows, err := q.db.QueryContext(ctx, listAmountsByType, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TypeAmountRow
	for rows.Next() {
		var r TypeAmountRow
		if err := rows.Scan(&r.Type, &r.Amount); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// Budget rows

type BudgetRow struct {
	ID          int64
	ServerID    sql.NullString
	UserID      string
	CategoryID  sql.NullInt64
	Amount      string
	Period      string
	StartDateMs int64
}

const budgetColumns = `id, server_id, user_id, category_id, amount, period, start_date_ms`

func scanBudget(s rowScanner) (BudgetRow, error) {
	var r BudgetRow
	err := s.Scan(&r.ID, &r.ServerID, &r.UserID, &r.CategoryID, &r.Amount, &r.Period, &r.StartDateMs)
	return r, err
}

const insertBudget = `INSERT INTO budgets (server_id, user_id, category_id, amount, period, start_date_ms)
VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertBudget(ctx context.Context, r BudgetRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertBudget, r.ServerID, r.UserID, r.CategoryID, r.Amount, r.Period, r.StartDateMs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateBudget = `UPDATE budgets
SET server_id = ?, category_id = ?, amount = ?, period = ?, start_date_ms = ?
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateBudget(ctx context.Context, r BudgetRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateBudget, r.ServerID, r.CategoryID, r.Amount, r.Period, r.StartDateMs, r.ID, r.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteBudget = `DELETE FROM budgets WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteBudget(ctx context.Context, id int64, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteBudget, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getBudget = `SELECT ` + budgetColumns + ` FROM budgets WHERE id = ? AND user_id = ?`

func (q *Queries) GetBudget(ctx context.Context, id int64, userID string) (BudgetRow, error) {
	return scanBudget(q.db.QueryRowContext(ctx, getBudget, id, userID))
}

const getBudgetByServerID = `SELECT ` + budgetColumns + ` FROM budgets WHERE server_id = ? AND user_id = ?`

func (q *Queries) GetBudgetByServerID(ctx context.Context, serverID, userID string) (BudgetRow, error) {
	return scanBudget(q.db.QueryRowContext(ctx, getBudgetByServerID, serverID, userID))
}

const listBudgets = `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = ? ORDER BY start_date_ms DESC, id DESC`

func (q *Queries) ListBudgets(ctx context.Context, userID string) ([]BudgetRow, error) {
	rows, err := q.db.QueryContext(ctx, listBudgets, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetRow
	for rows.Next() {
		r, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// Category rows

type CategoryRow struct {
	ID       int64
	ServerID sql.NullString
	UserID   string
	Name     string
	Color    string
	Icon     string
	IsCustom bool
	Keywords string
}

const categoryColumns = `id, server_id, user_id, name, color, icon, is_custom, keywords`

func scanCategory(s rowScanner) (CategoryRow, error) {
	var r CategoryRow
	err := s.Scan(&r.ID, &r.ServerID, &r.UserID, &r.Name, &r.Color, &r.Icon, &r.IsCustom, &r.Keywords)
	return r, err
}

const insertCategory = `INSERT INTO categories (server_id, user_id, name, color, icon, is_custom, keywords)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertCategory(ctx context.Context, r CategoryRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertCategory, r.ServerID, r.UserID, r.Name, r.Color, r.Icon, r.IsCustom, r.Keywords)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateCategory = `UPDATE categories
SET server_id = ?, name = ?, color = ?, icon = ?, keywords = ?
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateCategory(ctx context.Context, r CategoryRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateCategory, r.ServerID, r.Name, r.Color, r.Icon, r.Keywords, r.ID, r.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteCategory = `DELETE FROM categories WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteCategory(ctx context.Context, id int64, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCategory, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getCategory = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ? AND (user_id = ? OR user_id = 'SYSTEM')`

func (q *Queries) GetCategory(ctx context.Context, id int64, userID string) (CategoryRow, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategory, id, userID))
}

const getCategoryByServerID = `SELECT ` + categoryColumns + ` FROM categories WHERE server_id = ? AND user_id = ?`

func (q *Queries) GetCategoryByServerID(ctx context.Context, serverID, userID string) (CategoryRow, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategoryByServerID, serverID, userID))
}

const listCategories = `SELECT ` + categoryColumns + ` FROM categories
WHERE user_id = ? OR user_id = 'SYSTEM'
ORDER BY is_custom ASC, id ASC`

func (q *Queries) ListCategories(ctx context.Context, userID string) ([]CategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		r, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
