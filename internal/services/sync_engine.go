package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/dto"
	"fintrack/internal/log"
	"fintrack/internal/session"
	"fintrack/internal/storage"

	"golang.org/x/sync/singleflight"
)

// SyncEngine orchestrates ledger operations across the local store and the
// remote backend. Mutations commit locally and hand the remote leg to the
// queue; pull and push run to completion on the caller's goroutine.
type SyncEngine struct {
	store  LedgerStore
	remote RemoteLedger
	queue  RemoteQueue

	categories *cache.LRUCache[[]core.Category]
	pulls      singleflight.Group
	flightMu   sync.Mutex
	flights    map[string]*pullFlight
	now        func() time.Time
}

type EngineOption func(*SyncEngine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *SyncEngine) { e.now = now }
}

// WithCategoryCache sets the cache used for per-user category lists.
func WithCategoryCache(c *cache.LRUCache[[]core.Category]) EngineOption {
	return func(e *SyncEngine) { e.categories = c }
}

func NewSyncEngine(store LedgerStore, remote RemoteLedger, queue RemoteQueue, opts ...EngineOption) *SyncEngine {
	e := &SyncEngine{
		store:      store,
		remote:     remote,
		queue:      queue,
		categories: cache.NewLRUCache[[]core.Category](32, 5*time.Minute),
		flights:    make(map[string]*pullFlight),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CategoryCache exposes the engine's category cache so it can be registered
// with a cache.Manager for periodic cleanup.
func (e *SyncEngine) CategoryCache() *cache.LRUCache[[]core.Category] {
	return e.categories
}

// Transactions

// CreateTransaction saves the transaction locally and schedules its remote
// creation. The returned error only ever describes the local write.
func (e *SyncEngine) CreateTransaction(ctx context.Context, sess session.Context, tx core.Transaction) (core.Transaction, *Receipt, error) {
	userID := sess.CurrentUserID()
	cats, err := e.listCategories(ctx, userID)
	if err != nil {
		return core.Transaction{}, nil, err
	}

	tx = e.normalizeTransaction(tx, userID)
	tx.LocalID = 0
	tx.ServerID = ""
	if tx.CategoryID == core.UncategorizedID {
		tx.CategoryID = core.Categorize(tx, cats)
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, nil, err
	}

	id, err := e.store.InsertTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, nil, fmt.Errorf("create transaction: %w", err)
	}
	tx.LocalID = id

	slog.DebugContext(ctx, "Transaction saved locally",
		log.FieldComponent, log.ComponentSync,
		log.FieldUserID, userID,
		log.FieldLocalID, id)

	toServer, _ := dto.CategoryMaps(cats)
	task := newTask(TaskCreate, EntityTransaction, userID, id, "")
	payload := dto.TransactionToDTO(tx, userID, toServer)
	task.Transaction = &payload
	return tx, e.submit(ctx, sess, task), nil
}

// UpdateTransaction replaces the business fields of an existing transaction.
// The server id and creation time of the stored row are kept.
func (e *SyncEngine) UpdateTransaction(ctx context.Context, sess session.Context, tx core.Transaction) (core.Transaction, *Receipt, error) {
	userID := sess.CurrentUserID()
	existing, err := e.store.GetTransaction(ctx, userID, tx.LocalID)
	if err != nil {
		return core.Transaction{}, nil, fmt.Errorf("update transaction %d: %w", tx.LocalID, err)
	}

	tx = e.normalizeTransaction(tx, userID)
	tx.ServerID = existing.ServerID
	tx.CreatedAt = existing.CreatedAt
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, nil, err
	}
	if err := e.store.UpdateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, nil, fmt.Errorf("update transaction %d: %w", tx.LocalID, err)
	}

	if tx.ServerID == "" {
		return tx, resolvedReceipt(tx.LocalID, RemoteSkipped, nil), nil
	}
	cats, err := e.listCategories(ctx, userID)
	if err != nil {
		return tx, resolvedReceipt(tx.LocalID, RemoteFailed, err), nil
	}
	toServer, _ := dto.CategoryMaps(cats)
	task := newTask(TaskUpdate, EntityTransaction, userID, tx.LocalID, tx.ServerID)
	payload := dto.TransactionToDTO(tx, userID, toServer)
	task.Transaction = &payload
	return tx, e.submit(ctx, sess, task), nil
}

// DeleteTransaction removes the transaction locally. Deleting a missing id is
// not an error.
func (e *SyncEngine) DeleteTransaction(ctx context.Context, sess session.Context, localID int64) (*Receipt, error) {
	userID := sess.CurrentUserID()
	existing, err := e.store.GetTransaction(ctx, userID, localID)
	if errors.Is(err, core.ErrNotFound) {
		return resolvedReceipt(localID, RemoteSkipped, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete transaction %d: %w", localID, err)
	}
	if err := e.store.DeleteTransaction(ctx, userID, localID); err != nil {
		return nil, fmt.Errorf("delete transaction %d: %w", localID, err)
	}

	if existing.ServerID == "" {
		return resolvedReceipt(localID, RemoteSkipped, nil), nil
	}
	return e.submit(ctx, sess, newTask(TaskDelete, EntityTransaction, userID, localID, existing.ServerID)), nil
}

func (e *SyncEngine) normalizeTransaction(tx core.Transaction, userID string) core.Transaction {
	now := e.now()
	tx.UserID = userID
	if tx.Date.IsZero() {
		tx.Date = now
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.Date = core.TruncateMillis(tx.Date)
	tx.CreatedAt = core.TruncateMillis(tx.CreatedAt)
	if tx.PaymentMethod == "" {
		tx.PaymentMethod = core.DefaultPaymentMethod
	}
	return tx
}

// Budgets

func (e *SyncEngine) CreateBudget(ctx context.Context, sess session.Context, b core.Budget) (core.Budget, *Receipt, error) {
	userID := sess.CurrentUserID()
	b = e.normalizeBudget(b, userID)
	b.LocalID = 0
	b.ServerID = ""
	if err := b.Validate(); err != nil {
		return core.Budget{}, nil, err
	}

	id, err := e.store.InsertBudget(ctx, b)
	if err != nil {
		return core.Budget{}, nil, fmt.Errorf("create budget: %w", err)
	}
	b.LocalID = id

	payload, err := e.budgetPayload(ctx, b)
	if err != nil {
		return b, resolvedReceipt(id, RemoteFailed, err), nil
	}
	task := newTask(TaskCreate, EntityBudget, userID, id, "")
	task.Budget = &payload
	return b, e.submit(ctx, sess, task), nil
}

func (e *SyncEngine) UpdateBudget(ctx context.Context, sess session.Context, b core.Budget) (core.Budget, *Receipt, error) {
	userID := sess.CurrentUserID()
	existing, err := e.store.GetBudget(ctx, userID, b.LocalID)
	if err != nil {
		return core.Budget{}, nil, fmt.Errorf("update budget %d: %w", b.LocalID, err)
	}

	b = e.normalizeBudget(b, userID)
	b.ServerID = existing.ServerID
	if err := b.Validate(); err != nil {
		return core.Budget{}, nil, err
	}
	if err := e.store.UpdateBudget(ctx, b); err != nil {
		return core.Budget{}, nil, fmt.Errorf("update budget %d: %w", b.LocalID, err)
	}

	if b.ServerID == "" {
		return b, resolvedReceipt(b.LocalID, RemoteSkipped, nil), nil
	}
	payload, err := e.budgetPayload(ctx, b)
	if err != nil {
		return b, resolvedReceipt(b.LocalID, RemoteFailed, err), nil
	}
	task := newTask(TaskUpdate, EntityBudget, userID, b.LocalID, b.ServerID)
	task.Budget = &payload
	return b, e.submit(ctx, sess, task), nil
}

func (e *SyncEngine) DeleteBudget(ctx context.Context, sess session.Context, localID int64) (*Receipt, error) {
	userID := sess.CurrentUserID()
	existing, err := e.store.GetBudget(ctx, userID, localID)
	if errors.Is(err, core.ErrNotFound) {
		return resolvedReceipt(localID, RemoteSkipped, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete budget %d: %w", localID, err)
	}
	if err := e.store.DeleteBudget(ctx, userID, localID); err != nil {
		return nil, fmt.Errorf("delete budget %d: %w", localID, err)
	}

	if existing.ServerID == "" {
		return resolvedReceipt(localID, RemoteSkipped, nil), nil
	}
	return e.submit(ctx, sess, newTask(TaskDelete, EntityBudget, userID, localID, existing.ServerID)), nil
}

func (e *SyncEngine) normalizeBudget(b core.Budget, userID string) core.Budget {
	b.UserID = userID
	if b.StartDate.IsZero() {
		now := e.now().UTC()
		b.StartDate = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	b.StartDate = core.TruncateMillis(b.StartDate)
	if b.Period == "" {
		b.Period = core.Monthly
	}
	b.Amount = b.Amount.Round(2)
	return b
}

func (e *SyncEngine) budgetPayload(ctx context.Context, b core.Budget) (dto.BudgetDTO, error) {
	cats, err := e.listCategories(ctx, b.UserID)
	if err != nil {
		return dto.BudgetDTO{}, err
	}
	name := "Global"
	if b.CategoryID != nil {
		name = core.UnknownCategoryName
		for _, c := range cats {
			if c.ID == *b.CategoryID {
				name = c.Name
				break
			}
		}
	}
	toServer, _ := dto.CategoryMaps(cats)
	return dto.BudgetToDTO(b, name, toServer), nil
}

// Categories

// CreateCategory adds a custom category for the session user and schedules
// its remote creation.
func (e *SyncEngine) CreateCategory(ctx context.Context, sess session.Context, c core.Category) (core.Category, *Receipt, error) {
	userID := sess.CurrentUserID()
	c.ID = 0
	c.ServerID = ""
	c.UserID = userID
	c.IsCustom = true
	c.Color = core.NormalizeColor(c.Color)
	if err := c.Validate(); err != nil {
		return core.Category{}, nil, err
	}

	id, err := e.store.InsertCategory(ctx, c)
	if err != nil {
		return core.Category{}, nil, fmt.Errorf("create category: %w", err)
	}
	c.ID = id
	e.categories.Delete(userID)

	task := newTask(TaskCreate, EntityCategory, userID, id, "")
	payload := dto.CategoryToDTO(c)
	task.Category = &payload
	return c, e.submit(ctx, sess, task), nil
}

// UpdateCategory edits a custom category locally. The backend has no
// category update endpoint, so the receipt is always skipped.
func (e *SyncEngine) UpdateCategory(ctx context.Context, sess session.Context, c core.Category) (core.Category, *Receipt, error) {
	userID := sess.CurrentUserID()
	existing, err := e.store.GetCategory(ctx, userID, c.ID)
	if err != nil {
		return core.Category{}, nil, fmt.Errorf("update category %d: %w", c.ID, err)
	}
	if existing.IsSystem() {
		return core.Category{}, nil, fmt.Errorf("update category %d: %w", c.ID, core.ErrReadOnly)
	}

	c.UserID = userID
	c.ServerID = existing.ServerID
	c.IsCustom = existing.IsCustom
	c.Color = core.NormalizeColor(c.Color)
	if err := c.Validate(); err != nil {
		return core.Category{}, nil, err
	}
	if err := e.store.UpdateCategory(ctx, c); err != nil {
		return core.Category{}, nil, fmt.Errorf("update category %d: %w", c.ID, err)
	}
	e.categories.Delete(userID)
	return c, resolvedReceipt(c.ID, RemoteSkipped, nil), nil
}

// DeleteCategory removes a custom category. Transactions that referenced it
// keep the dangling id and show up as the unknown category.
func (e *SyncEngine) DeleteCategory(ctx context.Context, sess session.Context, id int64) (*Receipt, error) {
	userID := sess.CurrentUserID()
	existing, err := e.store.GetCategory(ctx, userID, id)
	if errors.Is(err, core.ErrNotFound) {
		return resolvedReceipt(id, RemoteSkipped, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete category %d: %w", id, err)
	}
	if existing.IsSystem() {
		return nil, fmt.Errorf("delete category %d: %w", id, core.ErrReadOnly)
	}
	if err := e.store.DeleteCategory(ctx, userID, id); err != nil {
		return nil, fmt.Errorf("delete category %d: %w", id, err)
	}
	e.categories.Delete(userID)

	if existing.ServerID == "" {
		return resolvedReceipt(id, RemoteSkipped, nil), nil
	}
	return e.submit(ctx, sess, newTask(TaskDelete, EntityCategory, userID, id, existing.ServerID)), nil
}

// Reads

func (e *SyncEngine) Transactions(ctx context.Context, sess session.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	return e.store.ListTransactions(ctx, sess.CurrentUserID(), f)
}

func (e *SyncEngine) Transaction(ctx context.Context, sess session.Context, localID int64) (core.Transaction, error) {
	return e.store.GetTransaction(ctx, sess.CurrentUserID(), localID)
}

func (e *SyncEngine) Budgets(ctx context.Context, sess session.Context) ([]core.Budget, error) {
	return e.store.ListBudgets(ctx, sess.CurrentUserID())
}

func (e *SyncEngine) Categories(ctx context.Context, sess session.Context) ([]core.Category, error) {
	return e.listCategories(ctx, sess.CurrentUserID())
}

// Totals returns the all-time sums per transaction type.
func (e *SyncEngine) Totals(ctx context.Context, sess session.Context) (core.Totals, error) {
	return e.store.SumByType(ctx, sess.CurrentUserID())
}

// Summary builds the overview of the month containing now.
func (e *SyncEngine) Summary(ctx context.Context, sess session.Context, now time.Time) (core.MonthOverview, error) {
	userID := sess.CurrentUserID()
	now = now.UTC()

	// Budget windows can reach back a full year.
	from := time.Date(now.Year()-1, now.Month(), 1, 0, 0, 0, 0, time.UTC)
	txs, err := e.store.ListTransactions(ctx, userID, storage.TransactionFilter{From: from})
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("summary transactions: %w", err)
	}
	cats, err := e.listCategories(ctx, userID)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("summary categories: %w", err)
	}
	budgets, err := e.store.ListBudgets(ctx, userID)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("summary budgets: %w", err)
	}
	return core.MonthSummary(now.Year(), int(now.Month()), txs, cats, budgets, now), nil
}

func (e *SyncEngine) listCategories(ctx context.Context, userID string) ([]core.Category, error) {
	if cats, ok := e.categories.Get(userID); ok {
		return cats, nil
	}
	cats, err := e.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	e.categories.Set(userID, cats)
	return cats, nil
}

// submit hands the remote leg to the queue. Anonymous sessions never reach
// the network.
func (e *SyncEngine) submit(ctx context.Context, sess session.Context, task RemoteTask) *Receipt {
	if !sess.Authenticated() {
		slog.DebugContext(ctx, "No session, remote leg skipped",
			log.FieldComponent, log.ComponentSync,
			log.FieldOperation, string(task.Kind),
			log.FieldEntity, string(task.Entity),
			log.FieldLocalID, task.LocalID)
		return resolvedReceipt(task.LocalID, RemoteSkipped, nil)
	}
	if e.queue == nil {
		slog.WarnContext(ctx, "Remote queue not available, remote leg skipped",
			log.FieldComponent, log.ComponentSync,
			log.FieldEntity, string(task.Entity),
			log.FieldLocalID, task.LocalID)
		return resolvedReceipt(task.LocalID, RemoteSkipped, nil)
	}
	r := newReceipt(task.LocalID)
	e.queue.Submit(sess, task, r)
	return r
}
