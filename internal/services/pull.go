package services

import (
	"context"
	"fmt"
	"log/slog"

	"fintrack/internal/core"
	"fintrack/internal/dto"
	"fintrack/internal/log"
	"fintrack/internal/session"
	"fintrack/internal/storage"
)

// PullResult counts what a pull did with each remote record.
type PullResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

func (r PullResult) Total() int { return r.Inserted + r.Updated + r.Skipped }

// PushResult reports a bulk upload: Sent records went out, Accepted is the
// count the backend reported back.
type PushResult struct {
	Sent     int
	Accepted int
}

// SyncReport is the outcome of a full "sync now" pass.
type SyncReport struct {
	Categories   PullResult
	Transactions PullResult
	Budgets      PullResult
	Push         PushResult
}

// pullFlight is the context shared by every caller waiting on one pull pass.
// It is cancelled once the last of them has gone.
type pullFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// sharedPull runs fn once for all concurrent callers with the same key. The
// pass runs detached from any single caller: a caller whose ctx ends returns
// ctx.Err() without stopping the others, and the pass itself is cancelled
// only when nobody waits on it any more. The last caller to leave waits for
// the partial counts.
func (e *SyncEngine) sharedPull(ctx context.Context, key string, fn func(ctx context.Context) (PullResult, error)) (PullResult, error) {
	if err := ctx.Err(); err != nil {
		return PullResult{}, err
	}
	e.flightMu.Lock()
	f, ok := e.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &pullFlight{ctx: fctx, cancel: cancel}
		e.flights[key] = f
	}
	f.waiters++
	ch := e.pulls.DoChan(key, func() (any, error) {
		return fn(f.ctx)
	})
	e.flightMu.Unlock()

	select {
	case r := <-ch:
		e.leavePull(key, f)
		res, _ := r.Val.(PullResult)
		return res, r.Err
	case <-ctx.Done():
		if !e.leavePull(key, f) {
			return PullResult{}, ctx.Err()
		}
		r := <-ch
		res, _ := r.Val.(PullResult)
		return res, ctx.Err()
	}
}

// leavePull reports whether the caller was the last one on f.
func (e *SyncEngine) leavePull(key string, f *pullFlight) bool {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.cancel()
	if e.flights[key] == f {
		delete(e.flights, key)
	}
	return true
}

// Pull brings the user's remote transactions into the local store, keyed on
// server id. Records are applied one at a time and each write is durable on
// its own, so a cancelled pull returns the partial counts with ctx.Err().
// Concurrent pulls for the same user share one pass.
func (e *SyncEngine) Pull(ctx context.Context, sess session.Context) (PullResult, error) {
	token, ok := sess.CurrentBearer()
	if !ok {
		return PullResult{}, core.ErrUnauthenticated
	}
	userID := sess.CurrentUserID()
	return e.sharedPull(ctx, "transactions:"+userID, func(ctx context.Context) (PullResult, error) {
		return e.pullTransactions(ctx, userID, token)
	})
}

func (e *SyncEngine) pullTransactions(ctx context.Context, userID, token string) (PullResult, error) {
	var res PullResult
	items, err := e.remote.ListTransactions(ctx, token)
	if err != nil {
		return res, fmt.Errorf("pull transactions: %w", err)
	}
	cats, err := e.listCategories(ctx, userID)
	if err != nil {
		return res, err
	}
	_, toLocal := dto.CategoryMaps(cats)

	now := e.now()
	for _, d := range items {
		if err := ctx.Err(); err != nil {
			e.logPull(ctx, "transaction", userID, res, err)
			return res, err
		}
		if d.ID == nil || *d.ID == "" {
			res.Skipped++
			continue
		}
		tx, err := dto.TransactionFromDTO(d, userID, toLocal, now)
		if err != nil {
			slog.DebugContext(ctx, "Skipping unmappable remote transaction",
				log.FieldComponent, log.ComponentSync,
				log.FieldServerID, *d.ID,
				log.FieldError, err)
			res.Skipped++
			continue
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = tx.Date
		}
		tx.Date = core.TruncateMillis(tx.Date)
		tx.CreatedAt = core.TruncateMillis(tx.CreatedAt)

		_, inserted, err := e.store.UpsertTransactionByServerID(ctx, tx)
		if err != nil {
			e.logPull(ctx, "transaction", userID, res, err)
			return res, fmt.Errorf("pull transaction %s: %w", tx.ServerID, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	e.logPull(ctx, "transaction", userID, res, nil)
	return res, nil
}

// PullBudgets is Pull for budgets.
func (e *SyncEngine) PullBudgets(ctx context.Context, sess session.Context) (PullResult, error) {
	token, ok := sess.CurrentBearer()
	if !ok {
		return PullResult{}, core.ErrUnauthenticated
	}
	userID := sess.CurrentUserID()
	return e.sharedPull(ctx, "budgets:"+userID, func(ctx context.Context) (PullResult, error) {
		return e.pullBudgets(ctx, userID, token)
	})
}

func (e *SyncEngine) pullBudgets(ctx context.Context, userID, token string) (PullResult, error) {
	var res PullResult
	items, err := e.remote.ListBudgets(ctx, token)
	if err != nil {
		return res, fmt.Errorf("pull budgets: %w", err)
	}
	cats, err := e.listCategories(ctx, userID)
	if err != nil {
		return res, err
	}
	_, toLocal := dto.CategoryMaps(cats)

	now := e.now()
	for _, d := range items {
		if err := ctx.Err(); err != nil {
			e.logPull(ctx, "budget", userID, res, err)
			return res, err
		}
		if d.ID == nil || *d.ID == "" {
			res.Skipped++
			continue
		}
		b := dto.BudgetFromDTO(d, userID, toLocal, now)
		if err := b.Validate(); err != nil {
			res.Skipped++
			continue
		}

		_, inserted, err := e.store.UpsertBudgetByServerID(ctx, b)
		if err != nil {
			e.logPull(ctx, "budget", userID, res, err)
			return res, fmt.Errorf("pull budget %s: %w", b.ServerID, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	e.logPull(ctx, "budget", userID, res, nil)
	return res, nil
}

// PullCategories stores the user's custom remote categories so that category
// references on pulled transactions and budgets resolve to local ids. Default
// categories are already seeded locally and are skipped.
func (e *SyncEngine) PullCategories(ctx context.Context, sess session.Context) (PullResult, error) {
	token, ok := sess.CurrentBearer()
	if !ok {
		return PullResult{}, core.ErrUnauthenticated
	}
	userID := sess.CurrentUserID()
	return e.sharedPull(ctx, "categories:"+userID, func(ctx context.Context) (PullResult, error) {
		defer e.categories.Delete(userID)
		return e.pullCategories(ctx, userID, token)
	})
}

func (e *SyncEngine) pullCategories(ctx context.Context, userID, token string) (PullResult, error) {
	var res PullResult
	items, err := e.remote.ListCategories(ctx, token)
	if err != nil {
		return res, fmt.Errorf("pull categories: %w", err)
	}

	for _, d := range items {
		if err := ctx.Err(); err != nil {
			e.logPull(ctx, "category", userID, res, err)
			return res, err
		}
		if d.ID == nil || *d.ID == "" || d.IsDefault {
			res.Skipped++
			continue
		}
		c := dto.CategoryFromDTO(d, userID)
		if err := c.Validate(); err != nil {
			res.Skipped++
			continue
		}

		_, inserted, err := e.store.UpsertCategoryByServerID(ctx, c)
		if err != nil {
			e.logPull(ctx, "category", userID, res, err)
			return res, fmt.Errorf("pull category %s: %w", c.ServerID, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	e.logPull(ctx, "category", userID, res, nil)
	return res, nil
}

// Push uploads every local transaction of the user to the bulk sync
// endpoint. Local rows are not modified.
func (e *SyncEngine) Push(ctx context.Context, sess session.Context) (PushResult, error) {
	token, ok := sess.CurrentBearer()
	if !ok {
		return PushResult{}, core.ErrUnauthenticated
	}
	userID := sess.CurrentUserID()

	txs, err := e.store.ListTransactions(ctx, userID, storage.TransactionFilter{})
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}
	cats, err := e.listCategories(ctx, userID)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}
	toServer, _ := dto.CategoryMaps(cats)
	items := dto.TransactionsToDTO(txs, userID, toServer)

	res := PushResult{Sent: len(items)}
	n, err := e.remote.SyncTransactions(ctx, token, items)
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}
	res.Accepted = n

	slog.InfoContext(ctx, "Push completed",
		log.FieldComponent, log.ComponentSync,
		log.FieldOperation, log.OpPush,
		log.FieldUserID, userID,
		"sent", res.Sent,
		log.FieldCount, res.Accepted)
	return res, nil
}

// Sync runs categories, transactions and budgets pulls followed by a push,
// stopping at the first failure. The report holds what completed.
func (e *SyncEngine) Sync(ctx context.Context, sess session.Context) (SyncReport, error) {
	var (
		report SyncReport
		err    error
	)
	if report.Categories, err = e.PullCategories(ctx, sess); err != nil {
		return report, err
	}
	if report.Transactions, err = e.Pull(ctx, sess); err != nil {
		return report, err
	}
	if report.Budgets, err = e.PullBudgets(ctx, sess); err != nil {
		return report, err
	}
	if report.Push, err = e.Push(ctx, sess); err != nil {
		return report, err
	}
	return report, nil
}

func (e *SyncEngine) logPull(ctx context.Context, entity, userID string, res PullResult, err error) {
	fields := log.NewFields().
		WithComponent(log.ComponentSync).
		WithOperation(log.OpPull).
		WithRecord(entity, userID, 0, "").
		WithError(err)
	fields[log.FieldInserted] = res.Inserted
	fields[log.FieldUpdated] = res.Updated
	fields[log.FieldSkipped] = res.Skipped

	if err != nil {
		slog.WarnContext(ctx, "Pull interrupted", fields.ToSlice()...)
		return
	}
	slog.InfoContext(ctx, "Pull completed", fields.ToSlice()...)
}
