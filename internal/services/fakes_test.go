package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/dto"
	"fintrack/internal/session"
	"fintrack/internal/storage"
)

// fakeRemote is an in-memory backend keyed by bearer token.
type fakeRemote struct {
	mu sync.Mutex

	transactions map[string][]dto.TransactionDTO
	budgets      map[string][]dto.BudgetDTO
	categories   map[string][]dto.CategoryDTO

	// failWith, when set, is returned by every call.
	failWith error
	// block, when set, makes every mutation wait until it is closed.
	block   chan struct{}
	entered chan struct{}
	// listGate, when set, holds ListTransactions until it is closed or the
	// call's context ends; listing is signalled on entry.
	listGate chan struct{}
	listing  chan struct{}

	calls  []string
	pushed []dto.TransactionDTO
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		transactions: make(map[string][]dto.TransactionDTO),
		budgets:      make(map[string][]dto.BudgetDTO),
		categories:   make(map[string][]dto.CategoryDTO),
	}
}

func offlineRemote() *fakeRemote {
	r := newFakeRemote()
	r.failWith = &core.RemoteTransportError{Op: "dial", Err: errors.New("network is unreachable")}
	return r
}

func (f *fakeRemote) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err, block, entered := f.failWith, f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) ListTransactions(ctx context.Context, token string) ([]dto.TransactionDTO, error) {
	f.mu.Lock()
	gate, listing := f.listGate, f.listing
	f.mu.Unlock()
	if listing != nil {
		listing <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return append([]dto.TransactionDTO(nil), f.transactions[token]...), nil
}

func (f *fakeRemote) CreateTransaction(_ context.Context, _ string, t dto.TransactionDTO) (dto.TransactionDTO, error) {
	if err := f.record("create transaction"); err != nil {
		return dto.TransactionDTO{}, err
	}
	id := "srv-new"
	t.ID = &id
	return t, nil
}

func (f *fakeRemote) UpdateTransaction(_ context.Context, _ string, serverID string, t dto.TransactionDTO) (dto.TransactionDTO, error) {
	if err := f.record("update transaction " + serverID); err != nil {
		return dto.TransactionDTO{}, err
	}
	return t, nil
}

func (f *fakeRemote) DeleteTransaction(_ context.Context, _ string, serverID string) error {
	return f.record("delete transaction " + serverID)
}

func (f *fakeRemote) SyncTransactions(_ context.Context, _ string, items []dto.TransactionDTO) (int, error) {
	if err := f.record("sync transactions"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append([]dto.TransactionDTO(nil), items...)
	return len(items), nil
}

func (f *fakeRemote) ListBudgets(_ context.Context, token string) ([]dto.BudgetDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return append([]dto.BudgetDTO(nil), f.budgets[token]...), nil
}

func (f *fakeRemote) CreateBudget(_ context.Context, _ string, b dto.BudgetDTO) (dto.BudgetDTO, error) {
	return b, f.record("create budget")
}

func (f *fakeRemote) UpdateBudget(_ context.Context, _ string, serverID string, b dto.BudgetDTO) (dto.BudgetDTO, error) {
	return b, f.record("update budget " + serverID)
}

func (f *fakeRemote) DeleteBudget(_ context.Context, _ string, serverID string) error {
	return f.record("delete budget " + serverID)
}

func (f *fakeRemote) ListCategories(_ context.Context, token string) ([]dto.CategoryDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return append([]dto.CategoryDTO(nil), f.categories[token]...), nil
}

func (f *fakeRemote) CreateCategory(_ context.Context, _ string, c dto.CategoryDTO) (dto.CategoryDTO, error) {
	return c, f.record("create category")
}

func (f *fakeRemote) DeleteCategory(_ context.Context, _ string, serverID string) error {
	return f.record("delete category " + serverID)
}

// Helpers

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// newTestEngine wires an engine to a fresh store and a started in-process
// queue running against remote.
func newTestEngine(t *testing.T, remote RemoteLedger) (*SyncEngine, *storage.SQLiteRepository) {
	t.Helper()
	store := newTestStore(t)
	queue := NewInProcessQueue(NewRemoteLeg(remote), InProcessQueueConfig{Workers: 1, QueueSize: 8, TaskTimeout: time.Second})
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		queue.Stop(ctx)
	})
	engine := NewSyncEngine(store, remote, queue, WithClock(func() time.Time { return testNow }))
	return engine, store
}

func userSession(userID string) session.Context {
	return session.Context{UserID: userID, Token: "token-" + userID}
}

func strPtr(s string) *string { return &s }

func remoteTx(id, typ, date string, amount float64) dto.TransactionDTO {
	d := dto.TransactionDTO{
		Amount:        amount,
		Type:          typ,
		CategoryID:    "3",
		PaymentMethod: "CARD",
		Date:          date,
		Notes:         strPtr(fmt.Sprintf("remote %s", id)),
	}
	if id != "" {
		d.ID = strPtr(id)
	}
	return d
}

func waitReceipt(t *testing.T, r *Receipt) (RemoteStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := r.Wait(ctx)
	if status == RemotePending {
		t.Fatalf("receipt for %d did not resolve: %v", r.LocalID, err)
	}
	return status, err
}
