package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/dto"
	"fintrack/internal/session"
	"fintrack/internal/storage"

	"github.com/shopspring/decimal"
)

func TestPull_RequiresSession(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, newFakeRemote())
	noToken := session.Context{UserID: "u1"}

	if _, err := engine.Pull(ctx, noToken); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Pull: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := engine.PullBudgets(ctx, noToken); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("PullBudgets: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := engine.Push(ctx, session.Anonymous); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Push: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := engine.Sync(ctx, session.Anonymous); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Sync: expected ErrUnauthenticated, got %v", err)
	}
}

func TestPull_SecondPassOnlyUpdates(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{
		remoteTx("a1", "EXPENSE", "2025-06-01T10:00:00.000Z", 10),
		remoteTx("a2", "INCOME", "2025-06-02T10:00:00Z", 200),
		remoteTx("a3", "DEBT", "2025-06-03", 30),
	}
	engine, store := newTestEngine(t, remote)
	sess := userSession("u1")

	first, err := engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("first pull: %v", err)
	}
	if first != (PullResult{Inserted: 3}) {
		t.Fatalf("first pull = %+v, want 3 inserted", first)
	}

	second, err := engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if second != (PullResult{Updated: 3}) {
		t.Fatalf("second pull = %+v, want 3 updated", second)
	}
	if n, _ := store.CountTransactions(ctx, "u1"); n != 3 {
		t.Fatalf("row count = %d, want 3", n)
	}
}

func TestPull_OverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{remoteTx("a1", "EXPENSE", "2025-06-01T10:00:00.000Z", 10)}
	engine, store := newTestEngine(t, remote)
	sess := userSession("u1")

	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("pull: %v", err)
	}
	before, _ := store.GetTransactionByServerID(ctx, "u1", "a1")

	remote.transactions["token-u1"][0].Amount = 15
	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("pull: %v", err)
	}
	after, _ := store.GetTransactionByServerID(ctx, "u1", "a1")
	if after.LocalID != before.LocalID {
		t.Fatalf("local id changed from %d to %d", before.LocalID, after.LocalID)
	}
	if !after.Amount.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("amount = %s, want 15", after.Amount)
	}
}

func TestPull_ScopeIsolation(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.transactions["token-A"] = []dto.TransactionDTO{
		remoteTx("a1", "EXPENSE", "2025-06-01T10:00:00.000Z", 10),
		remoteTx("a2", "EXPENSE", "2025-06-01T11:00:00.000Z", 11),
	}
	remote.transactions["token-B"] = []dto.TransactionDTO{
		remoteTx("b1", "INCOME", "2025-06-01T10:00:00.000Z", 99),
	}
	engine, _ := newTestEngine(t, remote)
	a, b := userSession("A"), userSession("B")

	if _, err := engine.Pull(ctx, a); err != nil {
		t.Fatalf("pull A: %v", err)
	}
	if _, err := engine.Pull(ctx, b); err != nil {
		t.Fatalf("pull B: %v", err)
	}

	for _, tc := range []struct {
		sess session.Context
		want map[string]bool
	}{
		{a, map[string]bool{"a1": true, "a2": true}},
		{b, map[string]bool{"b1": true}},
		{session.Anonymous, map[string]bool{}},
	} {
		rows, err := engine.Transactions(ctx, tc.sess, storage.TransactionFilter{})
		if err != nil {
			t.Fatalf("list %q: %v", tc.sess.UserID, err)
		}
		if len(rows) != len(tc.want) {
			t.Fatalf("user %q sees %d rows, want %d", tc.sess.UserID, len(rows), len(tc.want))
		}
		for _, r := range rows {
			if !tc.want[r.ServerID] || r.UserID != tc.sess.UserID {
				t.Fatalf("user %q sees foreign row %+v", tc.sess.UserID, r)
			}
		}
	}
}

func TestPull_MalformedDateUsesNow(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{remoteTx("bad", "EXPENSE", "yesterday-ish", 10)}
	engine, store := newTestEngine(t, remote)

	res, err := engine.Pull(ctx, userSession("u1"))
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("malformed date should not reject the record: %+v", res)
	}
	got, _ := store.GetTransactionByServerID(ctx, "u1", "bad")
	if d := got.Date.Sub(testNow); d < -time.Second || d > time.Second {
		t.Fatalf("date = %v, want about %v", got.Date, testNow)
	}
}

func TestPull_SkipsUnusableRecords(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{
		remoteTx("", "EXPENSE", "2025-06-01", 10),
		remoteTx("t1", "TRANSFER", "2025-06-01", 10),
		remoteTx("t2", "expense", "2025-06-01", 10),
	}
	engine, _ := newTestEngine(t, remote)

	res, err := engine.Pull(ctx, userSession("u1"))
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res != (PullResult{Inserted: 1, Skipped: 2}) {
		t.Fatalf("pull = %+v, want 1 inserted 2 skipped", res)
	}
}

func TestPull_EmptyRemote(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, newFakeRemote())
	sess := userSession("u1")

	if _, _, err := engine.CreateTransaction(ctx, sess, core.Transaction{Amount: decimal.NewFromInt(5), Type: core.Expense}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res != (PullResult{}) {
		t.Fatalf("pull = %+v, want zero counts", res)
	}
	if n, _ := store.CountTransactions(ctx, "u1"); n != 1 {
		t.Fatalf("local rows = %d, want 1", n)
	}
}

func TestPull_OfflineCreateThenPullDuplicates(t *testing.T) {
	ctx := context.Background()
	remote := offlineRemote()
	engine, store := newTestEngine(t, remote)
	sess := userSession("u1")

	created, _, err := engine.CreateTransaction(ctx, sess, core.Transaction{
		Amount:     decimal.NewFromInt(50),
		Type:       core.Expense,
		CategoryID: 3,
		Date:       time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("offline create: %v", err)
	}
	if n, _ := store.CountTransactions(ctx, "u1"); n != 1 {
		t.Fatalf("rows after create = %d, want 1", n)
	}
	if created.ServerID != "" {
		t.Fatalf("offline record should be local only, got server id %q", created.ServerID)
	}

	remote.setFailure(nil)
	remote.mu.Lock()
	remote.transactions["token-u1"] = []dto.TransactionDTO{{
		ID:         strPtr("abc123"),
		Amount:     50,
		Type:       "EXPENSE",
		CategoryID: "3",
		Date:       "2025-06-01T10:00:00.000Z",
	}}
	remote.mu.Unlock()

	res, err := engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("pull = %+v, want 1 inserted", res)
	}
	// No shared key between the local-only row and the server record.
	if n, _ := store.CountTransactions(ctx, "u1"); n != 2 {
		t.Fatalf("rows after pull = %d, want 2", n)
	}
}

func TestPullCategories_LocalCreateThenPullDuplicates(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	engine, _ := newTestEngine(t, remote)
	sess := userSession("u1")

	created, receipt, err := engine.CreateCategory(ctx, sess, core.Category{Name: "Pets", Color: "#abcdef"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	if status, _ := waitReceipt(t, receipt); status != RemoteSynced {
		t.Fatalf("remote create = %s, want synced", status)
	}

	// The backend now lists the same category under its own id.
	remote.mu.Lock()
	remote.categories["token-u1"] = []dto.CategoryDTO{{
		ID:    strPtr("cat-pets"),
		Name:  "Pets",
		Type:  "EXPENSE",
		Color: strPtr("#ABCDEF"),
	}}
	remote.mu.Unlock()

	res, err := engine.PullCategories(ctx, sess)
	if err != nil {
		t.Fatalf("pull categories: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("pull = %+v, want 1 inserted", res)
	}

	cats, err := engine.Categories(ctx, sess)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	var pets []core.Category
	for _, c := range cats {
		if c.Name == "Pets" {
			pets = append(pets, c)
		}
	}
	// The local row never learns the server id, so the pulled one is new.
	if len(pets) != 2 {
		t.Fatalf("Pets rows = %d, want 2", len(pets))
	}
	for _, c := range pets {
		if c.ID == created.ID && c.ServerID != "" {
			t.Fatalf("local row gained server id %q", c.ServerID)
		}
	}
}

func TestPull_RemoteErrorPropagates(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, offlineRemote())

	_, err := engine.Pull(ctx, userSession("u1"))
	var transportErr *core.RemoteTransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected RemoteTransportError, got %v", err)
	}
}

func TestPull_Cancelled(t *testing.T) {
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{remoteTx("a1", "EXPENSE", "2025-06-01", 10)}
	engine, store := newTestEngine(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := engine.Pull(ctx, userSession("u1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Total() != 0 {
		t.Fatalf("cancelled pull should not apply records: %+v", res)
	}
	if n, _ := store.CountTransactions(context.Background(), "u1"); n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
}

// pullWaiters returns how many callers currently wait on the shared pass.
func pullWaiters(e *SyncEngine, key string) int {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if f, ok := e.flights[key]; ok {
		return f.waiters
	}
	return 0
}

type pullOutcome struct {
	res PullResult
	err error
}

func TestPull_CancelledCallerLeavesOthersRunning(t *testing.T) {
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{remoteTx("a1", "EXPENSE", "2025-06-01", 10)}
	remote.listGate = make(chan struct{})
	remote.listing = make(chan struct{}, 2)
	engine, store := newTestEngine(t, remote)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	first := make(chan pullOutcome, 1)
	go func() {
		res, err := engine.Pull(ctxA, userSession("u1"))
		first <- pullOutcome{res, err}
	}()
	<-remote.listing

	second := make(chan pullOutcome, 1)
	go func() {
		res, err := engine.Pull(context.Background(), userSession("u1"))
		second <- pullOutcome{res, err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for pullWaiters(engine, "transactions:u1") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second pull never joined the running pass")
		}
		time.Sleep(time.Millisecond)
	}

	cancelA()
	select {
	case out := <-first:
		if !errors.Is(out.err, context.Canceled) {
			t.Fatalf("cancelled caller: expected context.Canceled, got %v", out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(remote.listGate)
	select {
	case out := <-second:
		if out.err != nil {
			t.Fatalf("remaining caller failed: %v", out.err)
		}
		if out.res.Inserted != 1 {
			t.Fatalf("remaining caller result = %+v, want 1 inserted", out.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remaining caller did not return")
	}
	if n, _ := store.CountTransactions(context.Background(), "u1"); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestPull_LastCallerCancelStopsPass(t *testing.T) {
	remote := newFakeRemote()
	remote.transactions["token-u1"] = []dto.TransactionDTO{remoteTx("a1", "EXPENSE", "2025-06-01", 10)}
	remote.listGate = make(chan struct{})
	remote.listing = make(chan struct{}, 1)
	engine, store := newTestEngine(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan pullOutcome, 1)
	go func() {
		res, err := engine.Pull(ctx, userSession("u1"))
		done <- pullOutcome{res, err}
	}()
	<-remote.listing
	cancel()

	select {
	case out := <-done:
		if !errors.Is(out.err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pull kept running after its only caller left")
	}
	if n := pullWaiters(engine, "transactions:u1"); n != 0 {
		t.Fatalf("waiters = %d after the pass ended", n)
	}
	if n, _ := store.CountTransactions(context.Background(), "u1"); n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
}

func TestPullBudgetsAndCategories(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	month, year := 6, 2025
	remote.categories["token-u1"] = []dto.CategoryDTO{
		{ID: strPtr("cat-default"), Name: "Nourriture", IsDefault: true},
		{ID: strPtr("cat-pets"), Name: "Pets", Icon: "pets", Color: strPtr("#123")},
	}
	remote.budgets["token-u1"] = []dto.BudgetDTO{
		{ID: strPtr("bud-1"), CategoryID: strPtr("cat-pets"), Amount: 80, Period: "MONTHLY", Month: &month, Year: &year},
		{ID: strPtr("bud-2"), CategoryID: strPtr(dto.GlobalCategory), Amount: 2000, Period: "FORTNIGHTLY"},
		{CategoryID: strPtr(dto.GlobalCategory), Amount: 10, Period: "MONTHLY"},
	}
	remote.transactions["token-u1"] = []dto.TransactionDTO{{
		ID: strPtr("tx-1"), Amount: 20, Type: "EXPENSE", CategoryID: "cat-pets", Date: "2025-06-03T08:00:00.000Z",
	}}
	engine, store := newTestEngine(t, remote)
	sess := userSession("u1")

	report, err := engine.Sync(ctx, sess)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Categories != (PullResult{Inserted: 1, Skipped: 1}) {
		t.Errorf("categories = %+v", report.Categories)
	}
	if report.Budgets != (PullResult{Inserted: 2, Skipped: 1}) {
		t.Errorf("budgets = %+v", report.Budgets)
	}
	if report.Transactions != (PullResult{Inserted: 1}) {
		t.Errorf("transactions = %+v", report.Transactions)
	}
	if report.Push != (PushResult{Sent: 1, Accepted: 1}) {
		t.Errorf("push = %+v", report.Push)
	}

	cats, _ := engine.Categories(ctx, sess)
	var pets core.Category
	for _, c := range cats {
		if c.ServerID == "cat-pets" {
			pets = c
		}
	}
	if pets.ID == 0 || pets.Color != "#112233" {
		t.Fatalf("pulled category missing or not normalized: %+v", pets)
	}

	tx, err := store.GetTransactionByServerID(ctx, "u1", "tx-1")
	if err != nil {
		t.Fatalf("pulled transaction: %v", err)
	}
	if tx.CategoryID != pets.ID {
		t.Fatalf("transaction category = %d, want local id %d", tx.CategoryID, pets.ID)
	}

	budgets, _ := engine.Budgets(ctx, sess)
	for _, b := range budgets {
		switch b.ServerID {
		case "bud-1":
			if b.CategoryID == nil || *b.CategoryID != pets.ID {
				t.Errorf("bud-1 category = %v, want %d", b.CategoryID, pets.ID)
			}
		case "bud-2":
			if !b.IsGlobal() || b.Period != core.Monthly {
				t.Errorf("bud-2 should be a global monthly budget: %+v", b)
			}
		default:
			t.Errorf("unexpected budget %+v", b)
		}
	}
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	engine, store := newTestEngine(t, remote)
	sess := session.Context{UserID: "u1"}

	for i := 1; i <= 3; i++ {
		if _, _, err := engine.CreateTransaction(ctx, sess, core.Transaction{Amount: decimal.NewFromInt(int64(i)), Type: core.Expense}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	before, _ := store.ListTransactions(ctx, "u1", storage.TransactionFilter{})

	res, err := engine.Push(ctx, userSession("u1"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res != (PushResult{Sent: 3, Accepted: 3}) {
		t.Fatalf("push = %+v", res)
	}
	for _, item := range remote.pushed {
		if item.UserID != "u1" || item.LocalID == "" || item.ID != nil {
			t.Fatalf("unexpected pushed item %+v", item)
		}
	}

	after, _ := store.ListTransactions(ctx, "u1", storage.TransactionFilter{})
	for i := range before {
		if !sameTx(before[i], after[i]) {
			t.Fatalf("push must not change local rows: %+v vs %+v", before[i], after[i])
		}
	}

	remote.setFailure(&core.RemoteProtocolError{Op: "POST /transactions/sync", StatusCode: 401, Message: "expired"})
	if _, err := engine.Push(ctx, userSession("u1")); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected a 401 to match ErrUnauthenticated, got %v", err)
	}
}
