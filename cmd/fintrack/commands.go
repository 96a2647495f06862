package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"fintrack/internal/core"
	"fintrack/internal/services"
	"fintrack/internal/session"
	"fintrack/internal/storage"
)

// Session

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login")
	uid := fs.String("uid", "", "firebase uid")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	sess, err := a.sessions.Login(ctx, *uid)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "signed in as %s\n", describe(sess))
	return nil
}

func runRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("register")
	uid := fs.String("uid", "", "firebase uid")
	email := fs.String("email", "", "email address")
	name := fs.String("name", "", "display name")
	currency := fs.String("currency", "", "currency code")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	sess, err := a.sessions.Register(ctx, *uid, *name, *email, *currency)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered and signed in as %s\n", describe(sess))
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.sessions.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out; local data is kept")
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	token, ok := sess.CurrentBearer()
	if !ok {
		fmt.Fprintln(a.out, "anonymous")
		return nil
	}
	fmt.Fprintln(a.out, describe(sess))

	user, err := a.remote.Me(ctx, token)
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		fmt.Fprintln(a.out, "remote: session rejected, run login again")
	case err != nil:
		fmt.Fprintf(a.out, "remote: unreachable (%v)\n", err)
	default:
		fmt.Fprintf(a.out, "remote: %s <%s> %s\n", user.Name, user.Email, user.Currency)
	}
	return nil
}

func describe(sess session.Context) string {
	if sess.Email != "" {
		return fmt.Sprintf("%s (%s)", sess.Email, sess.UserID)
	}
	return sess.String()
}

// Transactions

type transactionFlags struct {
	amount, txType, category, method, date, notes *string
}

func bindTransactionFlags(fs *flag.FlagSet) transactionFlags {
	return transactionFlags{
		amount:   fs.String("amount", "", "amount, e.g. 12.50"),
		txType:   fs.String("type", string(core.Expense), "EXPENSE, INCOME or DEBT"),
		category: fs.String("category", "", "category id; empty to auto-categorize"),
		method:   fs.String("method", "", "payment method"),
		date:     fs.String("date", "", "date, YYYY-MM-DD"),
		notes:    fs.String("notes", "", "free text"),
	}
}

// apply copies the given flags onto tx. Only flags present in set are applied.
func (f transactionFlags) apply(tx *core.Transaction, set map[string]bool) error {
	if set["amount"] {
		amount, err := core.ParseAmount(*f.amount)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		tx.Amount = amount
	}
	if set["type"] {
		t, err := core.ParseTransactionType(*f.txType)
		if err != nil {
			return err
		}
		tx.Type = t
	}
	if set["category"] {
		id, err := parseCategoryRef(*f.category)
		if err != nil {
			return err
		}
		tx.CategoryID = id
	}
	if set["method"] {
		tx.PaymentMethod = *f.method
	}
	if set["date"] {
		d, err := parseDate(*f.date)
		if err != nil {
			return err
		}
		tx.Date = d
	}
	if set["notes"] {
		tx.Notes = *f.notes
	}
	return nil
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add")
	f := bindTransactionFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	set := visited(fs)
	if !set["amount"] {
		return fmt.Errorf("%w: --amount is required", errUsage)
	}
	set["type"] = true

	var tx core.Transaction
	if err := f.apply(&tx, set); err != nil {
		return err
	}
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	saved, receipt, err := a.engine.CreateTransaction(ctx, sess, tx)
	if err != nil {
		return err
	}
	a.report(ctx, "transaction", saved.LocalID, "saved", receipt)
	return nil
}

func runEdit(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("edit")
	f := bindTransactionFlags(fs)
	id, err := idArg(fs, args)
	if err != nil {
		return err
	}
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	tx, err := a.engine.Transaction(ctx, sess, id)
	if err != nil {
		return err
	}
	if err := f.apply(&tx, visited(fs)); err != nil {
		return err
	}
	saved, receipt, err := a.engine.UpdateTransaction(ctx, sess, tx)
	if err != nil {
		return err
	}
	a.report(ctx, "transaction", saved.LocalID, "saved", receipt)
	return nil
}

func runRemove(ctx context.Context, a *app, args []string) error {
	id, err := idArg(newFlagSet("rm"), args)
	if err != nil {
		return err
	}
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	receipt, err := a.engine.DeleteTransaction(ctx, sess, id)
	if err != nil {
		return err
	}
	a.report(ctx, "transaction", id, "deleted", receipt)
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("ls")
	from := fs.String("from", "", "first date, YYYY-MM-DD")
	to := fs.String("to", "", "last date, YYYY-MM-DD")
	category := fs.String("category", "", "category id")
	txType := fs.String("type", "", "EXPENSE, INCOME or DEBT")
	limit := fs.Int("limit", 0, "maximum rows")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var filter storage.TransactionFilter
	var err error
	if *from != "" {
		if filter.From, err = parseDate(*from); err != nil {
			return err
		}
	}
	if *to != "" {
		if filter.To, err = parseDate(*to); err != nil {
			return err
		}
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	if *category != "" {
		id, err := parseCategoryRef(*category)
		if err != nil {
			return err
		}
		filter.CategoryID = &id
	}
	if *txType != "" {
		if filter.Type, err = core.ParseTransactionType(*txType); err != nil {
			return err
		}
	}
	filter.Limit = *limit

	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	txs, err := a.engine.Transactions(ctx, sess, filter)
	if err != nil {
		return err
	}
	cats, err := a.engine.Categories(ctx, sess)
	if err != nil {
		return err
	}
	names := categoryNames(cats)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTYPE\tAMOUNT\tCATEGORY\tMETHOD\tREMOTE\tNOTES")
	for _, tx := range txs {
		remote := "local"
		if tx.ServerID != "" {
			remote = "synced"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.LocalID, tx.Date.Format(dateLayout), tx.Type, core.FormatAmount(tx.Amount),
			names.lookup(tx.CategoryID), tx.PaymentMethod, remote, tx.Notes)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	totals, err := a.engine.Totals(ctx, sess)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n%d shown. all time: income %s, expense %s, debt %s, balance %s\n",
		len(txs), core.FormatAmount(totals.Income), core.FormatAmount(totals.Expense),
		core.FormatAmount(totals.Debt), core.FormatAmount(totals.Balance()))
	return nil
}

// Budgets

type budgetFlags struct {
	amount, period, category, start *string
}

func bindBudgetFlags(fs *flag.FlagSet) budgetFlags {
	return budgetFlags{
		amount:   fs.String("amount", "", "budget cap"),
		period:   fs.String("period", string(core.Monthly), "WEEKLY, MONTHLY or YEARLY"),
		category: fs.String("category", "", "category id; empty for a global budget"),
		start:    fs.String("start", "", "first day of the first period, YYYY-MM-DD"),
	}
}

func (f budgetFlags) apply(b *core.Budget, set map[string]bool) error {
	if set["amount"] {
		amount, err := core.ParseAmount(*f.amount)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		b.Amount = amount
	}
	if set["period"] {
		p, ok := core.ParseBudgetPeriod(*f.period)
		if !ok {
			return fmt.Errorf("%w: unknown period %q", errUsage, *f.period)
		}
		b.Period = p
	}
	if set["category"] {
		id, err := parseCategoryRef(*f.category)
		if err != nil {
			return err
		}
		if id == core.UncategorizedID {
			b.CategoryID = nil
		} else {
			b.CategoryID = &id
		}
	}
	if set["start"] {
		d, err := parseDate(*f.start)
		if err != nil {
			return err
		}
		b.StartDate = d
	}
	return nil
}

func runBudget(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: budget needs add, edit, rm or ls", errUsage)
	}
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}

	switch sub, rest := args[0], args[1:]; sub {
	case "add":
		fs := newFlagSet("budget add")
		f := bindBudgetFlags(fs)
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		set := visited(fs)
		if !set["amount"] {
			return fmt.Errorf("%w: --amount is required", errUsage)
		}
		var b core.Budget
		if err := f.apply(&b, set); err != nil {
			return err
		}
		saved, receipt, err := a.engine.CreateBudget(ctx, sess, b)
		if err != nil {
			return err
		}
		a.report(ctx, "budget", saved.LocalID, "saved", receipt)

	case "edit":
		fs := newFlagSet("budget edit")
		f := bindBudgetFlags(fs)
		id, err := idArg(fs, rest)
		if err != nil {
			return err
		}
		b, err := findBudget(ctx, a, sess, id)
		if err != nil {
			return err
		}
		if err := f.apply(&b, visited(fs)); err != nil {
			return err
		}
		saved, receipt, err := a.engine.UpdateBudget(ctx, sess, b)
		if err != nil {
			return err
		}
		a.report(ctx, "budget", saved.LocalID, "saved", receipt)

	case "rm":
		id, err := idArg(newFlagSet("budget rm"), rest)
		if err != nil {
			return err
		}
		receipt, err := a.engine.DeleteBudget(ctx, sess, id)
		if err != nil {
			return err
		}
		a.report(ctx, "budget", id, "deleted", receipt)

	case "ls":
		budgets, err := a.engine.Budgets(ctx, sess)
		if err != nil {
			return err
		}
		cats, err := a.engine.Categories(ctx, sess)
		if err != nil {
			return err
		}
		names := categoryNames(cats)
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tAMOUNT\tPERIOD\tSTART")
		for _, b := range budgets {
			category := "Global"
			if !b.IsGlobal() {
				category = names.lookup(*b.CategoryID)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				b.LocalID, category, core.FormatAmount(b.Amount), b.Period, b.StartDate.Format(dateLayout))
		}
		return w.Flush()

	default:
		return fmt.Errorf("%w: unknown budget command %q", errUsage, sub)
	}
	return nil
}

func findBudget(ctx context.Context, a *app, sess session.Context, id int64) (core.Budget, error) {
	budgets, err := a.engine.Budgets(ctx, sess)
	if err != nil {
		return core.Budget{}, err
	}
	for _, b := range budgets {
		if b.LocalID == id {
			return b, nil
		}
	}
	return core.Budget{}, fmt.Errorf("budget %d: %w", id, core.ErrNotFound)
}

// Categories

func runCategory(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: category needs add, edit, rm or ls", errUsage)
	}
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}

	switch sub, rest := args[0], args[1:]; sub {
	case "add", "edit":
		fs := newFlagSet("category " + sub)
		name := fs.String("name", "", "category name")
		color := fs.String("color", "", "#RRGGBB")
		icon := fs.String("icon", "", "icon name")
		keywords := fs.String("keywords", "", "comma separated keywords for auto-categorization")

		var c core.Category
		var receipt *services.Receipt
		if sub == "add" {
			if err := parseFlags(fs, rest); err != nil {
				return err
			}
			c = core.Category{Name: *name, Color: *color, Icon: *icon, Keywords: splitKeywords(*keywords)}
			c, receipt, err = a.engine.CreateCategory(ctx, sess, c)
		} else {
			id, idErr := idArg(fs, rest)
			if idErr != nil {
				return idErr
			}
			if c, err = findCategory(ctx, a, sess, id); err != nil {
				return err
			}
			set := visited(fs)
			if set["name"] {
				c.Name = *name
			}
			if set["color"] {
				c.Color = *color
			}
			if set["icon"] {
				c.Icon = *icon
			}
			if set["keywords"] {
				c.Keywords = splitKeywords(*keywords)
			}
			c, receipt, err = a.engine.UpdateCategory(ctx, sess, c)
		}
		if err != nil {
			return err
		}
		a.report(ctx, "category", c.ID, "saved", receipt)

	case "rm":
		id, err := idArg(newFlagSet("category rm"), rest)
		if err != nil {
			return err
		}
		receipt, err := a.engine.DeleteCategory(ctx, sess, id)
		if err != nil {
			return err
		}
		a.report(ctx, "category", id, "deleted", receipt)

	case "ls":
		cats, err := a.engine.Categories(ctx, sess)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCOLOR\tOWNER\tKEYWORDS")
		for _, c := range cats {
			owner := "system"
			if c.IsCustom {
				owner = "custom"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Color, owner, strings.Join(c.Keywords, ","))
		}
		return w.Flush()

	default:
		return fmt.Errorf("%w: unknown category command %q", errUsage, sub)
	}
	return nil
}

func findCategory(ctx context.Context, a *app, sess session.Context, id int64) (core.Category, error) {
	cats, err := a.engine.Categories(ctx, sess)
	if err != nil {
		return core.Category{}, err
	}
	for _, c := range cats {
		if c.ID == id {
			return c, nil
		}
	}
	return core.Category{}, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
}

type categoryIndex map[int64]string

func categoryNames(cats []core.Category) categoryIndex {
	idx := make(categoryIndex, len(cats))
	for _, c := range cats {
		idx[c.ID] = c.Name
	}
	return idx
}

func (idx categoryIndex) lookup(id int64) string {
	if id == core.UncategorizedID {
		return "-"
	}
	if name, ok := idx[id]; ok {
		return name
	}
	return core.UnknownCategoryName
}

// Sync

func runPull(ctx context.Context, a *app, _ []string) error {
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	res, err := a.engine.Pull(ctx, sess)
	fmt.Fprintf(a.out, "transactions: %d inserted, %d updated, %d skipped\n", res.Inserted, res.Updated, res.Skipped)
	return err
}

func runPush(ctx context.Context, a *app, _ []string) error {
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	res, err := a.engine.Push(ctx, sess)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pushed %d transactions, %d accepted\n", res.Sent, res.Accepted)
	return nil
}

func runSync(ctx context.Context, a *app, _ []string) error {
	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	report, err := a.engine.Sync(ctx, sess)
	for _, line := range []struct {
		name string
		res  services.PullResult
	}{
		{"categories", report.Categories},
		{"transactions", report.Transactions},
		{"budgets", report.Budgets},
	} {
		fmt.Fprintf(a.out, "%-13s %d inserted, %d updated, %d skipped\n",
			line.name+":", line.res.Inserted, line.res.Updated, line.res.Skipped)
	}
	fmt.Fprintf(a.out, "%-13s %d sent, %d accepted\n", "push:", report.Push.Sent, report.Push.Accepted)
	return err
}

func runSummary(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("summary")
	month := fs.String("month", "", "YYYY-MM; defaults to the current month")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	at := a.now()
	if *month != "" {
		var err error
		if at, err = parseMonth(*month); err != nil {
			return err
		}
	}

	sess, err := a.sessions.Current(ctx)
	if err != nil {
		return err
	}
	ov, err := a.engine.Summary(ctx, sess, at)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%04d-%02d\n", ov.Year, ov.Month)
	fmt.Fprintf(a.out, "  income   %s\n  expense  %s\n  debt     %s\n  balance  %s\n",
		core.FormatAmount(ov.Totals.Income), core.FormatAmount(ov.Totals.Expense),
		core.FormatAmount(ov.Totals.Debt), core.FormatAmount(ov.Balance))

	if len(ov.ByCategory) > 0 {
		fmt.Fprintln(a.out, "\nExpenses by category")
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, c := range ov.ByCategory {
			fmt.Fprintf(w, "  %s\t%s\n", c.Name, core.FormatAmount(c.Amount))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(ov.Budgets) > 0 {
		fmt.Fprintln(a.out, "\nBudgets")
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, b := range ov.Budgets {
			mark := ""
			if b.Exceeded {
				mark = "EXCEEDED"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s / %s\t%s%%\t%s\n",
				b.CategoryName, b.Budget.Period, core.FormatAmount(b.Spent), core.FormatAmount(b.Budget.Amount),
				strconv.FormatFloat(b.Ratio*100, 'f', 0, 64), mark)
		}
		return w.Flush()
	}
	return nil
}

// report prints the committed local id, then waits up to the grace period
// for the remote leg so its outcome can be shown.
func (a *app) report(ctx context.Context, entity string, localID int64, action string, receipt *services.Receipt) {
	fmt.Fprintf(a.out, "%s %d %s locally\n", entity, localID, action)
	if receipt == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.grace)
	defer cancel()
	status, err := receipt.Wait(waitCtx)

	switch status {
	case services.RemoteSynced:
		fmt.Fprintln(a.out, "remote: synced")
	case services.RemoteQueued:
		fmt.Fprintln(a.out, "remote: queued for the sync worker")
	case services.RemoteSkipped:
		fmt.Fprintln(a.out, "remote: skipped")
	case services.RemoteFailed:
		fmt.Fprintf(a.out, "remote: failed (%v); the change is kept locally\n", err)
	default:
		fmt.Fprintln(a.out, "remote: still pending")
	}
}
