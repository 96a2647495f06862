package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Totals holds the sum of amounts for each transaction type.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Debt    decimal.Decimal
}

// Balance is income minus expenses minus debts.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expense).Sub(t.Debt)
}

// CategoryAmount represents an expense total aggregated by category.
type CategoryAmount struct {
	CategoryID int64
	Name       string
	Color      string
	Amount     decimal.Decimal
}

// BudgetStatus reports how much of a budget has been consumed in the period
// window that contains the reference time.
type BudgetStatus struct {
	Budget       Budget
	CategoryName string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Spent        decimal.Decimal
	Remaining    decimal.Decimal
	Ratio        float64
	Exceeded     bool
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Totals     Totals
	Balance    decimal.Decimal
	ByCategory []CategoryAmount
	Budgets    []BudgetStatus
}

func TotalsByType(txs []Transaction) Totals {
	t := Totals{Income: decimal.Zero, Expense: decimal.Zero, Debt: decimal.Zero}
	for _, tx := range txs {
		switch tx.Type {
		case Income:
			t.Income = t.Income.Add(tx.Amount)
		case Expense:
			t.Expense = t.Expense.Add(tx.Amount)
		case Debt:
			t.Debt = t.Debt.Add(tx.Amount)
		}
	}
	return t
}

func Balance(txs []Transaction) decimal.Decimal {
	return TotalsByType(txs).Balance()
}

// CategoryTotals groups expenses by category, largest first. References to
// categories that are not in the given set are reported as UnknownCategoryName.
func CategoryTotals(txs []Transaction, categories []Category) []CategoryAmount {
	byID := indexCategories(categories)
	sums := make(map[int64]*CategoryAmount)
	for _, tx := range txs {
		if tx.Type != Expense {
			continue
		}
		key := tx.CategoryID
		if _, ok := byID[key]; !ok {
			key = UncategorizedID
		}
		ca, ok := sums[key]
		if !ok {
			ca = &CategoryAmount{CategoryID: key, Name: UnknownCategoryName, Color: DefaultCategoryColor, Amount: decimal.Zero}
			if c, ok := byID[key]; ok {
				ca.Name = c.Name
				ca.Color = NormalizeColor(c.Color)
			}
			sums[key] = ca
		}
		ca.Amount = ca.Amount.Add(tx.Amount)
	}

	out := make([]CategoryAmount, 0, len(sums))
	for _, ca := range sums {
		out = append(out, *ca)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// PeriodWindow returns the [start, end) window of the budget period that
// contains now. Before the budget starts, the first window is returned.
func PeriodWindow(b Budget, now time.Time) (time.Time, time.Time) {
	start := b.StartDate.UTC()
	now = now.UTC()
	step := func(n int) time.Time {
		switch b.Period {
		case Weekly:
			return start.AddDate(0, 0, 7*n)
		case Yearly:
			return start.AddDate(n, 0, 0)
		default:
			return start.AddDate(0, n, 0)
		}
	}
	if now.Before(start) {
		return start, step(1)
	}

	var n int
	switch b.Period {
	case Weekly:
		n = int(now.Sub(start).Hours()/24) / 7
	case Yearly:
		n = now.Year() - start.Year()
	default:
		n = (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month())
	}
	for n > 0 && step(n).After(now) {
		n--
	}
	for !step(n + 1).After(now) {
		n++
	}
	return step(n), step(n + 1)
}

// BudgetConsumption computes the spending against b in its current window.
// Global budgets count every expense.
func BudgetConsumption(b Budget, txs []Transaction, categories []Category, now time.Time) BudgetStatus {
	start, end := PeriodWindow(b, now)
	spent := decimal.Zero
	for _, tx := range txs {
		if tx.Type != Expense {
			continue
		}
		if !b.IsGlobal() && tx.CategoryID != *b.CategoryID {
			continue
		}
		if tx.Date.Before(start) || !tx.Date.Before(end) {
			continue
		}
		spent = spent.Add(tx.Amount)
	}

	st := BudgetStatus{
		Budget:      b,
		PeriodStart: start,
		PeriodEnd:   end,
		Spent:       spent,
		Remaining:   b.Amount.Sub(spent),
		Exceeded:    spent.GreaterThan(b.Amount),
	}
	if b.Amount.IsPositive() {
		st.Ratio = spent.Div(b.Amount).InexactFloat64()
	}
	switch {
	case b.IsGlobal():
		st.CategoryName = "Global"
	default:
		st.CategoryName = UnknownCategoryName
		if c, ok := indexCategories(categories)[*b.CategoryID]; ok {
			st.CategoryName = c.Name
		}
	}
	return st
}

// MonthSummary aggregates the transactions dated in the given month and the
// consumption of every budget at now.
func MonthSummary(year, month int, txs []Transaction, categories []Category, budgets []Budget, now time.Time) MonthOverview {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	inMonth := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Date.Before(from) && tx.Date.Before(to) {
			inMonth = append(inMonth, tx)
		}
	}

	totals := TotalsByType(inMonth)
	ov := MonthOverview{
		Year:       year,
		Month:      month,
		Totals:     totals,
		Balance:    totals.Balance(),
		ByCategory: CategoryTotals(inMonth, categories),
	}
	for _, b := range budgets {
		ov.Budgets = append(ov.Budgets, BudgetConsumption(b, txs, categories, now))
	}
	return ov
}

func indexCategories(categories []Category) map[int64]Category {
	m := make(map[int64]Category, len(categories))
	for _, c := range categories {
		m[c.ID] = c
	}
	return m
}
