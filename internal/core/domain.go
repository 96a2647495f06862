package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	Expense TransactionType = "EXPENSE"
	Income  TransactionType = "INCOME"
	Debt    TransactionType = "DEBT"
)

const (
	Weekly  BudgetPeriod = "WEEKLY"
	Monthly BudgetPeriod = "MONTHLY"
	Yearly  BudgetPeriod = "YEARLY"
)

const (
	// SystemUserID owns the built-in categories visible to every user.
	SystemUserID = "SYSTEM"

	// UncategorizedID is the category reference of a transaction with no category.
	UncategorizedID int64 = 0

	// UnknownCategoryName is displayed for dangling category references.
	UnknownCategoryName = "Unknown category"

	DefaultPaymentMethod = "CASH"
)

type (
	TransactionType string
	BudgetPeriod    string

	// Transaction is a single ledger movement. LocalID is the key in the local
	// store, ServerID the key in the remote store (empty until a pull sees it).
	Transaction struct {
		LocalID       int64
		ServerID      string
		UserID        string
		Amount        decimal.Decimal
		Type          TransactionType `validate:"oneof=EXPENSE INCOME DEBT"`
		CategoryID    int64           `validate:"gte=0"`
		PaymentMethod string          `validate:"max=50"`
		Date          time.Time
		Notes         string `validate:"max=500"`
		CreatedAt     time.Time
	}

	// Budget caps spending for a category (or globally when CategoryID is nil)
	// over a repeating period starting at StartDate.
	Budget struct {
		LocalID    int64
		ServerID   string
		UserID     string
		CategoryID *int64
		Amount     decimal.Decimal
		Period     BudgetPeriod `validate:"oneof=WEEKLY MONTHLY YEARLY"`
		StartDate  time.Time
	}

	Category struct {
		ID       int64
		ServerID string
		Name     string `validate:"required,max=60"`
		Color    string
		Icon     string `validate:"max=60"`
		IsCustom bool
		UserID   string
		Keywords []string `validate:"omitempty,dive,max=60"`
	}
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseTransactionType maps a wire or user string to a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case Expense, Income, Debt:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidRecord, s)
	}
}

// ParseBudgetPeriod maps a string to a BudgetPeriod. ok is false for unknown values.
func ParseBudgetPeriod(s string) (BudgetPeriod, bool) {
	switch p := BudgetPeriod(strings.ToUpper(strings.TrimSpace(s))); p {
	case Weekly, Monthly, Yearly:
		return p, true
	default:
		return Monthly, false
	}
}

// IsGlobal reports whether the budget applies to every category.
func (b Budget) IsGlobal() bool {
	return b.CategoryID == nil
}

// IsSystem reports whether the category is a shared built-in one.
func (c Category) IsSystem() bool {
	return c.UserID == SystemUserID
}

func (t Transaction) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRecord)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidRecord)
	}
	return nil
}

func (b Budget) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !b.Amount.IsPositive() {
		return fmt.Errorf("%w: budget amount must be positive", ErrInvalidRecord)
	}
	if b.StartDate.IsZero() {
		return fmt.Errorf("%w: start date cannot be zero", ErrInvalidRecord)
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: empty category name", ErrInvalidRecord)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// TruncateMillis drops sub-millisecond precision and moves t to UTC, matching
// what the local store can represent.
func TruncateMillis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}
