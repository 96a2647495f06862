// Package dto holds the wire shapes exchanged with the FinTrack backend and
// the pure mappings between them and the core domain types.
package dto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"

	"github.com/shopspring/decimal"
)

// WireTimeLayout is the backend's date format: UTC with millisecond precision.
const WireTimeLayout = "2006-01-02T15:04:05.000Z"

var parseLayouts = []string{
	WireTimeLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type TransactionDTO struct {
	ID            *string `json:"_id,omitempty"`
	LocalID       string  `json:"localId,omitempty"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
	Type          string  `json:"type"`
	CategoryID    string  `json:"categoryId"`
	CategoryName  string  `json:"categoryName,omitempty"`
	PaymentMethod string  `json:"paymentMethod"`
	Date          string  `json:"date"`
	Notes         *string `json:"notes"`
	CreatedAt     *string `json:"createdAt,omitempty"`
	UpdatedAt     *string `json:"updatedAt,omitempty"`
}

// FormatTime renders t in the wire layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(WireTimeLayout)
}

// ParseTime accepts the wire layout and the other ISO-8601 variants the
// backend has been seen to emit. Values without a zone are read as UTC.
// An unparseable value yields now.
func ParseTime(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.TruncateMillis(t)
		}
	}
	return core.TruncateMillis(now)
}

// TransactionToDTO maps a local transaction to the wire shape. The category is
// sent as its server id when known, otherwise as the local numeric id.
func TransactionToDTO(tx core.Transaction, userID string, categoryServerIDs map[int64]string) TransactionDTO {
	d := TransactionDTO{
		UserID:        userID,
		Amount:        tx.Amount.InexactFloat64(),
		Type:          string(tx.Type),
		CategoryID:    strconv.FormatInt(tx.CategoryID, 10),
		PaymentMethod: tx.PaymentMethod,
		Date:          FormatTime(tx.Date),
	}
	if tx.ServerID != "" {
		id := tx.ServerID
		d.ID = &id
	}
	if tx.LocalID != 0 {
		d.LocalID = strconv.FormatInt(tx.LocalID, 10)
	}
	if sid, ok := categoryServerIDs[tx.CategoryID]; ok && sid != "" {
		d.CategoryID = sid
	}
	if d.PaymentMethod == "" {
		d.PaymentMethod = core.DefaultPaymentMethod
	}
	if tx.Notes != "" {
		n := tx.Notes
		d.Notes = &n
	}
	return d
}

// TransactionFromDTO maps a wire record to a transaction owned by userID. The
// wire _id becomes the ServerID; LocalID is left for the store to assign.
// Unknown category references map to core.UncategorizedID.
func TransactionFromDTO(d TransactionDTO, userID string, categoryLocalIDs map[string]int64, now time.Time) (core.Transaction, error) {
	typ, err := core.ParseTransactionType(d.Type)
	if err != nil {
		return core.Transaction{}, err
	}
	amount := decimal.NewFromFloat(d.Amount)
	if amount.IsNegative() {
		return core.Transaction{}, fmt.Errorf("%w: negative amount %v", core.ErrInvalidRecord, d.Amount)
	}

	tx := core.Transaction{
		UserID:        userID,
		Amount:        amount,
		Type:          typ,
		CategoryID:    resolveCategory(d.CategoryID, categoryLocalIDs),
		PaymentMethod: d.PaymentMethod,
		Date:          ParseTime(d.Date, now),
	}
	if d.ID != nil {
		tx.ServerID = *d.ID
	}
	if d.Notes != nil {
		tx.Notes = *d.Notes
	}
	if tx.PaymentMethod == "" {
		tx.PaymentMethod = core.DefaultPaymentMethod
	}
	if d.CreatedAt != nil {
		tx.CreatedAt = ParseTime(*d.CreatedAt, now)
	}
	return tx, nil
}

func resolveCategory(ref string, categoryLocalIDs map[string]int64) int64 {
	ref = strings.TrimSpace(ref)
	if id, ok := categoryLocalIDs[ref]; ok {
		return id
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return id
	}
	return core.UncategorizedID
}

// TransactionsToDTO maps a batch for the bulk sync endpoint.
func TransactionsToDTO(txs []core.Transaction, userID string, categoryServerIDs map[int64]string) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionToDTO(tx, userID, categoryServerIDs))
	}
	return out
}
