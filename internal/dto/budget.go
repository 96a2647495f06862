package dto

import (
	"strconv"
	"time"

	"fintrack/internal/core"

	"github.com/shopspring/decimal"
)

// GlobalCategory is the wire category id of a budget that spans every category.
const GlobalCategory = "GLOBAL"

type BudgetDTO struct {
	ID           *string  `json:"_id,omitempty"`
	CategoryID   *string  `json:"categoryId"`
	CategoryName string   `json:"categoryName,omitempty"`
	Amount       float64  `json:"amount"`
	Spent        *float64 `json:"spent,omitempty"`
	Period       string   `json:"period"`
	Month        *int     `json:"month,omitempty"`
	Year         *int     `json:"year,omitempty"`
}

func BudgetToDTO(b core.Budget, categoryName string, categoryServerIDs map[int64]string) BudgetDTO {
	start := b.StartDate.UTC()
	month, year := int(start.Month()), start.Year()
	cat := GlobalCategory
	if b.CategoryID != nil {
		cat = strconv.FormatInt(*b.CategoryID, 10)
		if sid, ok := categoryServerIDs[*b.CategoryID]; ok && sid != "" {
			cat = sid
		}
	}
	spent := 0.0
	d := BudgetDTO{
		CategoryID:   &cat,
		CategoryName: categoryName,
		Amount:       b.Amount.InexactFloat64(),
		Spent:        &spent,
		Period:       string(b.Period),
		Month:        &month,
		Year:         &year,
	}
	if b.ServerID != "" {
		id := b.ServerID
		d.ID = &id
	}
	return d
}

// BudgetFromDTO maps a wire budget. The start date is the first day of the
// wire month/year (January and the current year when absent). An unknown
// period falls back to MONTHLY.
func BudgetFromDTO(d BudgetDTO, userID string, categoryLocalIDs map[string]int64, now time.Time) core.Budget {
	now = now.UTC()
	month, year := 1, now.Year()
	if d.Month != nil && *d.Month >= 1 && *d.Month <= 12 {
		month = *d.Month
	}
	if d.Year != nil && *d.Year > 0 {
		year = *d.Year
	}
	period, _ := core.ParseBudgetPeriod(d.Period)

	b := core.Budget{
		UserID:    userID,
		Amount:    decimal.NewFromFloat(d.Amount),
		Period:    period,
		StartDate: time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC),
	}
	if d.ID != nil {
		b.ServerID = *d.ID
	}
	if d.CategoryID != nil && *d.CategoryID != GlobalCategory && *d.CategoryID != "" {
		if id := resolveCategory(*d.CategoryID, categoryLocalIDs); id != core.UncategorizedID {
			b.CategoryID = &id
		}
	}
	return b
}
