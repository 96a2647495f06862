package core

import "strings"

// Categorize returns the id of the first category, in the given order, that
// has a keyword contained in the transaction notes (case-insensitive). When
// nothing matches, the transaction's current category is returned.
func Categorize(tx Transaction, categories []Category) int64 {
	notes := strings.ToLower(strings.TrimSpace(tx.Notes))
	if notes == "" {
		return tx.CategoryID
	}
	for _, c := range categories {
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(notes, kw) {
				return c.ID
			}
		}
	}
	return tx.CategoryID
}
