// Package calculator provides the quantity arithmetic behind ledger totals.
package calculator

import (
	"fmt"

	"github.com/mmynk/tallyledger/internal/models"
)

// Sum returns the exact sum of the given quantities. The sum of nothing is zero.
func Sum(entries []models.Quantity) models.Quantity {
	var total models.Quantity
	for _, q := range entries {
		total = total.Add(q)
	}
	return total
}

// AppendEntries returns existing followed by added, preserving insertion
// order. Neither input is modified.
func AppendEntries(existing, added []models.Quantity) []models.Quantity {
	merged := make([]models.Quantity, 0, len(existing)+len(added))
	merged = append(merged, existing...)
	return append(merged, added...)
}

// DetailsTotal sums the totals of the given Details.
func DetailsTotal(details []*models.Detail) models.Quantity {
	var total models.Quantity
	for _, d := range details {
		total = total.Add(d.TotalQuantity)
	}
	return total
}

// Reconcile checks that a Person's total matches its Details, and that each
// Detail's total matches its own entries.
func Reconcile(person *models.Person, details []*models.Detail) error {
	for _, d := range details {
		if sum := Sum(d.QuantityEntries); !sum.Equal(d.TotalQuantity) {
			return fmt.Errorf("detail %s: total %s does not match entries sum %s", d.ID, d.TotalQuantity, sum)
		}
	}
	if sum := DetailsTotal(details); !sum.Equal(person.TotalQuantity) {
		return fmt.Errorf("person %s: total %s does not match details sum %s", person.ID, person.TotalQuantity, sum)
	}
	return nil
}
