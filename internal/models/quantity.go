package models

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal arithmetic rescales operands to a common exponent, so an unbounded
// exponent turns one Add into a huge allocation. Every parsed quantity must
// stay inside the exponent window. The digit cap applies to new entries only;
// a running total may legitimately outgrow it.
const (
	maxQuantityExponent = 30
	maxQuantityDigits   = 40
)

// Quantity is an exact decimal amount. Sums of quantities never drift the way
// float64 sums do, so a Person total always equals the sum of its entries.
type Quantity struct {
	value decimal.Decimal
}

// Q is a convenient factory for Quantity.
func Q[T float64 | int | int64](value T) Quantity {
	switch v := any(value).(type) {
	case float64:
		return Quantity{value: decimal.NewFromFloat(v)}
	case int:
		return Quantity{value: decimal.NewFromInt(int64(v))}
	case int64:
		return Quantity{value: decimal.NewFromInt(v)}
	default:
		panic("unsupported type")
	}
}

// ParseQuantity parses a decimal string such as "2", "-0.5" or "1.5e3".
// Exponents outside ±30 are a validation error.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	if err := checkExponent(d); err != nil {
		return Quantity{}, err
	}
	return Quantity{value: d}, nil
}

func checkExponent(d decimal.Decimal) error {
	if exp := d.Exponent(); exp > maxQuantityExponent || exp < -maxQuantityExponent {
		return Validationf("quantity exponent must be within ±%d", maxQuantityExponent)
	}
	return nil
}

// Validate reports whether q is acceptable as a new ledger entry.
func (q Quantity) Validate() error {
	if err := checkExponent(q.value); err != nil {
		return err
	}
	if q.value.NumDigits() > maxQuantityDigits {
		return Validationf("quantity must have at most %d digits", maxQuantityDigits)
	}
	return nil
}

func (q Quantity) Add(p Quantity) Quantity { return Quantity{value: q.value.Add(p.value)} }
func (q Quantity) Equal(p Quantity) bool   { return q.value.Equal(p.value) }
func (q Quantity) String() string          { return q.value.String() }

// MarshalJSON encodes the quantity as a bare JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.value.String()), nil
}

// UnmarshalJSON accepts JSON numbers only. Strings, booleans and null are
// rejected so that loosely typed bodies fail at the boundary.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !(data[0] == '-' || (data[0] >= '0' && data[0] <= '9')) {
		return fmt.Errorf("quantity must be a number, got %s", data)
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("quantity must be a number, got %s", data)
	}
	if err := checkExponent(d); err != nil {
		return err
	}
	q.value = d
	return nil
}
