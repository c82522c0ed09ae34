// Package types provides common types used across farmledger.
package types

import (
	"github.com/shopspring/decimal"
)

// Amount is a monetary value or quantity. Ledger amounts are decimal,
// never floating point, so balance checks are exact up to Tolerance.
type Amount = decimal.Decimal

// Tolerance is the maximum absolute difference between total debits and
// total credits for a transaction to be considered balanced.
var Tolerance = decimal.New(1, -3)

// Zero is the zero Amount.
var Zero = decimal.Zero

// NewAmount creates an Amount from a float64.
// Use for literals and test fixtures; computed values stay in decimal.
func NewAmount(v float64) Amount { return decimal.NewFromFloat(v) }

// ParseAmount parses a decimal string such as "120.50".
func ParseAmount(s string) (Amount, error) { return decimal.NewFromString(s) }

// Sum adds the given amounts. Sum() is Zero.
func Sum(values ...Amount) Amount {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinTolerance reports whether |a - b| <= Tolerance.
func WithinTolerance(a, b Amount) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Positive returns v when it is greater than zero and Zero otherwise.
func Positive(v Amount) Amount {
	if v.IsPositive() {
		return v
	}
	return decimal.Zero
}

// FirstNonZero returns the first non-zero amount, or Zero.
func FirstNonZero(values ...Amount) Amount {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}

// FormatMoney renders v with two decimal places, e.g. "120.00".
func FormatMoney(v Amount) string {
	return v.StringFixed(2)
}
