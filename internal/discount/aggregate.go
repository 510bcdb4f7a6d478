package discount

import "github.com/shopspring/decimal"

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Entry is one row of a discount table. Rate is a percentage; values outside
// [0,100] are accepted and act as surcharges or over-discounts.
type Entry struct {
	Rate decimal.Decimal
}

// Aggregate returns the single percentage equivalent to applying every entry
// in turn to whatever value the previous entries left over.
func Aggregate(entries []Entry) decimal.Decimal {
	remaining := one
	for _, e := range entries {
		remaining = remaining.Mul(one.Sub(e.Rate.Shift(-2)))
	}
	return one.Sub(remaining).Shift(2)
}

// AggregateRates is Aggregate over bare rates.
func AggregateRates(rates ...decimal.Decimal) decimal.Decimal {
	entries := make([]Entry, len(rates))
	for i, r := range rates {
		entries[i] = Entry{Rate: r}
	}
	return Aggregate(entries)
}
