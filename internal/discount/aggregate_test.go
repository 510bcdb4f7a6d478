package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func rates(values ...float64) []Entry {
	out := make([]Entry, len(values))
	for i, v := range values {
		out[i] = Entry{Rate: decimal.NewFromFloat(v)}
	}
	return out
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name  string
		rates []float64
		want  string
	}{
		{"empty", nil, "0"},
		{"single", []float64{10}, "10"},
		{"compounding", []float64{10, 20}, "28"},
		{"halves", []float64{50, 50}, "75"},
		{"full discount absorbs the rest", []float64{100, 20}, "100"},
		{"full discount last", []float64{20, 100}, "100"},
		{"fractional", []float64{12.5, 7.5}, "19.0625"},
		{"surcharge", []float64{-10}, "-10"},
		{"over hundred", []float64{150, 10}, "145"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Aggregate(rates(tc.rates...))
			require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := Aggregate(rates(10, 30))
	b := Aggregate(rates(30, 10))
	require.True(t, a.Equal(b))

	c := Aggregate(rates(5, 17.5, 33, 2))
	d := Aggregate(rates(33, 2, 5, 17.5))
	require.True(t, c.Equal(d))
}

func TestAggregateMonotonic(t *testing.T) {
	base := rates(15, 40)
	before := Aggregate(base)
	for _, extra := range []float64{0.01, 1, 25, 99.9, 100} {
		after := Aggregate(append(rates(15, 40), Entry{Rate: decimal.NewFromFloat(extra)}))
		require.True(t, after.GreaterThanOrEqual(before), "adding %v lowered %s to %s", extra, before, after)
	}
}

func TestAggregateRates(t *testing.T) {
	got := AggregateRates(decimal.NewFromInt(10), decimal.NewFromInt(20))
	require.Equal(t, "28", got.String())
}
