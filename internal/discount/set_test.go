package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBindWritesOnEveryChange(t *testing.T) {
	rec := Fields{}
	s := NewSet()
	Bind(s, rec, CustomerTotalField)
	require.Equal(t, float64(0), rec[CustomerTotalField])

	s.Add(decimal.NewFromInt(10))
	require.Equal(t, float64(10), rec[CustomerTotalField])

	s.Add(decimal.NewFromInt(20))
	require.Equal(t, float64(28), rec[CustomerTotalField])

	require.NoError(t, s.SetRate(1, decimal.NewFromInt(50)))
	require.Equal(t, float64(55), rec[CustomerTotalField])

	require.NoError(t, s.Remove(0))
	require.Equal(t, float64(50), rec[CustomerTotalField])
	require.Equal(t, 1, s.Len())
}

func TestSetIndexErrors(t *testing.T) {
	s := NewSet(decimal.NewFromInt(5))
	calls := 0
	s.OnChange(func(*Set) { calls++ })

	require.ErrorIs(t, s.Remove(3), ErrIndexOutOfRange)
	require.ErrorIs(t, s.SetRate(-1, decimal.NewFromInt(1)), ErrIndexOutOfRange)
	require.Zero(t, calls)
}

func TestEntriesIsACopy(t *testing.T) {
	s := NewSet(decimal.NewFromInt(10))
	entries := s.Entries()
	entries[0].Rate = decimal.NewFromInt(99)
	require.True(t, s.Total().Equal(decimal.NewFromInt(10)))
}

func TestSetFromTable(t *testing.T) {
	rec := Fields{
		CustomerTable: []any{
			map[string]any{CustomerRowField: 10.0},
			map[string]any{CustomerRowField: "20"},
			Fields{CustomerRowField: nil},
			"garbage",
		},
	}
	s := SetFromTable(rec, CustomerTable, CustomerRowField)
	require.Equal(t, 3, s.Len())
	require.Equal(t, "28", s.Total().String())
}
