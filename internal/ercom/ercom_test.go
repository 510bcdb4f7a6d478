package ercom

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBarcode(t *testing.T) {
	cases := []struct {
		name string
		row  TesDetay
		want string
	}{
		{
			name: "plain profile",
			row:  TesDetay{CartNo: "5", SlotNo: "3", StockCode: "102030", RC: "R1", Model: "ORTA", Measure: 1250, Axis: 980},
			want: "K5003102030   R11250000980" + "00",
		},
		{
			name: "sash is shortened",
			row:  TesDetay{CartNo: "12", SlotNo: "14", StockCode: "X", RC: "", Model: "KANAT", Measure: 1006.9, Axis: 4},
			want: "K1214X   1000000000" + "00",
		},
		{
			name: "empty cart and slot",
			row:  TesDetay{StockCode: "S", RC: "A", Model: "KASA"},
			want: "K00S   A0000000000" + "00",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Barcode(tc.row))
		})
	}
}

func TestMachineName(t *testing.T) {
	require.Equal(t, "Murat TT", MachineName(2))
	require.Equal(t, "Murat NR242", MachineName(23))
	require.Equal(t, "Kaban CNC FA-1030", MachineName(24))
	require.Equal(t, "Unknown", MachineName(0))
	require.Equal(t, "Unknown", MachineName(7))
}

func TestValidPhone(t *testing.T) {
	require.True(t, ValidPhone("+905321234567"))
	require.True(t, ValidPhone(" 2125551234 "))
	require.False(t, ValidPhone(""))
	require.False(t, ValidPhone("0212 555 12 34"))
	require.False(t, ValidPhone("123456"))
	require.False(t, ValidPhone("-"))
}

func TestDSN(t *testing.T) {
	dsn := DSNConfig{Host: "db", Name: "ercom", User: "u", Password: "p"}.DSN()
	require.True(t, strings.HasPrefix(dsn, "u:p@tcp(db:3306)/ercom?"))
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "charset=utf8mb4")
}

type fakeQuerier struct {
	queries   []string
	args      [][]any
	customers []Customer
	positions []Position
	machine   *int
}

func (f *fakeQuerier) SelectContext(_ context.Context, dest any, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	switch d := dest.(type) {
	case *[]Customer:
		*d = f.customers
	case *[]Position:
		*d = f.positions
	case *[]TesDetay:
		*d = nil
	}
	return nil
}

func (f *fakeQuerier) GetContext(_ context.Context, dest any, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	switch d := dest.(type) {
	case *int:
		if f.machine == nil {
			return sql.ErrNoRows
		}
		*d = *f.machine
	case *Order:
		return sql.ErrNoRows
	}
	return nil
}

func TestSourceQueries(t *testing.T) {
	machine := 23
	q := &fakeQuerier{
		customers: []Customer{{Code: "C1", Name: "ACME"}},
		positions: []Position{{OrderNo: "S-1", PozNo: "2"}},
		machine:   &machine,
	}
	src := NewSource(q)
	ctx := context.Background()

	customers, err := src.Customers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	require.Contains(t, q.queries[0], "FROM dbcari")
	require.Contains(t, q.queries[0], "COALESCE(CAST(`ADI` AS CHAR), '') AS `ADI`")

	positions, err := src.Positions(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, "S-1-2", positions[0].ItemCode())
	require.Contains(t, q.queries[1], "ORDER BY PozID DESC LIMIT ?")
	require.Equal(t, []any{3000}, q.args[1])

	no, err := src.MachineNumber(ctx, "4411")
	require.NoError(t, err)
	require.Equal(t, 23, no)

	q.machine = nil
	no, err = src.MachineNumber(ctx, "4412")
	require.NoError(t, err)
	require.Zero(t, no)

	_, err = src.Order(ctx, "S-404")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = src.TesDetay(ctx, 100)
	require.NoError(t, err)
	require.Contains(t, q.queries[len(q.queries)-1], "ORDER BY OTONO DESC")
}
