package sheet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DSTRow is a line of a DST cut list.
type DSTRow struct {
	StockCode   string
	Description string
	Size        decimal.Decimal
}

// ReadDST parses a DST workbook, which must carry STOK KODU, AÇIKLAMA and
// OLCU columns.
func ReadDST(wb *Workbook) ([]DSTRow, error) {
	if wb == nil || len(wb.Sheets) == 0 {
		return nil, ErrEmpty
	}
	t, err := wb.Sheets[0].Table(0)
	if err != nil || len(t.Rows) == 0 {
		return nil, fmt.Errorf("sheet: invalid or empty excel file")
	}
	if err := t.Require("STOK KODU", "AÇIKLAMA", "OLCU"); err != nil {
		return nil, err
	}
	out := make([]DSTRow, 0, len(t.Rows))
	for i, r := range t.Rows {
		size, err := ParseAmount(t.Cell(r, "OLCU"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, DSTRow{
			StockCode:   t.Cell(r, "STOK KODU"),
			Description: t.Cell(r, "AÇIKLAMA"),
			Size:        size,
		})
	}
	return out, nil
}
