package sheet

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MLY column headers.
const (
	ColStockCode   = "Stok Kodu"
	ColDescription = "Açıklama"
	ColUnit        = "Birim"
	ColUnitPrice   = "Birim Fiyat"
	ColTotalPrice  = "Toplam Fiyat"
	ColQuantity    = "Miktar"
	ColUnitWeight  = "Birim Kg."
)

// Material is a raw material line of an MLY sheet.
type Material struct {
	StockCode   string
	Description string
	Unit        string
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Quantity    decimal.Decimal
	UnitWeight  decimal.Decimal
}

// BOMQty is total/unit price rounded to 7 places, or the stated quantity
// when the line has no unit price.
func (m Material) BOMQty() decimal.Decimal {
	return QtyAt(m.UnitPrice, m.TotalPrice, m.Quantity)
}

// QtyAt derives a BOM quantity from a rate and line amount.
func QtyAt(rate, amount, fallback decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return fallback
	}
	return amount.Div(rate).Round(7)
}

// MLYSheet is one manufactured position of an order.
type MLYSheet struct {
	// Index is the position of the sheet in the workbook, matching the
	// order's dbpoz rows.
	Index      int
	Name       string
	ItemCode   string
	TotalPrice decimal.Decimal
	Materials  []Material
}

// MLY is a parsed material list workbook.
type MLY struct {
	OrderNo string
	Sheets  []MLYSheet
}

// ReadMLY parses a material list workbook. Empty sheets are skipped but
// keep their index.
func ReadMLY(wb *Workbook) (MLY, error) {
	if wb == nil || len(wb.Sheets) == 0 {
		return MLY{}, ErrEmpty
	}
	first, err := wb.Sheets[0].Table(0)
	if err != nil || len(first.Rows) == 0 {
		return MLY{}, ErrEmpty
	}
	if err := first.Require(ColStockCode); err != nil {
		return MLY{}, err
	}
	out := MLY{OrderNo: first.Cell(tail(first.Rows)[0], ColStockCode)}
	if out.OrderNo == "" {
		return MLY{}, fmt.Errorf("sheet: order number missing in %s", wb.Sheets[0].Name)
	}

	for i, s := range wb.Sheets {
		t, err := s.Table(0)
		if err != nil || len(t.Rows) == 0 {
			continue
		}
		ms, err := readMLYSheet(t)
		if err != nil {
			return MLY{}, fmt.Errorf("sheet %s: %w", s.Name, err)
		}
		ms.Index = i
		ms.Name = s.Name
		out.Sheets = append(out.Sheets, ms)
	}
	return out, nil
}

func readMLYSheet(t Table) (MLYSheet, error) {
	if err := t.Require(ColStockCode, ColTotalPrice); err != nil {
		return MLYSheet{}, err
	}
	last := tail(t.Rows)
	if len(last) < 2 {
		return MLYSheet{}, fmt.Errorf("sheet: item code rows missing")
	}
	code := t.Cell(last[0], ColStockCode) + "-" + t.Cell(last[1], ColStockCode)
	total, err := ParseAmount(t.Cell(last[0], ColTotalPrice))
	if err != nil {
		return MLYSheet{}, err
	}
	ms := MLYSheet{ItemCode: code, TotalPrice: total}

	rows := lo.Filter(t.Rows, func(r []string, _ int) bool {
		return strings.HasPrefix(t.Cell(r, ColStockCode), "#")
	})
	for _, r := range rows {
		m, err := readMaterial(t, r)
		if err != nil {
			return MLYSheet{}, err
		}
		ms.Materials = append(ms.Materials, m)
	}
	return ms, nil
}

func readMaterial(t Table, r []string) (Material, error) {
	m := Material{
		StockCode:   strings.TrimLeft(t.Cell(r, ColStockCode), "#"),
		Description: t.Cell(r, ColDescription),
		Unit:        t.Cell(r, ColUnit),
	}
	fields := []struct {
		col string
		dst *decimal.Decimal
	}{
		{ColUnitPrice, &m.UnitPrice},
		{ColTotalPrice, &m.TotalPrice},
		{ColQuantity, &m.Quantity},
		{ColUnitWeight, &m.UnitWeight},
	}
	for _, f := range fields {
		v, err := ParseAmount(t.Cell(r, f.col))
		if err != nil {
			return Material{}, fmt.Errorf("%s %s: %w", m.StockCode, f.col, err)
		}
		*f.dst = v
	}
	return m, nil
}

// tail returns the last three rows.
func tail(rows [][]string) [][]string {
	if len(rows) <= 3 {
		return rows
	}
	return rows[len(rows)-3:]
}
