package sheet

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var leadingDigits = regexp.MustCompile(`^\s*(\d+)`)

// Profile is a bar usage line of an optimisation file.
type Profile struct {
	StockCode   string
	Description string
	Bars        decimal.Decimal
	Meters      decimal.Decimal
	Pieces      decimal.Decimal
}

// OPT is a parsed cutting optimisation workbook.
type OPT struct {
	OptNo    string
	Code     string
	Profiles []Profile
}

// ReadOPT parses an optimisation export. The optimisation number leads the
// fourth cell of the title row and the column header sits two rows below.
func ReadOPT(wb *Workbook, code string) (OPT, error) {
	if wb == nil || len(wb.Sheets) == 0 || len(wb.Sheets[0].Rows) == 0 {
		return OPT{}, ErrEmpty
	}
	if code == "" {
		return OPT{}, fmt.Errorf("sheet: could not extract opt code from file")
	}
	s := wb.Sheets[0]
	title := s.Rows[0]
	optNo := ""
	if len(title) > 3 {
		if m := leadingDigits.FindStringSubmatch(title[3]); m != nil {
			optNo = m[1]
		}
	}
	if optNo == "" {
		return OPT{}, fmt.Errorf("sheet: could not extract opt number from %s", s.Name)
	}

	t, err := s.Table(2)
	if err != nil || len(t.Rows) == 0 {
		return OPT{}, fmt.Errorf("sheet: no valid data rows found in %s", s.Name)
	}
	if err := t.Require(ColStockCode, ColDescription, "Adet", "Kullanılan", "Parça"); err != nil {
		return OPT{}, err
	}

	out := OPT{OptNo: optNo, Code: code}
	for _, r := range t.Rows {
		p := Profile{
			StockCode:   t.Cell(r, ColStockCode),
			Description: t.Cell(r, ColDescription),
		}
		if p.StockCode == "" {
			continue
		}
		if p.Bars, err = ParseAmount(t.Cell(r, "Adet")); err != nil {
			return OPT{}, err
		}
		if p.Meters, err = ParseAmount(t.Cell(r, "Kullanılan")); err != nil {
			return OPT{}, err
		}
		if p.Pieces, err = ParseAmount(t.Cell(r, "Parça")); err != nil {
			return OPT{}, err
		}
		out.Profiles = append(out.Profiles, p)
	}
	return out, nil
}
