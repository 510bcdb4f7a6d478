package sheet

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// lower applies Turkish casing rules. A Caser is stateful, so one is built per call.
func lower(s string) string {
	return cases.Lower(language.Turkish).String(s)
}

// ParseAmount reads a Turkish formatted number such as "1.234,56 TL".
// Dots are thousands separators and the comma is the decimal mark.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(lower(s), "tl", ""))
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sheet: invalid amount %q", s)
	}
	return d, nil
}

var uomMap = map[string]string{
	"mtül":  "Mtul",
	"adet":  "Adet",
	"m²":    "Square Meter",
	"kg":    "Kilogram",
	"litre": "Litre",
	"kutu":  "Box",
	"tane":  "Tane",
}

// UOM maps an ERCOM unit to the ERP unit of measure.
func UOM(unit string) string {
	unit = strings.TrimSpace(unit)
	if uom, ok := uomMap[lower(unit)]; ok {
		return uom
	}
	if uom, ok := uomMap[strings.ToLower(unit)]; ok {
		return uom
	}
	return "Other"
}
