package discount

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Record reads and writes named fields of a structured document.
type Record interface {
	GetField(name string) any
	SetField(name string, value any)
}

// Fields is an in-memory Record.
type Fields map[string]any

func (f Fields) GetField(name string) any { return f[name] }

func (f Fields) SetField(name string, value any) { f[name] = value }

// FieldDecimal reads a numeric field. Missing or unparsable values read as zero.
func FieldDecimal(rec Record, name string) decimal.Decimal {
	d, _ := toDecimal(rec.GetField(name))
	return d
}

// FieldString reads a string field, returning "" when absent.
func FieldString(rec Record, name string) string {
	switch v := rec.GetField(name).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// SetFromTable builds a Set from a child table of rec, reading field from each row.
// Rows may be Records or the map[string]any produced by JSON decoding.
func SetFromTable(rec Record, table, field string) *Set {
	s := NewSet()
	rows, _ := rec.GetField(table).([]any)
	for _, raw := range rows {
		var row Record
		switch r := raw.(type) {
		case Record:
			row = r
		case map[string]any:
			row = Fields(r)
		default:
			continue
		}
		s.entries = append(s.entries, Entry{Rate: FieldDecimal(row, field)})
	}
	return s
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		if strings.TrimSpace(n) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(n))
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric value %T", v)
	}
}

// Precision is the number of decimals the ERP keeps in percent fields.
const Precision = 3

// Stored returns d the way a percent field will hold it after saving.
func Stored(d decimal.Decimal) float64 {
	return d.Round(Precision).InexactFloat64()
}

// SameStored reports whether a and b are equal once saved to a percent field.
func SameStored(a, b decimal.Decimal) bool {
	return a.Round(Precision).Equal(b.Round(Precision))
}
