package erp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Doc is a Frappe document as decoded from JSON. It satisfies discount.Record.
type Doc map[string]any

func (d Doc) GetField(name string) any { return d[name] }

func (d Doc) SetField(name string, value any) { d[name] = value }

// Doctype returns the document type.
func (d Doc) Doctype() string { return d.Str("doctype") }

// Name returns the document name.
func (d Doc) Name() string { return d.Str("name") }

// DocStatus returns 0 for draft, 1 for submitted and 2 for cancelled.
func (d Doc) DocStatus() int { return int(d.Float("docstatus")) }

// Str reads a field as a string.
func (d Doc) Str(field string) string {
	switch v := d[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Float reads a numeric field, accepting numbers and numeric strings.
func (d Doc) Float(field string) float64 {
	switch v := d[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Bool reads a Frappe check field.
func (d Doc) Bool(field string) bool { return d.Float(field) != 0 }

// Rows returns the child table rows of field.
func (d Doc) Rows(field string) []Doc {
	switch rows := d[field].(type) {
	case []Doc:
		return rows
	case []any:
		out := make([]Doc, 0, len(rows))
		for _, r := range rows {
			switch row := r.(type) {
			case map[string]any:
				out = append(out, Doc(row))
			case Doc:
				out = append(out, row)
			}
		}
		return out
	}
	return nil
}

// Append adds a row to the child table field.
func (d Doc) Append(field string, row Doc) {
	rows := d.Rows(field)
	rows = append(rows, row)
	anyRows := make([]any, len(rows))
	for i, r := range rows {
		anyRows[i] = map[string]any(r)
	}
	d[field] = anyRows
}

// SetRows replaces the child table field.
func (d Doc) SetRows(field string, rows []Doc) {
	anyRows := make([]any, len(rows))
	for i, r := range rows {
		anyRows[i] = map[string]any(r)
	}
	d[field] = anyRows
}

// NewDoc returns an empty document of the given type.
func NewDoc(doctype string) Doc {
	return Doc{"doctype": doctype}
}

// Filters is encoded as a Frappe filter dict; values may be a scalar for
// equality or a two element [operator, value] slice.
type Filters map[string]any

// ListQuery parameterises GetList.
type ListQuery struct {
	Filters Filters
	Fields  []string
	OrderBy string
	Limit   int
}
