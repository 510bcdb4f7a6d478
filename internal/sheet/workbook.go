// Package sheet reads the ERCOM workbook exports (MLY, OPT and DST files).
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/extrame/xls"
	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFile is returned for anything but .xls and .xlsx.
var ErrUnsupportedFile = errors.New("sheet: invalid file format, allowed formats: .xls, .xlsx")

// ErrEmpty is returned when a workbook or table has no data rows.
var ErrEmpty = errors.New("sheet: workbook is empty")

// Sheet is one worksheet with blank rows removed.
type Sheet struct {
	Name string
	Rows [][]string
}

// Workbook holds every sheet in file order.
type Workbook struct {
	Sheets []Sheet
}

// FileInfo describes an uploaded workbook by its name.
type FileInfo struct {
	Name     string
	Ext      string
	Category string
	Code     string
}

// Describe splits a file URL such as /private/files/MLY_24-118.xlsx into
// its category (mly) and code (24-118).
func Describe(fileURL string) FileInfo {
	name := path.Base(fileURL)
	ext := strings.ToLower(path.Ext(name))
	stem := strings.TrimSuffix(name, path.Ext(name))
	info := FileInfo{Name: name, Ext: ext}
	category, code, found := strings.Cut(stem, "_")
	if !found {
		category, code, _ = strings.Cut(stem, " ")
	}
	info.Category = lower(strings.TrimSpace(category))
	info.Code = strings.TrimSpace(code)
	return info
}

// Supported reports whether ext names a workbook format Open can read.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == ".xls" || ext == ".xlsx"
}

// Open parses data according to the extension of name.
func Open(name string, data []byte) (*Workbook, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx":
		return openXLSX(data)
	case ".xls":
		return openXLS(data)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFile)
	}
}

func openXLSX(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sheet: read xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet: read %s: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, Sheet{Name: name, Rows: compact(rows)})
	}
	if len(wb.Sheets) == 0 {
		return nil, ErrEmpty
	}
	return wb, nil
}

func openXLS(data []byte) (*Workbook, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("sheet: read xls: %w", err)
	}
	wb := &Workbook{}
	for i := 0; i < book.NumSheets(); i++ {
		ws := book.GetSheet(i)
		if ws == nil {
			continue
		}
		rows := make([][]string, 0, int(ws.MaxRow)+1)
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				continue
			}
			cells := make([]string, row.LastCol())
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells[c] = row.Col(c)
			}
			rows = append(rows, cells)
		}
		wb.Sheets = append(wb.Sheets, Sheet{Name: ws.Name, Rows: compact(rows)})
	}
	if len(wb.Sheets) == 0 {
		return nil, ErrEmpty
	}
	return wb, nil
}

// compact trims cells and drops rows with no content.
func compact(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		trimmed := lo.Map(row, func(c string, _ int) string { return strings.TrimSpace(c) })
		if lo.EveryBy(trimmed, func(c string) bool { return c == "" }) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// Table is a header-indexed view over rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Table uses row headerRow as the header and the rows after it as data.
func (s Sheet) Table(headerRow int) (Table, error) {
	if headerRow >= len(s.Rows) {
		return Table{}, fmt.Errorf("sheet %s: %w", s.Name, ErrEmpty)
	}
	return Table{Header: s.Rows[headerRow], Rows: s.Rows[headerRow+1:]}, nil
}

// Column returns the index of the named column, or -1.
func (t Table) Column(name string) int {
	want := lower(strings.TrimSpace(name))
	return lo.IndexOf(lo.Map(t.Header, func(h string, _ int) string { return lower(h) }), want)
}

// Require returns an error naming every missing column.
func (t Table) Require(names ...string) error {
	missing := lo.Filter(names, func(n string, _ int) bool { return t.Column(n) < 0 })
	if len(missing) > 0 {
		return fmt.Errorf("sheet: missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Cell returns the value of column name in row, or "".
func (t Table) Cell(row []string, name string) string {
	idx := t.Column(name)
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
