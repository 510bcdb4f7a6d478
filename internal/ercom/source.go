package ercom

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a lookup matches no ERCOM row.
var ErrNotFound = errors.New("ercom: not found")

// Querier is the subset of *sqlx.DB the source reads through.
type Querier interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// Source reads ERCOM tables.
type Source struct {
	q Querier
}

// NewSource wraps a database handle.
func NewSource(q Querier) *Source {
	return &Source{q: q}
}

type column struct {
	name    string
	numeric bool
}

func text(name string) column { return column{name: name} }
func num(name string) column  { return column{name: name, numeric: true} }

// selectList coalesces NULLs so rows scan into plain Go types.
func selectList(cols ...column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c.numeric {
			parts[i] = fmt.Sprintf("COALESCE(`%s`, 0) AS `%s`", c.name, c.name)
		} else {
			parts[i] = fmt.Sprintf("COALESCE(CAST(`%s` AS CHAR), '') AS `%s`", c.name, c.name)
		}
	}
	return strings.Join(parts, ", ")
}

var (
	customerColumns = selectList(
		text("KOD"), text("ADI"), text("GRUP"), text("NOTLAR"), text("VDAIRESI"), text("VERGINO"),
		text("ADRES1"), text("ADRES2"), text("SEHIR"), text("POSTAKODU"), text("EMAIL"),
		text("TELEFON1"), text("TELEFON2"), text("FAKS"),
	)
	positionColumns = selectList(
		num("PozID"), num("SAYAC"), text("SIPARISNO"), text("POZNO"), num("TUTAR"), text("ACIKLAMA"),
		text("SERI"), num("GENISLIK"), num("YUKSEKLIK"), text("RENK"), num("ADET"), text("NOTLAR"),
	)
	orderColumns = selectList(
		text("SIPARISNO"), text("CARIUNVAN"), text("SIPTARIHI"), text("SEVKTARIHI"),
	)
	tesDetayColumns = selectList(
		num("OTONO"), text("SIPARISNO"), text("CARIKOD"), text("POZNO"), text("STOKKODU"), text("MODEL"),
		num("OLCU"), text("POZISYON"), num("ACI1"), num("ACI2"), num("ADET"), text("ERCOM"), num("SAYAC"),
		text("MONTAJYERI"), text("KASANO"), text("YERNO"), text("KANATNO"), text("ARABANO"), text("RC"),
		text("PROGRAMNO"), text("ISLEM"), text("BAYIADI"), num("EKSEN"), num("YUKSEKLIK"), num("SOLIC"),
		num("SAGIC"), num("ORTA"), text("DAKAPI"), text("DSKODU"), num("DSBOYU"), text("PROFILTIPI"),
		text("HESAPKODU"), num("ESIKSIZ"), num("WC"), num("KANATINDEX"), num("SANALADET"), text("ACIKLAMA"),
		num("URETIMSAYAC"),
	)
)

// Customers returns every dbcari row.
func (s *Source) Customers(ctx context.Context) ([]Customer, error) {
	var rows []Customer
	if err := s.q.SelectContext(ctx, &rows, "SELECT "+customerColumns+" FROM dbcari"); err != nil {
		return nil, fmt.Errorf("ercom: customers: %w", err)
	}
	return rows, nil
}

// Positions returns the newest limit dbpoz rows.
func (s *Source) Positions(ctx context.Context, limit int) ([]Position, error) {
	var rows []Position
	q := "SELECT " + positionColumns + " FROM dbpoz ORDER BY PozID DESC LIMIT ?"
	if err := s.q.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("ercom: positions: %w", err)
	}
	return rows, nil
}

// PositionsByOrder returns the dbpoz rows of one order in sheet order.
func (s *Source) PositionsByOrder(ctx context.Context, orderNo string) ([]Position, error) {
	var rows []Position
	q := "SELECT " + positionColumns + " FROM dbpoz WHERE SIPARISNO = ? ORDER BY PozID"
	if err := s.q.SelectContext(ctx, &rows, q, orderNo); err != nil {
		return nil, fmt.Errorf("ercom: positions of %s: %w", orderNo, err)
	}
	return rows, nil
}

// Order returns the dbsiparis row for orderNo.
func (s *Source) Order(ctx context.Context, orderNo string) (Order, error) {
	var row Order
	q := "SELECT " + orderColumns + " FROM dbsiparis WHERE SIPARISNO = ? LIMIT 1"
	if err := s.q.GetContext(ctx, &row, q, orderNo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, fmt.Errorf("order %s: %w", orderNo, ErrNotFound)
		}
		return Order{}, fmt.Errorf("ercom: order %s: %w", orderNo, err)
	}
	return row, nil
}

// MachineNumber returns the saw that cut optimisation optNo, or 0.
func (s *Source) MachineNumber(ctx context.Context, optNo string) (int, error) {
	var no int
	err := s.q.GetContext(ctx, &no, "SELECT COALESCE(MAKINA, 0) FROM dbtes WHERE OTONO = ? LIMIT 1", optNo)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ercom: machine of %s: %w", optNo, err)
	}
	return no, nil
}

// TesDetay returns the newest limit dbtesdetay rows.
func (s *Source) TesDetay(ctx context.Context, limit int) ([]TesDetay, error) {
	var rows []TesDetay
	q := "SELECT " + tesDetayColumns + " FROM dbtesdetay ORDER BY OTONO DESC LIMIT ?"
	if err := s.q.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("ercom: tesdetay: %w", err)
	}
	return rows, nil
}
