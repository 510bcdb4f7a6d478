package discount

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrIndexOutOfRange is returned when a row index does not exist in the set.
var ErrIndexOutOfRange = errors.New("discount row index out of range")

// Set is the ordered discount table owned by a single record. It is not safe
// for concurrent mutation.
type Set struct {
	entries  []Entry
	onChange []func(*Set)
}

// NewSet builds a set holding the given rates in order.
func NewSet(rates ...decimal.Decimal) *Set {
	s := &Set{entries: make([]Entry, 0, len(rates))}
	for _, r := range rates {
		s.entries = append(s.entries, Entry{Rate: r})
	}
	return s
}

// OnChange registers fn to run after every mutation.
func (s *Set) OnChange(fn func(*Set)) {
	if fn == nil {
		return
	}
	s.onChange = append(s.onChange, fn)
}

// Add appends a row.
func (s *Set) Add(rate decimal.Decimal) {
	s.entries = append(s.entries, Entry{Rate: rate})
	s.changed()
}

// Remove deletes the row at index i.
func (s *Set) Remove(i int) error {
	if i < 0 || i >= len(s.entries) {
		return ErrIndexOutOfRange
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.changed()
	return nil
}

// SetRate edits the rate of the row at index i.
func (s *Set) SetRate(i int, rate decimal.Decimal) error {
	if i < 0 || i >= len(s.entries) {
		return ErrIndexOutOfRange
	}
	s.entries[i].Rate = rate
	s.changed()
	return nil
}

// Entries returns a copy of the rows.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Set) Len() int { return len(s.entries) }

// Total is the aggregate of the current rows.
func (s *Set) Total() decimal.Decimal {
	return Aggregate(s.entries)
}

func (s *Set) changed() {
	for _, fn := range s.onChange {
		fn(s)
	}
}

// Bind keeps field on rec equal to the set's aggregate. The field is written
// immediately and again after every change.
func Bind(s *Set, rec Record, field string) {
	write := func(s *Set) {
		rec.SetField(field, s.Total().InexactFloat64())
	}
	write(s)
	s.OnChange(write)
}
