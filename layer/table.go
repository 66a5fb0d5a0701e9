package layer

import (
	"sort"

	"github.com/airbusgeo/blktiler/internal/canon"
)

// Tuple is the ordered, canonical attribute values of one feature.
type Tuple []any

// key is a canonical serialization: equal tuples share a key, distinct tuples never do.
func (t Tuple) key() string {
	return canon.Key(t...)
}

// AttributeTable maps pixel codes to attribute tuples. Tables are not modified once built.
type AttributeTable map[int]Tuple

// Codes returns the table's pixel codes in ascending order.
func (at AttributeTable) Codes() []int {
	codes := make([]int, 0, len(at))
	for c := range at {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

func (at AttributeTable) clone() AttributeTable {
	if at == nil {
		return nil
	}
	c := make(AttributeTable, len(at))
	for k, v := range at {
		c[k] = append(Tuple(nil), v...)
	}
	return c
}

// DedupTable interns distinct tuples to sequential codes starting at 1. Codes are never
// reused nor reassigned. Not safe for concurrent use: each layer owns its table.
type DedupTable struct {
	codes  map[string]int
	tuples []Tuple
}

func NewDedupTable() *DedupTable {
	return &DedupTable{codes: make(map[string]int)}
}

// Intern returns the code of t, assigning the next one if t is new.
func (d *DedupTable) Intern(t Tuple) int {
	k := t.key()
	if c, ok := d.codes[k]; ok {
		return c
	}
	d.tuples = append(d.tuples, append(Tuple(nil), t...))
	c := len(d.tuples)
	d.codes[k] = c
	return c
}

func (d *DedupTable) Len() int {
	return len(d.tuples)
}

// Table returns a snapshot of the interned tuples keyed by code.
func (d *DedupTable) Table() AttributeTable {
	at := make(AttributeTable, len(d.tuples))
	for i, t := range d.tuples {
		at[i+1] = append(Tuple(nil), t...)
	}
	return at
}
