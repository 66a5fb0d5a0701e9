package layer

import (
	"fmt"

	"github.com/airbusgeo/blktiler/internal/canon"
)

// Predicate accepts or rejects a canonical attribute value.
type Predicate func(v any) bool

// Equals accepts values equal to want (numbers compare by value, 1 == 1.0).
func Equals(want any) Predicate {
	want = Canonical(want)
	return func(v any) bool { return equal(v, want) }
}

// OneOf accepts values equal to any of vals.
func OneOf(vals ...any) Predicate {
	for i := range vals {
		vals[i] = Canonical(vals[i])
	}
	return func(v any) bool {
		for _, w := range vals {
			if equal(v, w) {
				return true
			}
		}
		return false
	}
}

// Between accepts numbers in [lo, hi].
func Between(lo, hi float64) Predicate {
	return func(v any) bool {
		f, ok := number(v)
		return ok && f >= lo && f <= hi
	}
}

// Attribute selects one source column of a feature layer.
type Attribute struct {
	// Name is the source column.
	Name string
	// DBName overrides the output name; Name is used when empty.
	DBName string
	// Filter invalidates the value (and so the whole tuple) when it returns false.
	Filter Predicate
	// Substitutions replaces values, keyed by their printed form ("1", "V", "2.5").
	Substitutions map[string]any
}

// OutputName is the column name used in attribute tables and sidecars.
func (a Attribute) OutputName() string {
	if a.DBName != "" {
		return a.DBName
	}
	return a.Name
}

// apply filters then substitutes a canonical value. ok is false when the value is invalid.
func (a Attribute) apply(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if a.Filter != nil && !a.Filter(v) {
		return nil, false
	}
	if s, found := a.Substitutions[fmt.Sprint(v)]; found && s != nil {
		return Canonical(s), true
	}
	return v, true
}

// Value is either a literal or a reference to an attribute of the decorated layer.
type Value struct {
	Literal   any
	Attribute string
}

// Literal returns a constant Value.
func Literal(v any) Value {
	return Value{Literal: Canonical(v)}
}

// AttributeRef returns a Value read from the named output column.
func AttributeRef(name string) Value {
	return Value{Attribute: name}
}

// IsSet reports whether v carries anything.
func (v Value) IsSet() bool {
	return v.Attribute != "" || v.Literal != nil
}

func (v Value) resolve(row map[string]any) (any, error) {
	if v.Attribute == "" {
		return v.Literal, nil
	}
	val, ok := row[v.Attribute]
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q", v.Attribute)
	}
	return val, nil
}

// Canonical normalizes an attribute value so equal values compare and hash equally:
// all integers become int64, integral floats become int64, []byte becomes string.
func Canonical(v any) any {
	return canon.Value(v)
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func equal(a, b any) bool {
	fa, oka := number(a)
	fb, okb := number(b)
	if oka && okb {
		return fa == fb
	}
	return a == b
}
