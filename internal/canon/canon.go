// Package canon normalizes attribute values so that structurally equal values compare and
// hash equally, whatever Go kind they were read as.
package canon

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value normalizes v: all integers become int64, integral floats become int64, []byte
// becomes string. Other unknown kinds are formatted to strings.
func Value(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64:
		return v
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return Value(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// Key serializes the canonical form of vals. Every component is a type tag followed by a
// quoted rendering, so no value can forge a separator.
func Key(vals ...any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(',')
		}
		writeComponent(&b, Value(v))
	}
	return b.String()
}

func writeComponent(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("nil")
	case string:
		b.WriteString("s")
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString("b")
		b.WriteString(strconv.FormatBool(t))
	case int64:
		b.WriteString("i")
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString("f")
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	}
}
