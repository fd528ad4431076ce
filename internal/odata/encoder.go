package odata

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Encode escapes a string for use inside an OData single-quoted literal by
// doubling every single quote. It is not idempotent: encoding twice doubles again.
func Encode(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// EncodeLiteral renders a Go value as a v4 OData literal suitable for $filter.
func EncodeLiteral(value any) string {
	return encodeLiteral(value, V4)
}

// EncodeLiteralVersion renders a Go value as an OData literal for the given protocol version.
// v2 wraps date-times as datetime'...'; v4 emits bare ISO 8601.
func EncodeLiteralVersion(value any, version Version) string {
	return encodeLiteral(value, version)
}

func encodeLiteral(value any, version Version) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return "'" + Encode(v) + "'"
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		if version == V2 {
			return strconv.FormatInt(v, 10) + "L"
		}
		return strconv.FormatInt(v, 10)
	case float32:
		return formatFloat(float64(v), version)
	case float64:
		return formatFloat(v, version)
	case time.Time:
		if version == V2 {
			return "datetime'" + v.UTC().Format("2006-01-02T15:04:05") + "'"
		}
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return "'" + Encode(v.String()) + "'"
	default:
		return "'" + Encode(fmt.Sprint(v)) + "'"
	}
}

func formatFloat(v float64, version Version) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 1) {
		return "INF"
	}
	if math.IsInf(v, -1) {
		return "-INF"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if version == V2 {
		return s + "d"
	}
	return s
}

// EncodeKey renders an entity key predicate. A single key yields "(<literal>)",
// composite keys yield "(K1=<literal>,K2=<literal>)" sorted by property name.
func EncodeKey(keys map[string]any) string {
	if len(keys) == 0 {
		return "()"
	}
	if len(keys) == 1 {
		for _, v := range keys {
			return "(" + EncodeLiteral(v) + ")"
		}
	}
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+EncodeLiteral(keys[name]))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// EscapeQueryValue percent-encodes characters that would break a query string
// while keeping OData punctuation ($ ' ( ) , : / = @ ;) readable.
func EscapeQueryValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isQuerySafe(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isQuerySafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '~', '$', '\'', '(', ')', ',', ':', '/', '=', '@', ';', '*', '!':
		return true
	}
	return false
}
