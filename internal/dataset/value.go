package dataset

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical encoding for date cells in staged partitions.
const DateLayout = "2006-01-02"

// Kind identifies the coerced type of a cell.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindDate
)

// Value is a single nullable cell. Valid=false represents a null cell
// regardless of Kind; a failed coercion degrades to a null of the target
// kind rather than an error.
type Value struct {
	Kind  Kind
	Valid bool
	Str   string
	Int   int64
	Bool  bool
	Date  time.Time
}

// Null returns a null cell of the given kind.
func Null(kind Kind) Value {
	return Value{Kind: kind}
}

// String wraps a string cell. Empty strings are kept as valid values;
// only genuinely absent cells are null.
func String(s string) Value {
	return Value{Kind: KindString, Valid: true, Str: s}
}

// Int wraps an integer cell.
func Int(i int64) Value {
	return Value{Kind: KindInt, Valid: true, Int: i}
}

// Bool wraps a boolean cell.
func Bool(b bool) Value {
	return Value{Kind: KindBool, Valid: true, Bool: b}
}

// Date wraps a date cell, truncated to day precision.
func Date(t time.Time) Value {
	return Value{Kind: KindDate, Valid: true, Date: t.Truncate(24 * time.Hour)}
}

// Encode renders the cell in its staged CSV form: dates as 2006-01-02,
// bools as true/false, ints base-10, nulls as the empty string.
func (v Value) Encode() string {
	if !v.Valid {
		return ""
	}
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Date.Format(DateLayout)
	default:
		return v.Str
	}
}

// Text returns the cell as display text for string transforms. Null cells
// yield "" and ok=false.
func (v Value) Text() (string, bool) {
	if !v.Valid {
		return "", false
	}
	return v.Encode(), true
}

// dateSniffLayouts are tried in order when a cell was never typed by a
// cleaning config. The canonical staged layout comes first.
var dateSniffLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2/1/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
}

// AsDate interprets the cell as a date, sniffing common layouts for
// untyped string cells. ok=false for nulls and unparsable values.
func (v Value) AsDate() (time.Time, bool) {
	if !v.Valid {
		return time.Time{}, false
	}
	if v.Kind == KindDate {
		return v.Date, true
	}
	s := strings.TrimSpace(v.Encode())
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateSniffLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsFloat interprets the cell as a number. ok=false for nulls and
// unparsable values.
func (v Value) AsFloat() (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AsBool interprets the cell as a boolean. Untyped cells use the staged
// true/false encoding. ok=false for nulls and unparsable values.
func (v Value) AsBool() (bool, bool) {
	if !v.Valid {
		return false, false
	}
	if v.Kind == KindBool {
		return v.Bool, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(v.Str)))
	if err != nil {
		return false, false
	}
	return b, true
}
