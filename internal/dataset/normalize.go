package dataset

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes to NFD, drops combining marks and recomposes,
// turning "Ngày cấp" into "Ngay cap".
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeHeader canonicalizes a raw column name: trim, lower-case,
// fold diacritics to ASCII and collapse internal whitespace to a single
// underscore. The Vietnamese đ/Đ carry no combining mark, so they are
// mapped explicitly.
func NormalizeHeader(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	if folded, _, err := transform.String(foldMarks, s); err == nil {
		s = folded
	}
	s = strings.ReplaceAll(s, "đ", "d")
	return strings.Join(strings.Fields(s), "_")
}

// NormalizeHeaders canonicalizes every column name in place.
func (d *Dataset) NormalizeHeaders() {
	for i, c := range d.Columns {
		d.Columns[i] = NormalizeHeader(c)
	}
}
