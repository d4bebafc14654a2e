package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseCSV reads an entire CSV blob into a dataset. The first record is
// the header; empty cells become nulls.
func ParseCSV(raw []byte) (*Dataset, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}

	d := New(records[0]...)
	for _, rec := range records[1:] {
		d.AppendRow(cellsToValues(rec))
	}
	return d, nil
}

// ParseXLSX reads the first sheet of a workbook. headerRow is the
// zero-based index of the header; rows above it are discarded.
func ParseXLSX(raw []byte, headerRow int) (*Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if headerRow < 0 || headerRow >= len(rows) {
		return nil, fmt.Errorf("header row %d out of range (%d rows)", headerRow, len(rows))
	}

	d := New(rows[headerRow]...)
	for _, rec := range rows[headerRow+1:] {
		d.AppendRow(cellsToValues(rec))
	}
	return d, nil
}

// ParseJSON reads structured records: either a JSON array of objects or
// line-delimited objects. Column order is first-seen across records.
func ParseJSON(raw []byte) (*Dataset, error) {
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, err
	}

	d := &Dataset{}
	for _, rec := range records {
		for _, k := range rec.keys {
			if !d.HasColumn(k) {
				d.AddColumn(k, Null(KindString))
			}
		}
	}
	for _, rec := range records {
		row := make([]Value, len(d.Columns))
		for i, c := range d.Columns {
			if v, ok := rec.fields[c]; ok {
				row[i] = jsonValue(v)
			} else {
				row[i] = Null(KindString)
			}
		}
		d.Rows = append(d.Rows, row)
	}
	return d, nil
}

// jsonRecord keeps the original key order alongside the decoded fields.
type jsonRecord struct {
	keys   []string
	fields map[string]any
}

func decodeRecords(raw []byte) ([]jsonRecord, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty json document")
	}

	if trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read json array: %w", err)
		}
		var out []jsonRecord
		for dec.More() {
			rec, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}

	// Fall back to line-delimited objects.
	var out []jsonRecord
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		rec, err := decodeObject(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodeObject decodes one object while preserving key order, which a
// plain map[string]any would lose.
func decodeObject(dec *json.Decoder) (jsonRecord, error) {
	rec := jsonRecord{fields: map[string]any{}}

	tok, err := dec.Token()
	if err != nil {
		return rec, fmt.Errorf("read json object: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return rec, fmt.Errorf("expected json object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return rec, fmt.Errorf("read json key: %w", err)
		}
		key := keyTok.(string)
		var val any
		if err := dec.Decode(&val); err != nil {
			return rec, fmt.Errorf("read json value for %q: %w", key, err)
		}
		if _, seen := rec.fields[key]; !seen {
			rec.keys = append(rec.keys, key)
		}
		rec.fields[key] = val
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return rec, fmt.Errorf("close json object: %w", err)
	}
	return rec, nil
}

func jsonValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null(KindString)
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		if x == float64(int64(x)) {
			return Int(int64(x))
		}
		return String(strconv.FormatFloat(x, 'f', -1, 64))
	default:
		b, _ := json.Marshal(x)
		return String(string(b))
	}
}

func cellsToValues(cells []string) []Value {
	row := make([]Value, len(cells))
	for i, c := range cells {
		if c == "" {
			row[i] = Null(KindString)
		} else {
			row[i] = String(c)
		}
	}
	return row
}
