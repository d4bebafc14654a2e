package cleaning

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dx-insights/attp-pipeline/internal/dataset"
)

// truthy is the fixed vocabulary mapped to true by bool coercion,
// including the Vietnamese affirmatives present in the feeds. Everything
// else, including null, is false.
var truthy = map[string]bool{
	"1":    true,
	"true": true,
	"yes":  true,
	"x":    true,
	"co":   true,
	"có":   true,
}

// Clean transforms a raw blob into a normalized dataset:
// parse -> normalize headers -> column_map -> defaults -> types ->
// transforms, in that fixed order. now anchors "@now:" defaults, which
// makes the literal timestamp non-deterministic between runs by design;
// the structural shape of the output is not affected.
//
// Per-cell coercion failures become nulls; only an unparseable file or
// unsupported format aborts, as a FormatError.
func Clean(raw []byte, cfg *Config, now time.Time) (*dataset.Dataset, error) {
	d, err := parse(raw, cfg)
	if err != nil {
		return nil, err
	}

	d.NormalizeHeaders()
	d.Rename(cfg.ColumnMap)
	applyDefaults(d, cfg, now)
	applyTypes(d, cfg)
	applyTransforms(d, cfg)
	return d, nil
}

func parse(raw []byte, cfg *Config) (*dataset.Dataset, error) {
	format := cfg.format()
	var (
		d   *dataset.Dataset
		err error
	)
	switch format {
	case FormatCSV:
		d, err = dataset.ParseCSV(raw)
	case FormatXLSX, FormatExcel:
		d, err = dataset.ParseXLSX(raw, cfg.File.HeaderRow)
	case FormatJSON:
		d, err = dataset.ParseJSON(raw)
	default:
		return nil, &FormatError{Format: string(format)}
	}
	if err != nil {
		return nil, &FormatError{Format: string(format), Err: err}
	}
	return d, nil
}

// applyDefaults creates absent columns filled with the resolved default
// and back-fills null cells of present columns. Cells that already hold
// a value are never touched.
func applyDefaults(d *dataset.Dataset, cfg *Config, now time.Time) {
	for _, col := range sortedKeys(cfg.Defaults) {
		fill := resolveDefault(cfg.Defaults[col], now)
		if !d.HasColumn(col) {
			d.AddColumn(col, fill)
			continue
		}
		for i := range d.Rows {
			if !d.At(i, col).Valid {
				d.Set(i, col, fill)
			}
		}
	}
}

func resolveDefault(v any, now time.Time) dataset.Value {
	switch x := v.(type) {
	case nil:
		return dataset.Null(dataset.KindString)
	case string:
		if strings.HasPrefix(x, nowPrefix) {
			// Pattern already validated at config load.
			layout, _ := strftimeToLayout(strings.TrimPrefix(x, nowPrefix))
			return dataset.String(now.Format(layout))
		}
		return dataset.String(x)
	case bool:
		return dataset.Bool(x)
	case float64:
		if x == float64(int64(x)) {
			return dataset.Int(int64(x))
		}
		return dataset.String(strconv.FormatFloat(x, 'f', -1, 64))
	default:
		return dataset.String(fmt.Sprintf("%v", x))
	}
}

// applyTypes coerces cells of configured columns. Columns missing from
// the data are skipped; unparsable cells degrade to nulls of the target
// kind.
func applyTypes(d *dataset.Dataset, cfg *Config) {
	for _, col := range sortedKeys(cfg.Types) {
		if !d.HasColumn(col) {
			continue
		}
		spec := cfg.Types[col]
		for i := range d.Rows {
			d.Set(i, col, coerce(d.At(i, col), spec))
		}
	}
}

func coerce(v dataset.Value, spec TypeSpec) dataset.Value {
	switch spec.Kind {
	case TypeDate:
		s, ok := v.Text()
		if !ok {
			return dataset.Null(dataset.KindDate)
		}
		t, err := time.Parse(spec.Layout, strings.TrimSpace(s))
		if err != nil {
			return dataset.Null(dataset.KindDate)
		}
		return dataset.Date(t)

	case TypeBool:
		s, _ := v.Text()
		return dataset.Bool(truthy[strings.ToLower(strings.TrimSpace(s))])

	case TypeInt:
		s, ok := v.Text()
		if !ok {
			return dataset.Null(dataset.KindInt)
		}
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return dataset.Int(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return dataset.Int(int64(f))
		}
		return dataset.Null(dataset.KindInt)

	default: // TypeString
		s, ok := v.Text()
		if !ok {
			return dataset.Null(dataset.KindString)
		}
		return dataset.String(s)
	}
}

// applyTransforms runs the declared transforms in order, so later steps
// observe earlier steps' output. Targets missing from the data are
// skipped silently.
func applyTransforms(d *dataset.Dataset, cfg *Config) {
	for _, tr := range cfg.Transforms {
		switch tr.Op {
		case OpStrip, OpLower, OpUpper:
			for _, col := range tr.Cols {
				mapText(d, col, func(s string) string {
					switch tr.Op {
					case OpStrip:
						return strings.TrimSpace(s)
					case OpLower:
						return strings.ToLower(s)
					default:
						return strings.ToUpper(s)
					}
				})
			}
		case OpReplace:
			if !d.HasColumn(tr.Col) {
				continue
			}
			for i := range d.Rows {
				s, ok := d.At(i, tr.Col).Text()
				if !ok {
					continue
				}
				if to, hit := tr.Map[s]; hit {
					d.Set(i, tr.Col, dataset.String(to))
				}
			}
		}
	}
}

func mapText(d *dataset.Dataset, col string, f func(string) string) {
	if !d.HasColumn(col) {
		return
	}
	for i := range d.Rows {
		s, ok := d.At(i, col).Text()
		if !ok {
			continue
		}
		d.Set(i, col, dataset.String(f(s)))
	}
}
