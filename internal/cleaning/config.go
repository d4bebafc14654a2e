// Package cleaning implements the config-driven cleaning engine: it turns
// a raw tabular blob (CSV, XLSX or structured JSON records) into a
// normalized, typed dataset according to a declarative configuration.
//
// Configs are validated fully at load time so that an unknown transform
// op or type spec fails fast with a ConfigError instead of being skipped
// silently mid-pipeline. Per-cell coercion failures, by contrast, always
// degrade to null and never abort a partition.
package cleaning

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Format identifies the raw input encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
	FormatExcel Format = "excel" // alias accepted in feed configs
	FormatJSON  Format = "json"
)

// FileConfig describes how to parse the raw blob.
type FileConfig struct {
	Format    Format `json:"format"`
	HeaderRow int    `json:"header_row"`
}

// TypeKind is the closed set of target column types.
type TypeKind int

const (
	TypeDate TypeKind = iota
	TypeBool
	TypeInt
	TypeString
)

// TypeSpec is a parsed column type directive such as "date:%d/%m/%Y".
type TypeSpec struct {
	Kind TypeKind
	// Layout is the Go time layout for TypeDate columns.
	Layout string
}

// UnmarshalJSON parses the string form of a type directive and rejects
// unknown kinds.
func (t *TypeSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("type spec must be a string: %w", err)
	}
	switch {
	case strings.HasPrefix(s, "date:"):
		layout, err := strftimeToLayout(strings.TrimPrefix(s, "date:"))
		if err != nil {
			return err
		}
		*t = TypeSpec{Kind: TypeDate, Layout: layout}
	case s == "bool":
		*t = TypeSpec{Kind: TypeBool}
	case s == "int":
		*t = TypeSpec{Kind: TypeInt}
	case s == "str":
		*t = TypeSpec{Kind: TypeString}
	default:
		return fmt.Errorf("unknown type spec %q", s)
	}
	return nil
}

// TransformOp is the closed set of row/column transform operations.
type TransformOp string

const (
	OpStrip   TransformOp = "strip"
	OpLower   TransformOp = "lower"
	OpUpper   TransformOp = "upper"
	OpReplace TransformOp = "replace"
)

// Transform is one ordered transform step. Strip/lower/upper act on
// Cols; replace substitutes values in Col via Map.
type Transform struct {
	Op   TransformOp       `json:"op"`
	Cols []string          `json:"cols,omitempty"`
	Col  string            `json:"col,omitempty"`
	Map  map[string]string `json:"map,omitempty"`
}

// Config is a validated cleaning configuration.
type Config struct {
	File       FileConfig          `json:"file"`
	ColumnMap  map[string]string   `json:"column_map"`
	Defaults   map[string]any      `json:"defaults"`
	Types      map[string]TypeSpec `json:"types"`
	Transforms []Transform         `json:"transforms"`
}

// nowPrefix marks defaults resolved to the cleaning timestamp.
const nowPrefix = "@now:"

// Parse decodes and validates a config payload. All structural problems
// are reported as ConfigError.
func Parse(payload []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ConfigError{Reason: "decode payload", Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.File.Format {
	case "", FormatCSV, FormatXLSX, FormatExcel, FormatJSON:
	default:
		return &ConfigError{Reason: fmt.Sprintf("unsupported file format %q", c.File.Format)}
	}
	if c.File.HeaderRow < 0 {
		return &ConfigError{Reason: fmt.Sprintf("header_row must be non-negative, got %d", c.File.HeaderRow)}
	}

	for col, v := range c.Defaults {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, nowPrefix) {
			continue
		}
		if _, err := strftimeToLayout(strings.TrimPrefix(s, nowPrefix)); err != nil {
			return &ConfigError{Reason: fmt.Sprintf("default for %q", col), Err: err}
		}
	}

	for i, tr := range c.Transforms {
		switch tr.Op {
		case OpStrip, OpLower, OpUpper:
			if len(tr.Cols) == 0 {
				return &ConfigError{Reason: fmt.Sprintf("transform %d (%s) requires cols", i, tr.Op)}
			}
		case OpReplace:
			if tr.Col == "" {
				return &ConfigError{Reason: fmt.Sprintf("transform %d (replace) requires col", i)}
			}
			if len(tr.Map) == 0 {
				return &ConfigError{Reason: fmt.Sprintf("transform %d (replace) requires a value map", i)}
			}
		default:
			return &ConfigError{Reason: fmt.Sprintf("transform %d has unknown op %q", i, tr.Op)}
		}
	}
	return nil
}

// format returns the effective input format, defaulting to CSV like the
// feeds that predate explicit file sections.
func (c *Config) format() Format {
	if c.File.Format == "" {
		return FormatCSV
	}
	return c.File.Format
}

// sortedKeys gives deterministic application order for map-typed config
// sections, so re-running the same input yields an identical column
// layout.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
