package cleaning

import "fmt"

// ConfigError reports a malformed or unsupported cleaning configuration.
// It aborts the cleaning stage before any parsing happens.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cleaning config: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("cleaning config: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FormatError reports an unparseable or unsupported input file format.
// It aborts the cleaning stage; no partial partition is persisted.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input format %q: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("unsupported input format %q", e.Format)
}

func (e *FormatError) Unwrap() error { return e.Err }
