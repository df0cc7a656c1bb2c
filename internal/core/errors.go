package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSource indicates no spreadsheet is installed at the source path.
	ErrNoSource = errors.New("no source file uploaded")

	// ErrInvalidFormat indicates the source file is not a readable xlsx workbook.
	ErrInvalidFormat = errors.New("invalid xlsx format")

	// ErrSheetNotFound indicates the workbook has no sheet with the requested name.
	ErrSheetNotFound = errors.New("sheet not found")

	// ErrHeaderNotFound indicates no row in the scan window carries every
	// required column.
	ErrHeaderNotFound = errors.New("header row not found")
)

// ConfigurationError reports a missing or unusable source file. It needs a
// human to install a new file and is never retried automatically.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: source %q: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SchemaError reports a sheet that is missing or lacks the required header.
type SchemaError struct {
	Sheet   string
	Missing []string // logical fields not found, when known
	Err     error
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema error in sheet %q: %v (missing: %s)",
			e.Sheet, e.Err, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema error in sheet %q: %v", e.Sheet, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is or wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// Classify returns a short label for err, used as a metrics label.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancel"
	case IsConfigurationError(err):
		return "config"
	case IsSchemaError(err):
		return "schema"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}

// ErrStorage marks failures of the index store. Stores wrap their errors
// with it so callers can tell them apart from source problems.
var ErrStorage = errors.New("index store")

// StorageError wraps err as a store failure for op.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
