package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors for every failure class the engine surfaces. Callers
// classify with errors.Is and wrap call-site context with fmt.Errorf("%w").
var (
	// ErrInvalidQuery covers bad syntax, unknown commands and out-of-range
	// LIMIT/OFFSET values.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrTableNotFound is returned when a query names an unconfigured table.
	ErrTableNotFound = errors.New("table not found")

	// ErrColumnNotFound is returned when ORDER BY names a column that is
	// neither the primary key nor present in any sampled document.
	ErrColumnNotFound = errors.New("column not found")

	// ErrDocumentNotFound is returned by GET for an unknown primary key.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocIDExhausted is returned when a table's DocId counter would pass
	// its 32-bit ceiling.
	ErrDocIDExhausted = errors.New("doc id space exhausted")

	// ErrBusy is returned when OPTIMIZE is already running, or SYNC is
	// already running for the same table.
	ErrBusy = errors.New("operation already in progress")

	// ErrPrecondition is returned when an operation is attempted in a
	// lifecycle state that forbids it (e.g. REPLICATION START while loading).
	ErrPrecondition = errors.New("precondition failed")

	// ErrCodec covers bad magic, version mismatches, unknown attribute tags
	// and truncated dump streams.
	ErrCodec = errors.New("codec error")

	// ErrSourceTransient marks recoverable source-database failures; the
	// apply loop retries these with backoff.
	ErrSourceTransient = errors.New("transient source error")

	// ErrSourceFatal marks an unrecoverable row decode failure; the row is
	// skipped and logged.
	ErrSourceFatal = errors.New("fatal source error")

	// ErrInternal marks invariant violations.
	ErrInternal = errors.New("internal error")
)

// IsBusy reports whether err wraps ErrBusy.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsNotFound reports whether err is any of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrColumnNotFound) ||
		errors.Is(err, ErrDocumentNotFound)
}

// IsTransient reports whether err wraps ErrSourceTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrSourceTransient) }

// Invalidf wraps ErrInvalidQuery with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidQuery}, args...)...)
}

// Codecf wraps ErrCodec with a formatted reason.
func Codecf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCodec}, args...)...)
}
