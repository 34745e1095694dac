// Package billerrs defines the sentinel error kinds shared across the
// similarity pipeline, so callers can classify a failure with errors.Is
// without depending on the package that produced it.
package billerrs

import "errors"

var (
	// ErrParse indicates malformed or unparseable bill XML.
	ErrParse = errors.New("billsim: parse error")

	// ErrNotFound indicates a missing file, DB row, or index document.
	ErrNotFound = errors.New("billsim: not found")

	// ErrQuery indicates a search-engine query failure.
	ErrQuery = errors.New("billsim: query error")

	// ErrTimeout indicates the comparator subprocess exceeded its deadline.
	ErrTimeout = errors.New("billsim: timeout")

	// ErrValidation indicates an identifier failed the canonical regex.
	ErrValidation = errors.New("billsim: validation error")

	// ErrPersistence indicates a constraint violation or transient DB error.
	ErrPersistence = errors.New("billsim: persistence error")
)
