package storcert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch is reported when a lookup legitimately found nothing.
var ErrNoMatch = errors.New("no match")

// ParseError - malformed or unexpected text or xml.
type ParseError struct {
	What  string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	input := e.Input
	if len(input) > 200 { //nolint:gomnd
		input = input[:200] + "..."
	}

	if e.Err != nil {
		return fmt.Sprintf("failed to parse %s: %s (input: %q)", e.What, e.Err, input)
	}

	return fmt.Sprintf("failed to parse %s (input: %q)", e.What, input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ToolError - an external command exited non-zero.
type ToolError struct {
	Args   []string
	RC     int
	Stdout []byte
	Stderr []byte
}

func (e *ToolError) Error() string {
	return fmt.Sprintf(
		"command failed [%d]:\n cmd: %s\nout:%s\nerr:%s",
		e.RC, strings.Join(e.Args, " "), e.Stdout, e.Stderr)
}

// IntegrityError - data read back did not match what was written. This is
// never retried.
type IntegrityError struct {
	Device string

	// Sectors is the number of bad sectors the block test tool counted, 0 if
	// the failure came from a pattern compare.
	Sectors int

	// Offset, Expected and Actual describe a pattern mismatch.
	Offset   int64
	Expected []byte
	Actual   []byte
}

func (e *IntegrityError) Error() string {
	if e.Sectors != 0 {
		return fmt.Sprintf("data verify error on %s: %d sectors failed", e.Device, e.Sectors)
	}

	return fmt.Sprintf("data verify error on %s at offset %d: expected:%x != actual:%x",
		e.Device, e.Offset, e.Expected, e.Actual)
}

// IsIntegrityError - is err (or its cause) an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsToolError - is err (or its cause) a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}
