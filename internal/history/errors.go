package history

import (
	"errors"
	"fmt"
)

// ErrNoRuns is returned by Latest when no batch has been recorded yet
var ErrNoRuns = errors.New("history: no batch runs recorded")

// ErrorKind classifies why a time identifier could not be resolved
type ErrorKind string

const (
	KindInvalid           ErrorKind = "invalid"
	KindMalformedDate     ErrorKind = "malformed_date"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindNotFound          ErrorKind = "not_found"
)

// ParseError is returned by Resolve for identifiers that do not map to a
// snapshot. DisplayTime is a best-effort human readable form of the input.
type ParseError struct {
	Kind        ErrorKind
	Input       string
	DisplayTime string
	Err         error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("time identifier %q: %s: %v", e.Input, e.Kind, e.Err)
	}
	return fmt.Sprintf("time identifier %q: %s", e.Input, e.Kind)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a ParseError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == kind
}
