// Package failure defines the error kinds a blog generation run can end
// with. Each pipeline stage returns a *Error tagged with the kind of
// failure so that callers can branch on it with [KindOf] instead of
// matching message text.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors that did not originate
	// in a pipeline stage.
	Unknown Kind = iota

	// InputMissing means no video URL was supplied.
	InputMissing

	// Extraction means metadata or captions could not be obtained
	// (network, privacy, availability, malformed URL).
	Extraction

	// LengthExceeded means the normalized transcript is over the
	// configured character limit.
	LengthExceeded

	// Generation means the text-generation service failed or returned
	// an unusable response.
	Generation
)

// String returns the snake_case name used in logs and API payloads.
func (k Kind) String() string {
	switch k {
	case InputMissing:
		return "input_missing"
	case Extraction:
		return "extraction_failure"
	case LengthExceeded:
		return "length_exceeded"
	case Generation:
		return "generation_failure"
	default:
		return "unknown"
	}
}

// Error is a pipeline failure tagged with its Kind.
type Error struct {
	Kind Kind
	// Op names the stage or operation that failed (e.g. "yt-dlp").
	Op  string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a *Error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is a shorthand for New(kind, op, fmt.Errorf(format, args...)).
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain, or
// Unknown if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// LengthError is wrapped by LengthExceeded failures so callers can
// report the limit that was hit.
type LengthError struct {
	Limit  int
	Length int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("transcript is %d characters, limit is %d", e.Length, e.Limit)
}
