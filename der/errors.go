package der

import (
	"errors"
	"fmt"
)

// Common errors. Every error returned by this package wraps one of these,
// usually through a *SyntaxError, *TagError or *TruncatedError that carries
// the offset of the fault.
var (
	ErrTruncated         = errors.New("der: truncated")
	ErrInvalidTag        = errors.New("der: invalid tag")
	ErrInvalidLength     = errors.New("der: invalid length")
	ErrLengthOutOfBounds = errors.New("der: length out of bounds")
	ErrNonMinimalLength  = errors.New("der: non-minimal length encoding")
	ErrIndefiniteLength  = errors.New("der: unsupported indefinite length")
	ErrInvalidOID        = errors.New("der: invalid object identifier")
	ErrInvalidValue      = errors.New("der: invalid value")
	ErrTrailingData      = errors.New("der: trailing data")
	ErrMaxDepth          = errors.New("der: maximum nesting depth exceeded")
)

// SyntaxError locates a structural fault in the input.
type SyntaxError struct {
	Err    error
	Offset int
	Detail string
}

func (e *SyntaxError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// TruncatedError reports a read that needed more bytes than remained.
type TruncatedError struct {
	Expected  int
	Remaining int
	Offset    int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("der: truncated at offset %d: need %d bytes, %d remaining", e.Offset, e.Expected, e.Remaining)
}

func (e *TruncatedError) Unwrap() error {
	return ErrTruncated
}

// TagError reports an unexpected or malformed identifier octet. Expected is
// nil when the tag itself could not be decoded.
type TagError struct {
	Expected *Tag
	Actual   Tag
	Offset   int
}

func (e *TagError) Error() string {
	if e.Expected == nil {
		return fmt.Sprintf("der: invalid tag %s at offset %d", e.Actual, e.Offset)
	}
	return fmt.Sprintf("der: expected tag %s, got %s at offset %d", *e.Expected, e.Actual, e.Offset)
}

func (e *TagError) Unwrap() error {
	return ErrInvalidTag
}

func syntaxErr(err error, offset int, format string, args ...any) error {
	return &SyntaxError{Err: err, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}
