package cbor

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("cbor: truncated")
	ErrInvalidInitialByte = errors.New("cbor: invalid initial byte")
	ErrUnsupportedType    = errors.New("cbor: unsupported type")
	ErrTrailingData       = errors.New("cbor: trailing data")
	ErrMaxDepth           = errors.New("cbor: maximum nesting depth exceeded")
)

// TruncatedError reports a read that needed more bytes than remained.
// Remaining is the number of bytes left in the buffer at Offset.
type TruncatedError struct {
	Expected  int
	Remaining int
	Offset    int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("cbor: truncated at offset %d: need %d bytes, %d remaining", e.Offset, e.Expected, e.Remaining)
}

func (e *TruncatedError) Unwrap() error {
	return ErrTruncated
}

// SyntaxError reports a malformed or unsupported data item.
type SyntaxError struct {
	Err     error
	Offset  int
	Initial byte
	Detail  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v 0x%02x at offset %d: %s", e.Err, e.Initial, e.Offset, e.Detail)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}
