// Package cose decodes COSE_Sign1 envelopes (RFC 9052) and summarizes
// COSE_Key maps. Signatures are never verified.
package cose

import (
	"errors"
	"fmt"

	gocose "github.com/veraison/go-cose"

	"github.com/kacy/appattest-decode/cbor"
)

var (
	// ErrNotArray is returned when the input is well-formed CBOR but not an
	// array, i.e. not a COSE_Sign1 at all.
	ErrNotArray = errors.New("cose: not an array")
	// ErrWrongLength is returned for arrays that do not hold four elements.
	ErrWrongLength = errors.New("cose: COSE_Sign1 must have 4 elements")
	// ErrInvalidElement is returned when an element has the wrong type.
	ErrInvalidElement = errors.New("cose: invalid COSE_Sign1 element")
)

// tagSign1 is the CBOR tag of COSE_Sign1_Tagged.
const tagSign1 = 18

// StructureError reports input that decodes as CBOR but is not shaped like a
// COSE_Sign1 message.
type StructureError struct {
	Err    error
	Offset int
	Kind   cbor.Kind
	Length int
	Field  string
}

func (e *StructureError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNotArray):
		return fmt.Sprintf("%v: found %s at offset %d", e.Err, e.Kind, e.Offset)
	case errors.Is(e.Err, ErrWrongLength):
		return fmt.Sprintf("%v: found %d at offset %d", e.Err, e.Length, e.Offset)
	}
	return fmt.Sprintf("%v: %s is %s at offset %d", e.Err, e.Field, e.Kind, e.Offset)
}

func (e *StructureError) Unwrap() error {
	return e.Err
}

// Sign1 is a decoded COSE_Sign1 message.
type Sign1 struct {
	// Tagged is set when the message was wrapped in CBOR tag 18.
	Tagged bool
	// Message is the four-element array.
	Message *cbor.Array

	Protected       *cbor.Bytes
	ProtectedHeader *cbor.Map
	Unprotected     *cbor.Map
	// Payload is a *cbor.Bytes, or a null *cbor.Simple for detached content.
	Payload   cbor.Value
	Signature *cbor.Bytes
}

// Options configures decoding.
type Options struct {
	MaxDepth int
	Base     int
}

// DecodeSign1 decodes data as a COSE_Sign1 message.
func DecodeSign1(data []byte) (*Sign1, error) {
	return Options{}.DecodeSign1(data)
}

// DecodeSign1 decodes data as a COSE_Sign1 message.
func (o Options) DecodeSign1(data []byte) (*Sign1, error) {
	v, err := cbor.Options{MaxDepth: o.MaxDepth, Base: o.Base}.Decode(data)
	if err != nil {
		return nil, err
	}
	return o.FromValue(v)
}

// FromValue interprets an already decoded item as a COSE_Sign1 message.
func (o Options) FromValue(v cbor.Value) (*Sign1, error) {
	msg := &Sign1{}
	if tag, ok := v.(*cbor.Tag); ok && tag.Number == tagSign1 {
		msg.Tagged = true
		v = tag.Content
	}

	arr, ok := v.(*cbor.Array)
	if !ok {
		return nil, &StructureError{Err: ErrNotArray, Offset: v.Pos().Offset, Kind: v.Kind()}
	}
	if len(arr.Items) != 4 {
		return nil, &StructureError{Err: ErrWrongLength, Offset: arr.Offset, Kind: arr.Kind(), Length: len(arr.Items)}
	}
	msg.Message = arr

	if msg.Protected, ok = arr.Items[0].(*cbor.Bytes); !ok {
		return nil, elementError("protected header", arr.Items[0])
	}
	if msg.Unprotected, ok = arr.Items[1].(*cbor.Map); !ok {
		return nil, elementError("unprotected header", arr.Items[1])
	}
	switch p := arr.Items[2].(type) {
	case *cbor.Bytes:
		msg.Payload = p
	case *cbor.Simple:
		if p.Value != cbor.SimpleNull {
			return nil, elementError("payload", p)
		}
		msg.Payload = p
	default:
		return nil, elementError("payload", p)
	}
	if msg.Signature, ok = arr.Items[3].(*cbor.Bytes); !ok {
		return nil, elementError("signature", arr.Items[3])
	}

	// A zero-length protected header stands for an empty map.
	if len(msg.Protected.Value) > 0 {
		hdr, err := cbor.Options{MaxDepth: o.MaxDepth, Base: msg.Protected.ContentOffset()}.Decode(msg.Protected.Value)
		if err != nil {
			return nil, fmt.Errorf("cose: protected header: %w", err)
		}
		m, ok := hdr.(*cbor.Map)
		if !ok {
			return nil, elementError("protected header content", hdr)
		}
		msg.ProtectedHeader = m
	}
	return msg, nil
}

func elementError(field string, v cbor.Value) error {
	return &StructureError{Err: ErrInvalidElement, Offset: v.Pos().Offset, Kind: v.Kind(), Field: field}
}

// Header looks up label in the protected header, then the unprotected one.
func (s *Sign1) Header(label int64) (cbor.Value, bool) {
	if s.ProtectedHeader != nil {
		if v, ok := s.ProtectedHeader.Int(label); ok {
			return v, true
		}
	}
	return s.Unprotected.Int(label)
}

// Algorithm returns the alg header parameter.
func (s *Sign1) Algorithm() (gocose.Algorithm, bool) {
	v, ok := s.Header(gocose.HeaderLabelAlgorithm)
	if !ok {
		return 0, false
	}
	n, ok := cbor.Int(v)
	return gocose.Algorithm(n), ok
}

// X5Chain returns the certificates carried in the x5chain header, which may
// be a single byte string or an array of them.
func (s *Sign1) X5Chain() []*cbor.Bytes {
	v, ok := s.Header(gocose.HeaderLabelX5Chain)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case *cbor.Bytes:
		return []*cbor.Bytes{t}
	case *cbor.Array:
		var out []*cbor.Bytes
		for _, item := range t.Items {
			if b, ok := item.(*cbor.Bytes); ok {
				out = append(out, b)
			}
		}
		return out
	}
	return nil
}

// AlgorithmName names a COSE algorithm identifier.
func AlgorithmName(alg int64) string {
	return gocose.Algorithm(alg).String()
}
