package der

import (
	encoding_asn1 "encoding/asn1"
	"encoding/binary"
	"math/big"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
)

// OID decodes an OBJECT IDENTIFIER element to dotted-decimal form.
func OID(t TLV) (string, error) {
	if t.Tag != TagOID {
		return "", &TagError{Expected: &TagOID, Actual: t.Tag, Offset: t.Offset}
	}
	var oid encoding_asn1.ObjectIdentifier
	s := cryptobyte.String(t.Bytes())
	if !s.ReadASN1ObjectIdentifier(&oid) || !s.Empty() {
		return "", syntaxErr(ErrInvalidOID, t.Offset, "malformed arcs")
	}
	return oid.String(), nil
}

// Bool decodes a DER BOOLEAN. Only 0x00 and 0xff are accepted.
func Bool(t TLV) (bool, error) {
	if t.Tag != TagBoolean {
		return false, &TagError{Expected: &TagBoolean, Actual: t.Tag, Offset: t.Offset}
	}
	var v bool
	s := cryptobyte.String(t.Bytes())
	if !s.ReadASN1Boolean(&v) || !s.Empty() {
		return false, syntaxErr(ErrInvalidValue, t.Offset, "boolean content % x", t.Value())
	}
	return v, nil
}

// BigInt decodes an INTEGER as big-endian two's complement. Redundant
// leading octets are tolerated since serial numbers in the wild carry them.
func BigInt(t TLV) (*big.Int, error) {
	if t.Tag != TagInteger && t.Tag != TagEnumerated {
		return nil, &TagError{Expected: &TagInteger, Actual: t.Tag, Offset: t.Offset}
	}
	v := t.Value()
	if len(v) == 0 {
		return nil, syntaxErr(ErrInvalidValue, t.Offset, "empty integer")
	}
	n := new(big.Int).SetBytes(v)
	if v[0]&0x80 != 0 {
		// Negative: subtract 2^(8*len).
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(v))*8))
	}
	return n, nil
}

// Int64 decodes an INTEGER that must fit in 64 bits.
func Int64(t TLV) (int64, error) {
	n, err := BigInt(t)
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, syntaxErr(ErrInvalidValue, t.Offset, "integer %s overflows int64", n)
	}
	return n.Int64(), nil
}

// Time decodes a UTCTime or GeneralizedTime. The result is in UTC.
func Time(t TLV) (time.Time, error) {
	var (
		v  time.Time
		ok bool
	)
	s := cryptobyte.String(t.Bytes())
	switch t.Tag {
	case TagUTCTime:
		ok = s.ReadASN1UTCTime(&v)
	case TagGeneralizedTime:
		ok = s.ReadASN1GeneralizedTime(&v)
	default:
		return time.Time{}, &TagError{Expected: &TagUTCTime, Actual: t.Tag, Offset: t.Offset}
	}
	if !ok || !s.Empty() {
		return time.Time{}, syntaxErr(ErrInvalidValue, t.Offset, "%s %q", t.Tag, t.Value())
	}
	return v.UTC(), nil
}

// BitString is a decoded BIT STRING.
type BitString struct {
	Bytes      []byte
	UnusedBits int
}

// BitLength returns the number of significant bits.
func (b BitString) BitLength() int {
	return len(b.Bytes)*8 - b.UnusedBits
}

// At returns bit i counting from the most significant bit of the first
// octet. Out-of-range bits read as zero.
func (b BitString) At(i int) bool {
	if i < 0 || i >= b.BitLength() {
		return false
	}
	return b.Bytes[i/8]>>(7-uint(i%8))&1 == 1
}

// Bits decodes a BIT STRING. The unused-bit count must be at most 7 and
// zero for an empty string.
func Bits(t TLV) (BitString, error) {
	if t.Tag != TagBitString {
		return BitString{}, &TagError{Expected: &TagBitString, Actual: t.Tag, Offset: t.Offset}
	}
	v := t.Value()
	if len(v) == 0 {
		return BitString{}, syntaxErr(ErrInvalidValue, t.Offset, "bit string without unused-bits octet")
	}
	unused := int(v[0])
	if unused > 7 || (len(v) == 1 && unused != 0) {
		return BitString{}, syntaxErr(ErrInvalidValue, t.Offset, "%d unused bits", unused)
	}
	return BitString{Bytes: v[1:], UnusedBits: unused}, nil
}

// IsString reports whether tag is one of the character string types.
func IsString(tag Tag) bool {
	switch tag {
	case TagUTF8String, TagPrintableString, TagIA5String, TagT61String,
		TagNumericString, TagVisibleString, TagBMPString, TagUniversalString:
		return true
	}
	return false
}

// String decodes a character string element. BMPString and UniversalString
// are converted from UTF-16BE and UTF-32BE; the 8-bit types are returned
// with invalid sequences replaced.
func String(t TLV) (string, error) {
	if !IsString(t.Tag) {
		return "", &TagError{Expected: &TagUTF8String, Actual: t.Tag, Offset: t.Offset}
	}
	v := t.Value()
	switch t.Tag {
	case TagBMPString:
		if len(v)%2 != 0 {
			return "", syntaxErr(ErrInvalidValue, t.Offset, "odd BMPString length %d", len(v))
		}
		units := make([]uint16, 0, len(v)/2)
		for i := 0; i < len(v); i += 2 {
			units = append(units, binary.BigEndian.Uint16(v[i:]))
		}
		return string(utf16.Decode(units)), nil
	case TagUniversalString:
		if len(v)%4 != 0 {
			return "", syntaxErr(ErrInvalidValue, t.Offset, "UniversalString length %d", len(v))
		}
		var sb strings.Builder
		for i := 0; i < len(v); i += 4 {
			sb.WriteRune(rune(binary.BigEndian.Uint32(v[i:])))
		}
		return sb.String(), nil
	}
	if utf8.Valid(v) {
		return string(v), nil
	}
	return strings.ToValidUTF8(string(v), "�"), nil
}
