// Package der reads ASN.1 DER encodings.
//
// The Reader is a cursor over an in-memory buffer that yields one TLV at a
// time. Only definite, minimally encoded lengths are accepted. TLVs are views
// into the caller's buffer; nothing is copied.
//
// Offsets reported in TLVs and errors are absolute: the position inside the
// buffer plus the base offset the reader was created with. This lets callers
// that reparse a nested payload report faults against the original input.
package der

import (
	"fmt"
	"math"
)

// Class is the ASN.1 tag class.
type Class uint8

// Tag classes.
const (
	ClassUniversal Class = iota
	ClassApplication
	ClassContextSpecific
	ClassPrivate
)

// Tag is a decoded identifier octet sequence.
type Tag struct {
	Class       Class
	Number      uint32
	Constructed bool
}

// Universal tags used by the decoders in this module.
var (
	TagBoolean         = Tag{Number: 1}
	TagInteger         = Tag{Number: 2}
	TagBitString       = Tag{Number: 3}
	TagOctetString     = Tag{Number: 4}
	TagNull            = Tag{Number: 5}
	TagOID             = Tag{Number: 6}
	TagEnumerated      = Tag{Number: 10}
	TagUTF8String      = Tag{Number: 12}
	TagSequence        = Tag{Number: 16, Constructed: true}
	TagSet             = Tag{Number: 17, Constructed: true}
	TagNumericString   = Tag{Number: 18}
	TagPrintableString = Tag{Number: 19}
	TagT61String       = Tag{Number: 20}
	TagIA5String       = Tag{Number: 22}
	TagUTCTime         = Tag{Number: 23}
	TagGeneralizedTime = Tag{Number: 24}
	TagVisibleString   = Tag{Number: 26}
	TagUniversalString = Tag{Number: 28}
	TagBMPString       = Tag{Number: 30}
)

// ContextTag returns the context-specific tag [n].
func ContextTag(n uint32, constructed bool) Tag {
	return Tag{Class: ClassContextSpecific, Number: n, Constructed: constructed}
}

var universalNames = map[uint32]string{
	1: "BOOLEAN", 2: "INTEGER", 3: "BIT STRING", 4: "OCTET STRING", 5: "NULL",
	6: "OBJECT IDENTIFIER", 10: "ENUMERATED", 12: "UTF8String", 16: "SEQUENCE",
	17: "SET", 18: "NumericString", 19: "PrintableString", 20: "T61String",
	22: "IA5String", 23: "UTCTime", 24: "GeneralizedTime", 26: "VisibleString",
	28: "UniversalString", 30: "BMPString",
}

func (t Tag) String() string {
	switch t.Class {
	case ClassUniversal:
		if name, ok := universalNames[t.Number]; ok {
			return name
		}
		return fmt.Sprintf("UNIVERSAL %d", t.Number)
	case ClassApplication:
		return fmt.Sprintf("[APPLICATION %d]", t.Number)
	case ClassContextSpecific:
		return fmt.Sprintf("[%d]", t.Number)
	default:
		return fmt.Sprintf("[PRIVATE %d]", t.Number)
	}
}

// TLV is one decoded element. It references the reader's buffer.
type TLV struct {
	Tag Tag
	// Offset is the absolute offset of the first identifier octet.
	Offset int
	// HeaderLen is the number of identifier and length octets.
	HeaderLen int
	// Length is the number of content octets.
	Length int

	raw []byte
}

// Bytes returns the full encoding, header included.
func (t TLV) Bytes() []byte {
	return t.raw
}

// Value returns the content octets.
func (t TLV) Value() []byte {
	return t.raw[t.HeaderLen:]
}

// ValueOffset is the absolute offset of the first content octet.
func (t TLV) ValueOffset() int {
	return t.Offset + t.HeaderLen
}

// End is the absolute offset just past the element.
func (t TLV) End() int {
	return t.Offset + t.HeaderLen + t.Length
}

// Is reports whether the element carries tag.
func (t TLV) Is(tag Tag) bool {
	return t.Tag == tag
}

// maxLengthOctets bounds long-form lengths to values that fit in 32 bits.
const maxLengthOctets = 4

// Reader is a forward-only DER cursor.
type Reader struct {
	buf  []byte
	pos  int
	base int
}

// NewReader returns a reader over buf with offsets starting at zero.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// NewReaderAt returns a reader over buf whose offsets start at base.
func NewReaderAt(buf []byte, base int) *Reader {
	return &Reader{buf: buf, base: base}
}

// Offset returns the absolute offset of the next unread byte.
func (r *Reader) Offset() int {
	return r.base + r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Empty reports whether every byte has been consumed.
func (r *Reader) Empty() bool {
	return r.pos >= len(r.buf)
}

func (r *Reader) truncated(need int) error {
	return &TruncatedError{Expected: need, Remaining: r.Remaining(), Offset: r.Offset()}
}

// ReadTag reads identifier octets, including the high-tag-number form.
func (r *Reader) ReadTag() (Tag, error) {
	if r.Empty() {
		return Tag{}, r.truncated(1)
	}
	start := r.Offset()
	b := r.buf[r.pos]
	r.pos++
	tag := Tag{
		Class:       Class(b >> 6),
		Constructed: b&0x20 != 0,
		Number:      uint32(b & 0x1f),
	}
	if tag.Number != 0x1f {
		return tag, nil
	}

	var n uint32
	for i := 0; ; i++ {
		if r.Empty() {
			return Tag{}, r.truncated(1)
		}
		c := r.buf[r.pos]
		r.pos++
		if i == 0 && c == 0x80 {
			return Tag{}, &TagError{Actual: tag, Offset: start}
		}
		// Five base-128 octets already exceed 32 bits.
		if i == 4 {
			return Tag{}, &TagError{Actual: tag, Offset: start}
		}
		n = n<<7 | uint32(c&0x7f)
		if c&0x80 == 0 {
			break
		}
	}
	tag.Number = n
	if n < 0x1f {
		// Low tag numbers must use the single-octet form.
		return Tag{}, &TagError{Actual: tag, Offset: start}
	}
	return tag, nil
}

// ReadLength reads length octets. Indefinite and non-minimal forms are
// rejected.
func (r *Reader) ReadLength() (int, error) {
	if r.Empty() {
		return 0, r.truncated(1)
	}
	start := r.Offset()
	b := r.buf[r.pos]
	r.pos++
	switch {
	case b < 0x80:
		return int(b), nil
	case b == 0x80:
		return 0, syntaxErr(ErrIndefiniteLength, start, "indefinite length octet 0x80")
	case b == 0xff:
		return 0, syntaxErr(ErrInvalidLength, start, "reserved length octet 0xff")
	}

	n := int(b & 0x7f)
	if n > maxLengthOctets {
		return 0, syntaxErr(ErrLengthOutOfBounds, start, "%d length octets", n)
	}
	if r.Remaining() < n {
		return 0, r.truncated(n)
	}
	if r.buf[r.pos] == 0 {
		return 0, syntaxErr(ErrNonMinimalLength, start, "leading zero length octet")
	}
	var length uint64
	for i := 0; i < n; i++ {
		length = length<<8 | uint64(r.buf[r.pos])
		r.pos++
	}
	if length < 0x80 {
		return 0, syntaxErr(ErrNonMinimalLength, start, "length %d fits the short form", length)
	}
	if length > math.MaxInt32 {
		return 0, syntaxErr(ErrLengthOutOfBounds, start, "length %d", length)
	}
	return int(length), nil
}

// Next reads one complete TLV. On error the cursor does not move.
func (r *Reader) Next() (TLV, error) {
	start := r.pos
	tag, err := r.ReadTag()
	if err != nil {
		r.pos = start
		return TLV{}, err
	}
	length, err := r.ReadLength()
	if err != nil {
		r.pos = start
		return TLV{}, err
	}
	if length > r.Remaining() {
		err := r.truncated(length)
		r.pos = start
		return TLV{}, err
	}
	header := r.pos - start
	r.pos += length
	return TLV{
		Tag:       tag,
		Offset:    r.base + start,
		HeaderLen: header,
		Length:    length,
		raw:       r.buf[start:r.pos],
	}, nil
}

// Peek returns the tag of the next element without consuming it.
func (r *Reader) Peek() (Tag, error) {
	start := r.pos
	tag, err := r.ReadTag()
	r.pos = start
	return tag, err
}

// Expect reads the next TLV and fails with a *TagError if its tag differs.
func (r *Reader) Expect(want Tag) (TLV, error) {
	start := r.pos
	t, err := r.Next()
	if err != nil {
		return TLV{}, err
	}
	if t.Tag != want {
		r.pos = start
		return TLV{}, &TagError{Expected: &want, Actual: t.Tag, Offset: t.Offset}
	}
	return t, nil
}

// ExpectOptional reads the next TLV only if it carries want.
func (r *Reader) ExpectOptional(want Tag) (TLV, bool, error) {
	if r.Empty() {
		return TLV{}, false, nil
	}
	tag, err := r.Peek()
	if err != nil {
		return TLV{}, false, err
	}
	if tag != want {
		return TLV{}, false, nil
	}
	t, err := r.Next()
	return t, err == nil, err
}

// WithValue runs fn over a reader scoped to t's content octets. fn must
// consume the whole content; leftovers are reported as ErrTrailingData.
func (r *Reader) WithValue(t TLV, fn func(*Reader) error) error {
	sub := t.Reader()
	if err := fn(sub); err != nil {
		return err
	}
	if !sub.Empty() {
		return syntaxErr(ErrTrailingData, sub.Offset(), "%d unread bytes in %s", sub.Remaining(), t.Tag)
	}
	return nil
}

// Reader returns a reader over t's content octets with absolute offsets.
func (t TLV) Reader() *Reader {
	return NewReaderAt(t.Value(), t.ValueOffset())
}

// ReadAll reads the remaining elements at the current level.
func (r *Reader) ReadAll() ([]TLV, error) {
	var out []TLV
	for !r.Empty() {
		t, err := r.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseSingle reads exactly one TLV from buf, rejecting trailing bytes.
func ParseSingle(buf []byte, base int) (TLV, error) {
	r := NewReaderAt(buf, base)
	t, err := r.Next()
	if err != nil {
		return TLV{}, err
	}
	if !r.Empty() {
		return TLV{}, syntaxErr(ErrTrailingData, r.Offset(), "%d bytes after top-level element", r.Remaining())
	}
	return t, nil
}
