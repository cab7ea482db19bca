package cbor

import (
	"fmt"
	"math/big"

	"github.com/samber/lo"
)

// Kind identifies the concrete type behind a Value.
type Kind int

const (
	KindUnsigned Kind = iota
	KindNegative
	KindBytes
	KindText
	KindArray
	KindMap
	KindTag
	KindSimple
	KindFloat
)

var kindNames = [...]string{
	KindUnsigned: "unsigned",
	KindNegative: "negative",
	KindBytes:    "bytes",
	KindText:     "text",
	KindArray:    "array",
	KindMap:      "map",
	KindTag:      "tag",
	KindSimple:   "simple",
	KindFloat:    "float",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Span locates a data item in the buffer it was decoded from. Offset is
// relative to that buffer plus the decoder's Base.
type Span struct {
	Offset    int
	HeaderLen int
	Length    int

	raw []byte
}

// Pos returns the span itself. It is promoted to every Value.
func (s Span) Pos() Span {
	return s
}

// End returns the offset just past the item.
func (s Span) End() int {
	return s.Offset + s.Length
}

// ContentOffset returns the offset of the first byte after the header.
func (s Span) ContentOffset() int {
	return s.Offset + s.HeaderLen
}

// Raw returns the complete encoding of the item.
func (s Span) Raw() []byte {
	return s.raw
}

// Value is a decoded CBOR data item: one of *Unsigned, *Negative, *Bytes,
// *Text, *Array, *Map, *Tag, *Simple or *Float.
type Value interface {
	Kind() Kind
	Pos() Span
}

// Unsigned is major type 0.
type Unsigned struct {
	Span
	Value uint64
}

// Negative is major type 1. It encodes the integer -1-N.
type Negative struct {
	Span
	N uint64
}

// Bytes is major type 2. Value aliases the input buffer.
type Bytes struct {
	Span
	Value []byte
}

// Text is major type 3.
type Text struct {
	Span
	Value string
}

// Array is major type 4.
type Array struct {
	Span
	Items []Value
}

// Entry is one key/value pair of a Map.
type Entry struct {
	Key   Value
	Value Value
}

// Map is major type 5. Entries keep source order and duplicates.
type Map struct {
	Span
	Entries []Entry
}

// Tag is major type 6.
type Tag struct {
	Span
	Number  uint64
	Content Value
}

// Simple values of major type 7.
const (
	SimpleFalse     = 20
	SimpleTrue      = 21
	SimpleNull      = 22
	SimpleUndefined = 23
)

// Simple is major type 7 other than floats: booleans, null, undefined and
// unassigned simple values.
type Simple struct {
	Span
	Value uint8
}

// Float is major type 7 with a half, single or double precision payload.
// Bits is 16, 32 or 64.
type Float struct {
	Span
	Value float64
	Bits  int
}

func (*Unsigned) Kind() Kind { return KindUnsigned }
func (*Negative) Kind() Kind { return KindNegative }
func (*Bytes) Kind() Kind    { return KindBytes }
func (*Text) Kind() Kind     { return KindText }
func (*Array) Kind() Kind    { return KindArray }
func (*Map) Kind() Kind      { return KindMap }
func (*Tag) Kind() Kind      { return KindTag }
func (*Simple) Kind() Kind   { return KindSimple }
func (*Float) Kind() Kind    { return KindFloat }

// BigInt returns -1-N.
func (n *Negative) BigInt() *big.Int {
	v := new(big.Int).SetUint64(n.N)
	v.Add(v, big.NewInt(1))
	return v.Neg(v)
}

// Int64 returns -1-N when it fits in an int64.
func (n *Negative) Int64() (int64, bool) {
	if n.N > 1<<63-1 {
		return 0, false
	}
	return -1 - int64(n.N), true
}

// Bool reports the boolean value of a simple item.
func (s *Simple) Bool() (value, ok bool) {
	switch s.Value {
	case SimpleFalse:
		return false, true
	case SimpleTrue:
		return true, true
	}
	return false, false
}

func (s *Simple) String() string {
	switch s.Value {
	case SimpleFalse:
		return "false"
	case SimpleTrue:
		return "true"
	case SimpleNull:
		return "null"
	case SimpleUndefined:
		return "undefined"
	}
	return fmt.Sprintf("simple(%d)", s.Value)
}

// Int returns the integer value of an *Unsigned or *Negative item.
func Int(v Value) (int64, bool) {
	switch t := v.(type) {
	case *Unsigned:
		if t.Value > 1<<63-1 {
			return 0, false
		}
		return int64(t.Value), true
	case *Negative:
		return t.Int64()
	}
	return 0, false
}

// Text returns the first value whose key is the text string key.
func (m *Map) Text(key string) (Value, bool) {
	for _, e := range m.Entries {
		if k, ok := e.Key.(*Text); ok && k.Value == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Int returns the first value whose key is the integer key.
func (m *Map) Int(key int64) (Value, bool) {
	for _, e := range m.Entries {
		if k, ok := Int(e.Key); ok && k == key {
			return e.Value, true
		}
	}
	return nil, false
}

// KeyString renders a map key for diagnostics: text keys verbatim,
// integers in decimal, anything else as its kind and offset.
func KeyString(v Value) string {
	switch t := v.(type) {
	case *Text:
		return t.Value
	case *Unsigned:
		return fmt.Sprintf("%d", t.Value)
	case *Negative:
		return t.BigInt().String()
	case *Bytes:
		return fmt.Sprintf("h'%x'", t.Value)
	case *Simple:
		return t.String()
	}
	return fmt.Sprintf("<%s@%d>", v.Kind(), v.Pos().Offset)
}

// Keys renders every key of m in source order.
func (m *Map) Keys() []string {
	return lo.Map(m.Entries, func(e Entry, _ int) string {
		return KeyString(e.Key)
	})
}
