// Package cbor decodes RFC 8949 data items into a positioned value tree.
//
// Unlike a reflection-based unmarshaler, the decoder keeps every item's
// byte range so callers can account for each byte of the input. Maps keep
// their entries in source order, duplicate keys included. Indefinite-length
// items are not supported.
package cbor

import (
	"math"

	"github.com/x448/float16"
)

// DefaultMaxDepth bounds nesting of arrays, maps and tags. It matches the
// DER reader's ceiling, which a CMS receipt carrying certificates needs, so
// one MaxDepth setting serves both decoders.
const DefaultMaxDepth = 12

const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
	majorTag      = 6
	majorSimple   = 7

	aiBreak = 31
)

// Options configures decoding. The zero value uses defaults.
type Options struct {
	// MaxDepth bounds nesting; a scalar at the top level is depth 1.
	MaxDepth int
	// Base is added to every offset reported in spans and errors.
	Base int
}

// Decode decodes data as exactly one data item.
func Decode(data []byte) (Value, error) {
	return Options{}.Decode(data)
}

// DecodeFirst decodes the first data item in data and returns the number of
// bytes it occupies.
func DecodeFirst(data []byte) (Value, int, error) {
	return Options{}.DecodeFirst(data)
}

// Decode decodes data as exactly one data item.
func (o Options) Decode(data []byte) (Value, error) {
	v, n, err := o.DecodeFirst(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, &SyntaxError{
			Err:     ErrTrailingData,
			Offset:  o.Base + n,
			Initial: data[n],
			Detail:  "bytes after the first data item",
		}
	}
	return v, nil
}

// DecodeFirst decodes the first data item in data and returns the number of
// bytes it occupies.
func (o Options) DecodeFirst(data []byte) (Value, int, error) {
	d := &decoder{data: data, base: o.Base, maxDepth: o.MaxDepth}
	if d.maxDepth <= 0 {
		d.maxDepth = DefaultMaxDepth
	}
	v, err := d.value(1)
	if err != nil {
		return nil, 0, err
	}
	return v, d.off, nil
}

type decoder struct {
	data     []byte
	off      int
	base     int
	maxDepth int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.off
}

func (d *decoder) truncated(need int) error {
	return &TruncatedError{Expected: need, Remaining: d.remaining(), Offset: d.base + d.off}
}

func (d *decoder) syntax(err error, start int, detail string) error {
	return &SyntaxError{Err: err, Offset: d.base + start, Initial: d.data[start], Detail: detail}
}

func (d *decoder) readByte() (byte, error) {
	if d.off >= len(d.data) {
		return 0, d.truncated(1)
	}
	b := d.data[d.off]
	d.off++
	return b, nil
}

// readUint reads an n-byte big-endian argument one byte at a time.
func (d *decoder) readUint(n int) (uint64, error) {
	if d.remaining() < n {
		return 0, d.truncated(n)
	}
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(d.data[d.off])
		d.off++
	}
	return v, nil
}

// argument decodes the additional information of the initial byte at start.
func (d *decoder) argument(start int, ai byte) (uint64, error) {
	switch {
	case ai < 24:
		return uint64(ai), nil
	case ai == 24:
		return d.readUint(1)
	case ai == 25:
		return d.readUint(2)
	case ai == 26:
		return d.readUint(4)
	case ai == 27:
		return d.readUint(8)
	}
	return 0, d.syntax(ErrInvalidInitialByte, start, "reserved additional information")
}

func (d *decoder) span(start int, header int) Span {
	return Span{
		Offset:    d.base + start,
		HeaderLen: header,
		Length:    d.off - start,
		raw:       d.data[start:d.off],
	}
}

func (d *decoder) value(depth int) (Value, error) {
	start := d.off
	ib, err := d.readByte()
	if err != nil {
		return nil, err
	}
	major, ai := ib>>5, ib&0x1f
	if depth > d.maxDepth {
		return nil, d.syntax(ErrMaxDepth, start, "data item nested too deeply")
	}

	if ai == aiBreak {
		switch major {
		case majorBytes, majorText, majorArray, majorMap:
			return nil, d.syntax(ErrUnsupportedType, start, "indefinite length")
		case majorSimple:
			return nil, d.syntax(ErrInvalidInitialByte, start, "unexpected break")
		}
		return nil, d.syntax(ErrInvalidInitialByte, start, "indefinite length not allowed for this major type")
	}

	if major == majorSimple {
		return d.simple(start, ai)
	}

	arg, err := d.argument(start, ai)
	if err != nil {
		return nil, err
	}
	header := d.off - start

	switch major {
	case majorUnsigned:
		return &Unsigned{Span: d.span(start, header), Value: arg}, nil

	case majorNegative:
		return &Negative{Span: d.span(start, header), N: arg}, nil

	case majorBytes, majorText:
		if arg > uint64(d.remaining()) {
			return nil, d.truncated(clampInt(arg))
		}
		n := int(arg)
		content := d.data[d.off : d.off+n]
		d.off += n
		if major == majorBytes {
			return &Bytes{Span: d.span(start, header), Value: content}, nil
		}
		return &Text{Span: d.span(start, header), Value: string(content)}, nil

	case majorArray:
		// Every item needs at least one byte.
		if arg > uint64(d.remaining()) {
			return nil, d.truncated(clampInt(arg))
		}
		items := make([]Value, 0, int(arg))
		for i := uint64(0); i < arg; i++ {
			item, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return &Array{Span: d.span(start, header), Items: items}, nil

	case majorMap:
		// Every entry needs at least two bytes.
		if arg > uint64(d.remaining()/2) {
			return nil, d.truncated(clampInt(arg) * 2)
		}
		entries := make([]Entry, 0, int(arg))
		for i := uint64(0); i < arg; i++ {
			k, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			v, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Key: k, Value: v})
		}
		return &Map{Span: d.span(start, header), Entries: entries}, nil

	case majorTag:
		content, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		return &Tag{Span: d.span(start, header), Number: arg, Content: content}, nil
	}
	// Unreachable: major is three bits and every value is handled above.
	return nil, d.syntax(ErrInvalidInitialByte, start, "unknown major type")
}

func (d *decoder) simple(start int, ai byte) (Value, error) {
	switch {
	case ai < 24:
		return &Simple{Span: d.span(start, 1), Value: ai}, nil
	case ai == 24:
		v, err := d.readUint(1)
		if err != nil {
			return nil, err
		}
		if v < 32 {
			return nil, d.syntax(ErrInvalidInitialByte, start, "two-byte encoding of a one-byte simple value")
		}
		return &Simple{Span: d.span(start, 2), Value: uint8(v)}, nil
	case ai == 25:
		bits, err := d.readUint(2)
		if err != nil {
			return nil, err
		}
		f := float16.Frombits(uint16(bits)).Float32()
		return &Float{Span: d.span(start, 1), Value: float64(f), Bits: 16}, nil
	case ai == 26:
		bits, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return &Float{Span: d.span(start, 1), Value: float64(math.Float32frombits(uint32(bits))), Bits: 32}, nil
	case ai == 27:
		bits, err := d.readUint(8)
		if err != nil {
			return nil, err
		}
		return &Float{Span: d.span(start, 1), Value: math.Float64frombits(bits), Bits: 64}, nil
	}
	return nil, d.syntax(ErrInvalidInitialByte, start, "reserved additional information")
}

func clampInt(v uint64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
