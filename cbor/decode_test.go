package cbor

import (
	"bytes"
	"errors"
	"math"
	"testing"

	_cbor "github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	em, err := _cbor.CoreDetEncOptions().EncMode()
	require.NoError(t, err)
	b, err := em.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDecode_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		check func(t *testing.T, v Value)
	}{
		{
			name:  "small unsigned",
			input: []byte{0x17},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, uint64(23), v.(*Unsigned).Value)
			},
		},
		{
			name:  "eight byte unsigned",
			input: []byte{0x1b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, uint64(math.MaxUint64), v.(*Unsigned).Value)
				_, ok := Int(v)
				assert.False(t, ok)
			},
		},
		{
			name:  "negative one",
			input: []byte{0x20},
			check: func(t *testing.T, v Value) {
				n, ok := Int(v)
				require.True(t, ok)
				assert.Equal(t, int64(-1), n)
			},
		},
		{
			name:  "negative hundred",
			input: []byte{0x38, 0x63},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, uint64(99), v.(*Negative).N)
				assert.Equal(t, "-100", v.(*Negative).BigInt().String())
			},
		},
		{
			name:  "largest negative",
			input: []byte{0x3b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, "-18446744073709551616", v.(*Negative).BigInt().String())
				_, ok := v.(*Negative).Int64()
				assert.False(t, ok)
			},
		},
		{
			name:  "byte string",
			input: []byte{0x43, 0x01, 0x02, 0x03},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, []byte{1, 2, 3}, v.(*Bytes).Value)
				assert.Equal(t, 1, v.Pos().HeaderLen)
			},
		},
		{
			name:  "text string",
			input: []byte{0x65, 'a', 'p', 'p', 'l', 'e'},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, "apple", v.(*Text).Value)
			},
		},
		{
			name:  "half float",
			input: []byte{0xf9, 0x3c, 0x00},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, 1.0, v.(*Float).Value)
				assert.Equal(t, 16, v.(*Float).Bits)
			},
		},
		{
			name:  "single float",
			input: []byte{0xfa, 0x3f, 0xc0, 0x00, 0x00},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, 1.5, v.(*Float).Value)
				assert.Equal(t, 32, v.(*Float).Bits)
			},
		},
		{
			name:  "double float",
			input: []byte{0xfb, 0x40, 0x09, 0x21, 0xfb, 0x54, 0x44, 0x2d, 0x18},
			check: func(t *testing.T, v Value) {
				assert.InDelta(t, math.Pi, v.(*Float).Value, 1e-15)
			},
		},
		{
			name:  "booleans and null",
			input: []byte{0x84, 0xf4, 0xf5, 0xf6, 0xf7},
			check: func(t *testing.T, v Value) {
				items := v.(*Array).Items
				b, ok := items[0].(*Simple).Bool()
				assert.True(t, ok)
				assert.False(t, b)
				b, ok = items[1].(*Simple).Bool()
				assert.True(t, ok)
				assert.True(t, b)
				assert.Equal(t, "null", items[2].(*Simple).String())
				assert.Equal(t, "undefined", items[3].(*Simple).String())
			},
		},
		{
			name:  "extended simple value",
			input: []byte{0xf8, 0x20},
			check: func(t *testing.T, v Value) {
				assert.Equal(t, uint8(32), v.(*Simple).Value)
			},
		},
		{
			name:  "tag",
			input: []byte{0xc1, 0x1a, 0x51, 0x4b, 0x67, 0xb0},
			check: func(t *testing.T, v Value) {
				tag := v.(*Tag)
				assert.Equal(t, uint64(1), tag.Number)
				assert.Equal(t, uint64(1363896240), tag.Content.(*Unsigned).Value)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, 0, v.Pos().Offset)
			assert.Equal(t, len(tt.input), v.Pos().Length)
			assert.Equal(t, tt.input, v.Pos().Raw())
			tt.check(t, v)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"reserved additional information", []byte{0x1c}, ErrInvalidInitialByte},
		{"indefinite unsigned", []byte{0x1f}, ErrInvalidInitialByte},
		{"stray break", []byte{0xff}, ErrInvalidInitialByte},
		{"indefinite byte string", []byte{0x5f, 0x41, 0x00, 0xff}, ErrUnsupportedType},
		{"indefinite text string", []byte{0x7f, 0xff}, ErrUnsupportedType},
		{"indefinite array", []byte{0x9f, 0xff}, ErrUnsupportedType},
		{"indefinite map", []byte{0xbf, 0xff}, ErrUnsupportedType},
		{"short simple in two bytes", []byte{0xf8, 0x10}, ErrInvalidInitialByte},
		{"reserved simple", []byte{0xfc}, ErrInvalidInitialByte},
		{"trailing data", []byte{0x01, 0x02}, ErrTrailingData},
		{"byte string past end", []byte{0x45, 0x01}, ErrTruncated},
		{"huge array count", []byte{0x9b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, ErrTruncated},
		{"huge map count", []byte{0xba, 0xff, 0xff, 0xff, 0xff}, ErrTruncated},
		{"huge byte string", []byte{0x5b, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, ErrTruncated},
		{"map count needs two bytes per entry", []byte{0xa2, 0x01, 0x02, 0x03}, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecode_Spans(t *testing.T) {
	input := []byte{0xa1, 0x61, 'a', 0x42, 0x01, 0x02}

	v, err := Options{Base: 10}.Decode(input)
	require.NoError(t, err)
	m := v.(*Map)
	assert.Equal(t, 10, m.Offset)
	assert.Equal(t, 1, m.HeaderLen)
	assert.Equal(t, 6, m.Length)

	require.Len(t, m.Entries, 1)
	key := m.Entries[0].Key.Pos()
	assert.Equal(t, 11, key.Offset)
	assert.Equal(t, 2, key.Length)

	val := m.Entries[0].Value.(*Bytes)
	assert.Equal(t, 13, val.Offset)
	assert.Equal(t, 14, val.ContentOffset())
	assert.Equal(t, 16, val.End())
}

func TestDecode_TruncatedPrefixes(t *testing.T) {
	input := mustEncode(t, map[any]any{
		"fmt":      "apple-appattest",
		-1:         bytes.Repeat([]byte{0xab}, 300),
		"attStmt":  map[string]any{"x5c": [][]byte{{1, 2, 3}, {4, 5}}},
		"counters": []any{1, 1000, 70000, 5000000000, -3, 2.5, true},
	})
	_, err := Decode(input)
	require.NoError(t, err)

	for k := 0; k < len(input); k++ {
		_, err := Decode(input[:k])
		var te *TruncatedError
		require.True(t, errors.As(err, &te), "prefix %d: %v", k, err)
		assert.LessOrEqual(t, te.Offset, k)
		assert.Equal(t, k, te.Offset+te.Remaining, "prefix %d", k)
		assert.Greater(t, te.Expected, te.Remaining)
	}
}

func TestDecode_Depth(t *testing.T) {
	nested := func(levels int) []byte {
		out := bytes.Repeat([]byte{0x81}, levels-1)
		return append(out, 0x80)
	}

	_, err := Decode(nested(DefaultMaxDepth))
	require.NoError(t, err)

	_, err = Decode(nested(DefaultMaxDepth + 1))
	assert.ErrorIs(t, err, ErrMaxDepth)

	// Tags count as a level.
	_, err = Options{MaxDepth: 2}.Decode([]byte{0xc1, 0xc1, 0x01})
	assert.ErrorIs(t, err, ErrMaxDepth)
}

func TestDecode_MixedKeysAndDuplicates(t *testing.T) {
	input := []byte{
		0xa4,
		0x63, 'f', 'm', 't', 0x61, 'x',
		0x20, 0x41, 0xaa,
		0x01, 0x01,
		0x01, 0x02,
	}

	v, err := Decode(input)
	require.NoError(t, err)
	m := v.(*Map)
	assert.Len(t, m.Entries, 4)
	assert.Equal(t, []string{"fmt", "-1", "1", "1"}, m.Keys())

	fmtVal, ok := m.Text("fmt")
	require.True(t, ok)
	assert.Equal(t, "x", fmtVal.(*Text).Value)

	neg, ok := m.Int(-1)
	require.True(t, ok)
	assert.Equal(t, []byte{0xaa}, neg.(*Bytes).Value)

	first, ok := m.Int(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.(*Unsigned).Value)

	_, ok = m.Text("authData")
	assert.False(t, ok)
}

func TestDecodeFirst(t *testing.T) {
	v, n, err := DecodeFirst([]byte{0x82, 0x01, 0x02, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, v.(*Array).Items, 2)
}

func TestDecode_MatchesReferenceEncoder(t *testing.T) {
	input := mustEncode(t, map[string]any{
		"fmt":  "apple-appattest",
		"n":    -5,
		"half": 1.5,
		"list": []string{"a", "b"},
	})

	v, err := Decode(input)
	require.NoError(t, err)
	m := v.(*Map)

	n, ok := m.Text("n")
	require.True(t, ok)
	i, ok := Int(n)
	require.True(t, ok)
	assert.Equal(t, int64(-5), i)

	half, ok := m.Text("half")
	require.True(t, ok)
	assert.Equal(t, 1.5, half.(*Float).Value)
	assert.Equal(t, 16, half.(*Float).Bits)

	list, ok := m.Text("list")
	require.True(t, ok)
	assert.Len(t, list.(*Array).Items, 2)
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{0xa1, 0x61, 'a', 0x42, 0x01, 0x02})
	f.Add([]byte{0x9b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	f.Add([]byte{0xc1, 0xf9, 0x7c, 0x00})
	f.Add(bytes.Repeat([]byte{0x81}, 40))

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := Decode(data)
		if err != nil {
			return
		}
		if v.Pos().Length != len(data) {
			t.Fatalf("item covers %d of %d bytes", v.Pos().Length, len(data))
		}
		if m, ok := v.(*Map); ok {
			_ = SortedEntries(m)
		}
	})
}
