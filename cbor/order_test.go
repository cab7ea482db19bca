package cbor

import (
	"testing"

	_cbor "github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedEntries(t *testing.T) {
	input := []byte{
		0xa6,
		0x61, 'b', 0xf6,
		0x01, 0xf6,
		0x41, 0x00, 0xf6,
		0x38, 0x63, 0xf6,
		0x61, 'a', 0xf6,
		0x20, 0xf6,
	}

	v, err := Decode(input)
	require.NoError(t, err)
	m := v.(*Map)

	var got []string
	for _, e := range SortedEntries(m) {
		got = append(got, KeyString(e.Key))
	}
	assert.Equal(t, []string{"-100", "-1", "1", "a", "b", "h'00'"}, got)

	// Source order is untouched.
	assert.Equal(t, "b", KeyString(m.Entries[0].Key))
}

func TestSortedEntries_StableForDuplicates(t *testing.T) {
	input := []byte{0xa3, 0x01, 0x0a, 0x00, 0x0b, 0x01, 0x0c}

	v, err := Decode(input)
	require.NoError(t, err)

	entries := SortedEntries(v.(*Map))
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(11), entries[0].Value.(*Unsigned).Value)
	assert.Equal(t, uint64(10), entries[1].Value.(*Unsigned).Value)
	assert.Equal(t, uint64(12), entries[2].Value.(*Unsigned).Value)
}

func TestDiagnose(t *testing.T) {
	v, err := Decode([]byte{0xa1, 0x61, 'a', 0x42, 0x01, 0x02})
	require.NoError(t, err)

	s, err := Diagnose(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a": h'0102'}`, s)

	inner, ok := v.(*Map).Text("a")
	require.True(t, ok)
	s, err = Diagnose(inner)
	require.NoError(t, err)
	assert.Equal(t, `h'0102'`, s)
}

func TestMustDiagMode(t *testing.T) {
	assert.NotNil(t, diagMode)
	assert.NotPanics(t, func() {
		mustDiagMode(_cbor.DiagOptions{MaxNestedLevels: DefaultMaxDepth + 4})
	})
	assert.PanicsWithValue(t,
		"cbor: diagnostic mode: cbor: invalid MaxNestedLevels 2 (range is [4, 65535])",
		func() { mustDiagMode(_cbor.DiagOptions{MaxNestedLevels: 2}) })
}
