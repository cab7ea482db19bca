package cbor

import (
	"bytes"
	"cmp"
	"slices"
	"strings"

	_cbor "github.com/fxamacker/cbor/v2"
)

// SortedEntries returns m's entries in a deterministic order: integer keys
// ascending, then text keys by byte order, then any other key by its
// encoding. Entries with equal keys keep their source order.
func SortedEntries(m *Map) []Entry {
	out := slices.Clone(m.Entries)
	slices.SortStableFunc(out, func(a, b Entry) int {
		return CompareKeys(a.Key, b.Key)
	})
	return out
}

func keyRank(v Value) int {
	switch v.Kind() {
	case KindUnsigned, KindNegative:
		return 0
	case KindText:
		return 1
	}
	return 2
}

// CompareKeys orders two map keys as SortedEntries does.
func CompareKeys(a, b Value) int {
	if c := cmp.Compare(keyRank(a), keyRank(b)); c != 0 {
		return c
	}
	switch x := a.(type) {
	case *Negative:
		if y, ok := b.(*Negative); ok {
			// -1-N: a larger N is the smaller integer.
			return cmp.Compare(y.N, x.N)
		}
		return -1
	case *Unsigned:
		if y, ok := b.(*Unsigned); ok {
			return cmp.Compare(x.Value, y.Value)
		}
		return 1
	case *Text:
		return strings.Compare(x.Value, b.(*Text).Value)
	}
	return bytes.Compare(a.Pos().Raw(), b.Pos().Raw())
}

var diagMode = mustDiagMode(_cbor.DiagOptions{
	ByteStringEncoding: _cbor.ByteStringBase16Encoding,
	MaxNestedLevels:    DefaultMaxDepth + 4,
})

func mustDiagMode(opts _cbor.DiagOptions) _cbor.DiagMode {
	dm, err := opts.DiagMode()
	if err != nil {
		panic("cbor: diagnostic mode: " + err.Error())
	}
	return dm
}

// Diagnose renders v in RFC 8949 diagnostic notation.
func Diagnose(v Value) (string, error) {
	return diagMode.Diagnose(v.Pos().Raw())
}
