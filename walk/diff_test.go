package walk

import (
	"bytes"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacy/appattest-decode/cbor"
	"github.com/kacy/appattest-decode/internal/testutil"
)

func walkCBOR(t *testing.T, data []byte) *Report {
	t.Helper()
	v, err := cbor.Decode(data)
	require.NoError(t, err)
	return CBOR(v)
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want []Change
	}{
		{
			name: "identical",
			// {"a": 1}
			a:    []byte{0xa1, 0x61, 0x61, 0x01},
			b:    []byte{0xa1, 0x61, 0x61, 0x01},
			want: nil,
		},
		{
			name: "value changed",
			a:    []byte{0xa1, 0x61, 0x61, 0x01},
			b:    []byte{0xa1, 0x61, 0x61, 0x02},
			want: []Change{
				{Path: ".", Op: Changed},
				{Path: ".a", Op: Changed},
			},
		},
		{
			name: "entry added",
			// {"a": 1, "b": 2}
			a: []byte{0xa1, 0x61, 0x61, 0x01},
			b: []byte{0xa2, 0x61, 0x61, 0x01, 0x61, 0x62, 0x02},
			want: []Change{
				{Path: ".", Op: Changed},
				{Path: ".b", Op: Added},
				{Path: ".b@key", Op: Added},
			},
		},
		{
			name: "value kind changed",
			// {"a": 1} vs {"a": "x"}
			a: []byte{0xa1, 0x61, 0x61, 0x01},
			b: []byte{0xa1, 0x61, 0x61, 0x61, 0x78},
			want: []Change{
				{Path: ".", Op: Changed},
				{Path: ".a", Op: Changed},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(walkCBOR(t, tt.a), walkCBOR(t, tt.b))
			// Digests are checked separately; compare shape only.
			shape := lo.Map(got, func(c Change, _ int) Change { return Change{Path: c.Path, Op: c.Op} })
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, shape)
		})
	}
}

func TestDiff_Digests(t *testing.T) {
	a := walkCBOR(t, []byte{0x82, 0x01, 0x02})
	b := walkCBOR(t, []byte{0x81, 0x01})

	changes := Diff(a, b)
	removed, ok := lo.Find(changes, func(c Change) bool { return c.Path == "[1]" })
	require.True(t, ok)
	assert.Equal(t, Removed, removed.Op)
	assert.Equal(t, a.Nodes[2].SHA256, removed.Before)
	assert.Empty(t, removed.After)
}

func TestDiff_Attestations(t *testing.T) {
	first := decodeAttestation(t, testutil.AttestationOptions{Chain: testutil.Chain(t, 3, testNonce)})
	second := decodeAttestation(t, testutil.AttestationOptions{Chain: testutil.Chain(t, 3, bytes.Repeat([]byte{0x11}, 32))})

	changes := Diff(Attestation(first), Attestation(second))
	paths := lo.Map(changes, func(c Change, _ int) string { return c.Path })

	assert.Contains(t, paths, ".attStmt.x5c[0]")
	assert.Contains(t, paths, ".attStmt.x5c[0].extensions[1.2.840.113635.100.8.2]")
	assert.NotContains(t, paths, ".fmt")
	assert.NotContains(t, paths, ".authData")
	assert.IsIncreasing(t, paths)
}

func TestReport_Fingerprint(t *testing.T) {
	a := walkCBOR(t, []byte{0x01})
	b := walkCBOR(t, []byte{0x02})

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)

	again, err := walkCBOR(t, []byte{0x01}).Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, again)
}
