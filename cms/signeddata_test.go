package cms

import (
	encoding_asn1 "encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/kacy/appattest-decode/cert"
	"github.com/kacy/appattest-decode/der"
	"github.com/kacy/appattest-decode/internal/testutil"
)

func TestParseReceipt(t *testing.T) {
	chain := testutil.Chain(t, 3, []byte("nonce"))
	payload := []byte{0x31, 0x03, 0x02, 0x01, 0x01}
	data := testutil.SignedData(chain, payload, 1)

	sd, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 1, sd.Version)
	require.Len(t, sd.DigestAlgorithms, 1)
	assert.Equal(t, "sha256", sd.DigestAlgorithms[0].Name)
	assert.Equal(t, []byte{0x05, 0x00}, sd.DigestAlgorithms[0].Parameters)

	assert.Equal(t, OIDData, sd.Content.Type)
	assert.True(t, sd.Content.Present)
	assert.Equal(t, payload, sd.Content.Bytes)
	assert.Equal(t, FormatASN1, sd.Content.Format)
	assert.Equal(t, payload, data[sd.Content.Offset:sd.Content.Offset+len(payload)])

	require.Len(t, sd.Certificates, 3)
	for i, c := range sd.Certificates {
		assert.Equal(t, chain[i], data[c.Tree.Offset:c.Tree.End()], "certificate %d", i)
	}
	assert.Equal(t, "credential", sd.Certificates[0].Subject.CommonName())
	assert.Zero(t, sd.OtherCertificates)
	assert.Zero(t, sd.CRLCount)

	require.Equal(t, 1, sd.SignerCount())
	s := sd.Signers[0]
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, int64(1), s.IssuerSerial.Int64())
	assert.Equal(t, "sha256", s.DigestAlgorithm.Name)
	assert.Equal(t, "ecdsa-with-SHA256", s.SignatureAlgorithm.Name)
	assert.Equal(t, []byte{0x30, 0x00}, s.Signature)
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name        string
		certs       int
		payload     []byte
		signers     int
		wantPresent bool
		wantFormat  Format
	}{
		{
			name:       "detached content without certificates",
			signers:    2,
			wantFormat: FormatEmpty,
		},
		{
			name:        "single certificate with text payload",
			certs:       1,
			payload:     []byte("receipt"),
			signers:     1,
			wantPresent: true,
			wantFormat:  FormatUTF8,
		},
		{
			name:        "empty payload and no signers",
			payload:     []byte{},
			wantPresent: true,
			wantFormat:  FormatEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := testutil.Chain(t, tt.certs, []byte("nonce"))
			sd, err := Parse(testutil.SignedData(chain, tt.payload, tt.signers))
			require.NoError(t, err)

			assert.Equal(t, tt.wantPresent, sd.Content.Present)
			assert.Equal(t, tt.wantFormat, sd.Content.Format)
			assert.Len(t, sd.Certificates, tt.certs)
			assert.Equal(t, tt.signers, sd.SignerCount())
		})
	}
}

func TestParseBaseOffset(t *testing.T) {
	chain := testutil.Chain(t, 1, nil)
	data := testutil.SignedData(chain, []byte("x"), 1)
	const base = 50

	sd, err := Options{Base: base}.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, base, sd.Tree.Offset)
	assert.Equal(t, []byte("x"), data[sd.Content.Offset-base:sd.Content.Offset-base+1])
	c := sd.Certificates[0]
	assert.Equal(t, chain[0], data[c.Tree.Offset-base:c.Tree.End()-base])
}

func contentInfo(oid encoding_asn1.ObjectIdentifier) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1(asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1OctetString([]byte("data"))
		})
	})
	return b.BytesOrPanic()
}

func TestParseErrors(t *testing.T) {
	valid := testutil.SignedData(nil, []byte("payload"), 1)

	tests := []struct {
		name    string
		data    []byte
		wantErr []error
	}{
		{
			name:    "empty",
			data:    []byte{},
			wantErr: []error{ErrInvalidContentInfo, der.ErrTruncated},
		},
		{
			name:    "truncated",
			data:    valid[:len(valid)-1],
			wantErr: []error{ErrInvalidContentInfo, der.ErrTruncated},
		},
		{
			name:    "empty sequence",
			data:    []byte{0x30, 0x00},
			wantErr: []error{ErrInvalidContentInfo},
		},
		{
			name:    "data content type",
			data:    contentInfo(testutil.OIDData),
			wantErr: []error{ErrNotSignedData},
		},
		{
			name:    "signedData holding an octet string",
			data:    contentInfo(testutil.OIDSignedData),
			wantErr: []error{ErrInvalidSignedData},
		},
		{
			name:    "malformed certificate",
			data:    testutil.SignedData([][]byte{{0x30, 0x00}}, nil, 1),
			wantErr: []error{cert.ErrInvalidCertificate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd, err := Parse(tt.data)
			require.Error(t, err)
			assert.Nil(t, sd)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

// withSigners builds SignedData whose signerInfos SET holds the given raw
// elements.
func withSigners(signers ...func(b *cryptobyte.Builder)) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(testutil.OIDSignedData)
		b.AddASN1(asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(3)
				b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {})
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(testutil.OIDData)
				})
				b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
					for _, s := range signers {
						s(b)
					}
				})
			})
		})
	})
	return b.BytesOrPanic()
}

func algorithm(oid encoding_asn1.ObjectIdentifier) func(b *cryptobyte.Builder) {
	return func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oid)
		})
	}
}

func signer(fields ...func(b *cryptobyte.Builder)) func(b *cryptobyte.Builder) {
	return func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for _, f := range fields {
				f(b)
			}
		})
	}
}

func TestParseSignerInfo(t *testing.T) {
	version := func(b *cryptobyte.Builder) { b.AddASN1Int64(3) }
	ski := func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte{0xaa, 0xbb})
		})
	}
	attrs := func(n int, tag asn1.Tag) func(b *cryptobyte.Builder) {
		return func(b *cryptobyte.Builder) {
			b.AddASN1(tag, func(b *cryptobyte.Builder) {
				for i := 0; i < n; i++ {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(testutil.OIDData)
					})
				}
			})
		}
	}
	signed := attrs(2, asn1.Tag(0).ContextSpecific().Constructed())
	unsigned := attrs(1, asn1.Tag(1).ContextSpecific().Constructed())
	digest := algorithm(testutil.OIDSHA256)
	sigAlg := algorithm(testutil.OIDECDSA256)
	sig := func(b *cryptobyte.Builder) { b.AddASN1OctetString([]byte{0x30, 0x00}) }

	t.Run("subject key identifier with attributes", func(t *testing.T) {
		sd, err := Parse(withSigners(signer(version, ski, digest, signed, sigAlg, sig, unsigned)))
		require.NoError(t, err)
		require.Equal(t, 1, sd.SignerCount())

		s := sd.Signers[0]
		assert.Equal(t, 3, s.Version)
		assert.Nil(t, s.IssuerSerial)
		assert.Equal(t, []byte{0xaa, 0xbb}, s.SubjectKeyID)
		assert.Equal(t, "sha256", s.DigestAlgorithm.Name)
		assert.Equal(t, 2, s.SignedAttributes)
		assert.Equal(t, "ecdsa-with-SHA256", s.SignatureAlgorithm.Name)
		assert.Equal(t, []byte{0x30, 0x00}, s.Signature)
		assert.Equal(t, 1, s.UnsignedAttributes)
	})

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name:    "signer is not a sequence",
			data:    withSigners(version),
			wantErr: der.ErrInvalidTag,
		},
		{
			name:    "missing signature",
			data:    withSigners(signer(version, ski, digest, sigAlg)),
			wantErr: der.ErrTruncated,
		},
		{
			name:    "signature of wrong type",
			data:    withSigners(signer(version, ski, digest, sigAlg, version)),
			wantErr: der.ErrInvalidTag,
		},
		{
			name:    "trailing element",
			data:    withSigners(signer(version, ski, digest, sigAlg, sig, unsigned, sig)),
			wantErr: der.ErrTrailingData,
		},
		{
			name:    "integer signer identifier",
			data:    withSigners(signer(version, version, digest, sigAlg, sig)),
			wantErr: ErrInvalidSignedData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd, err := Parse(tt.data)
			require.Error(t, err)
			assert.Nil(t, sd)
			assert.ErrorIs(t, err, ErrInvalidSignedData)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want Format
	}{
		{name: "nil", in: nil, want: FormatEmpty},
		{name: "der set", in: []byte{0x31, 0x03, 0x02, 0x01, 0x01}, want: FormatASN1},
		{name: "der sequence", in: []byte{0x30, 0x00}, want: FormatASN1},
		{name: "truncated der", in: []byte{0x30, 0x05, 0x02, 0x01}, want: FormatBinary},
		{name: "binary plist", in: []byte("bplist00\xd1\x01\x02"), want: FormatPlist},
		{name: "xml plist", in: []byte(`<?xml version="1.0"?><plist version="1.0"><dict/></plist>`), want: FormatPlist},
		{name: "xml without plist", in: []byte(`<?xml version="1.0"?><root/>`), want: FormatUTF8},
		{name: "text", in: []byte("hello world\n"), want: FormatUTF8},
		{name: "cbor map", in: []byte{0xa1, 0x61, 0x61, 0x01}, want: FormatCBOR},
		{name: "cbor bytes", in: []byte{0x42, 0x00, 0xff}, want: FormatCBOR},
		{name: "garbage", in: []byte{0xff, 0xfe, 0x00}, want: FormatBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.in))
		})
	}
}
