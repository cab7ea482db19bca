package cert

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeyUsage(t *testing.T) {
	tests := []struct {
		name        string
		raw         []byte
		want        []string
		wantUnknown bool
	}{
		{
			name: "digitalSignature and keyEncipherment",
			raw:  []byte{0x03, 0x02, 0x05, 0xa0},
			want: []string{"digitalSignature", "keyEncipherment"},
		},
		{
			name: "CA usages",
			raw:  []byte{0x03, 0x02, 0x01, 0x06},
			want: []string{"keyCertSign", "cRLSign"},
		},
		{
			name: "decipherOnly in second octet",
			raw:  []byte{0x03, 0x03, 0x07, 0x80, 0x80},
			want: []string{"digitalSignature", "decipherOnly"},
		},
		{
			name: "bits past the ninth are ignored",
			raw:  []byte{0x03, 0x03, 0x00, 0x00, 0x7f},
			want: []string{},
		},
		{
			name: "unused bits are not read",
			raw:  []byte{0x03, 0x02, 0x07, 0xff},
			want: []string{"digitalSignature"},
		},
		{
			name:        "eight unused bits",
			raw:         []byte{0x03, 0x02, 0x08, 0xff},
			wantUnknown: true,
		},
		{
			name:        "not a bit string",
			raw:         []byte{0x04, 0x01, 0x00},
			wantUnknown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DecodeExtension(OIDKeyUsage, tt.raw)
			if tt.wantUnknown {
				require.IsType(t, &Unknown{}, v)
				assert.Equal(t, tt.raw, v.(*Unknown).Raw)
				return
			}
			require.IsType(t, &KeyUsage{}, v)
			assert.Equal(t, tt.want, v.(*KeyUsage).Usages)
		})
	}
}

func TestDecodeBasicConstraints(t *testing.T) {
	pathLen := func(n int64) *int64 { return &n }

	tests := []struct {
		name        string
		raw         []byte
		want        *BasicConstraints
		wantUnknown bool
	}{
		{
			name: "empty value",
			raw:  []byte{},
			want: &BasicConstraints{},
		},
		{
			name: "empty sequence",
			raw:  []byte{0x30, 0x00},
			want: &BasicConstraints{},
		},
		{
			name: "CA",
			raw:  []byte{0x30, 0x03, 0x01, 0x01, 0xff},
			want: &BasicConstraints{IsCA: true},
		},
		{
			name: "CA with path length zero",
			raw:  []byte{0x30, 0x06, 0x01, 0x01, 0xff, 0x02, 0x01, 0x00},
			want: &BasicConstraints{IsCA: true, PathLen: pathLen(0)},
		},
		{
			name: "negative path length is kept",
			raw:  []byte{0x30, 0x03, 0x02, 0x01, 0xff},
			want: &BasicConstraints{PathLen: pathLen(-1)},
		},
		{
			name:        "unexpected field",
			raw:         []byte{0x30, 0x03, 0x04, 0x01, 0x00},
			wantUnknown: true,
		},
		{
			name:        "truncated",
			raw:         []byte{0x30, 0x03, 0x01, 0x01},
			wantUnknown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DecodeExtension(OIDBasicConstraints, tt.raw)
			if tt.wantUnknown {
				require.IsType(t, &Unknown{}, v)
				assert.Equal(t, tt.raw, v.(*Unknown).Raw)
				assert.NotEqual(t, ReasonUnrecognized, v.(*Unknown).Reason)
				return
			}
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestDecodeExtensionVariants(t *testing.T) {
	tests := []struct {
		name string
		oid  string
		raw  []byte
		want ExtensionValue
	}{
		{
			name: "extended key usage with unknown purpose",
			oid:  OIDExtendedKeyUsage,
			raw: []byte{0x30, 0x0f,
				0x06, 0x08, 0x2b, 0x06, 0x01, 0x05, 0x05, 0x07, 0x03, 0x01,
				0x06, 0x03, 0x2a, 0x03, 0x04},
			want: &ExtendedKeyUsage{Purposes: []Purpose{
				{OID: "1.3.6.1.5.5.7.3.1", Name: "serverAuth"},
				{OID: "1.2.3.4", Name: "1.2.3.4"},
			}},
		},
		{
			name: "subject alt name",
			oid:  OIDSubjectAltName,
			raw: append(append([]byte{0x30, 0x13, 0x82, 0x0b}, "example.com"...),
				0x87, 0x04, 0x7f, 0x00, 0x00, 0x01),
			want: &SubjectAltName{Names: []GeneralName{
				{Tag: 2, Kind: "dNSName", Text: "example.com"},
				{Tag: 7, Kind: "iPAddress", Raw: []byte{0x7f, 0x00, 0x00, 0x01}},
			}},
		},
		{
			name: "authority key identifier",
			oid:  OIDAuthorityKeyIdentifier,
			raw:  []byte{0x30, 0x06, 0x80, 0x04, 0x01, 0x02, 0x03, 0x04},
			want: &AuthorityKeyIdentifier{KeyID: []byte{0x01, 0x02, 0x03, 0x04}},
		},
		{
			name: "authority key identifier with issuer and serial",
			oid:  OIDAuthorityKeyIdentifier,
			raw:  []byte{0x30, 0x08, 0x80, 0x01, 0xaa, 0xa1, 0x00, 0x82, 0x01, 0x05},
			want: &AuthorityKeyIdentifier{KeyID: []byte{0xaa}, HasIssuer: true, Serial: []byte{0x05}},
		},
		{
			name: "subject key identifier",
			oid:  OIDSubjectKeyIdentifier,
			raw:  []byte{0x04, 0x03, 0x01, 0x02, 0x03},
			want: &SubjectKeyIdentifier{KeyID: []byte{0x01, 0x02, 0x03}},
		},
		{
			name: "unrecognized",
			oid:  "1.3.6.1.4.1.11129.2.1.17",
			raw:  []byte{0x30, 0x00},
			want: &Unknown{OID: "1.3.6.1.4.1.11129.2.1.17", Raw: []byte{0x30, 0x00}, Size: 2, Reason: ReasonUnrecognized},
		},
		{
			name: "recognized but undecoded",
			oid:  OIDCertificatePolicies,
			raw:  []byte{0x30, 0x00},
			want: &Unknown{OID: OIDCertificatePolicies, Raw: []byte{0x30, 0x00}, Size: 2, Reason: ReasonUnrecognized},
		},
		{
			name: "apple field with high tag number",
			oid:  "1.2.840.113635.100.8.7",
			raw:  []byte{0x30, 0x0a, 0xbf, 0x8a, 0x78, 0x06, 0x0c, 0x04, 0x31, 0x37, 0x2e, 0x30},
			want: &AppleExtension{
				OID:      "1.2.840.113635.100.8.7",
				Name:     "applePrivate",
				Unstable: true,
				Fields: []AppleField{{
					Tag:   1400,
					Type:  "UTF8String",
					Value: "17.0",
					Raw:   []byte{0xbf, 0x8a, 0x78, 0x06, 0x0c, 0x04, 0x31, 0x37, 0x2e, 0x30},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeExtension(tt.oid, tt.raw))
		})
	}
}

func TestDecodeExtensionFallback(t *testing.T) {
	tests := []struct {
		name       string
		oid        string
		raw        []byte
		wantRaw    []byte
		wantReason string
	}{
		{
			name:    "malformed apple nonce",
			oid:     OIDAppleAttestationNonce,
			raw:     []byte{0x30, 0x03, 0x02, 0x01, 0x05},
			wantRaw: []byte{0x30, 0x03, 0x02, 0x01, 0x05},
		},
		{
			name:    "general name with universal tag",
			oid:     OIDSubjectAltName,
			raw:     []byte{0x30, 0x02, 0x04, 0x00},
			wantRaw: []byte{0x30, 0x02, 0x04, 0x00},
		},
		{
			name:    "trailing bytes",
			oid:     OIDSubjectKeyIdentifier,
			raw:     []byte{0x04, 0x01, 0x01, 0x00},
			wantRaw: []byte{0x04, 0x01, 0x01, 0x00},
		},
		{
			name:       "oversized value",
			oid:        OIDKeyUsage,
			raw:        make([]byte, DefaultMaxExtensionSize+1),
			wantRaw:    []byte{},
			wantReason: ReasonTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DecodeExtension(tt.oid, tt.raw)
			require.IsType(t, &Unknown{}, v)
			u := v.(*Unknown)
			assert.Equal(t, tt.oid, u.OID)
			assert.Equal(t, tt.wantRaw, u.Raw)
			assert.Equal(t, len(tt.raw), u.Size)
			assert.True(t, IsUnknown(v))
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, u.Reason)
			}
		})
	}
}

func TestDecodeExtensionLimits(t *testing.T) {
	t.Run("oid too long", func(t *testing.T) {
		oid := strings.Repeat("1.", 200) + "1"
		v := DecodeExtension(oid, []byte{0x05, 0x00})
		require.IsType(t, &Unknown{}, v)
		u := v.(*Unknown)
		assert.Len(t, u.OID, MaxOIDLength)
		assert.Equal(t, ReasonOIDTooLong, u.Reason)
		assert.Equal(t, []byte{0x05, 0x00}, u.Raw)
	})

	t.Run("custom size limit", func(t *testing.T) {
		o := Options{MaxExtensionSize: 4}
		v := o.DecodeExtension(OIDSubjectKeyIdentifier, []byte{0x04, 0x03, 0x01, 0x02, 0x03})
		require.IsType(t, &Unknown{}, v)
		assert.True(t, v.(*Unknown).Truncated)

		v = o.DecodeExtension(OIDSubjectKeyIdentifier, []byte{0x04, 0x02, 0x01, 0x02})
		assert.IsType(t, &SubjectKeyIdentifier{}, v)
	})
}

func TestDecodeExtensionLogsFallback(t *testing.T) {
	var buf bytes.Buffer
	o := Options{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	v := o.DecodeExtension(OIDKeyUsage, []byte{0x05, 0x00})
	assert.True(t, IsUnknown(v))
	assert.Contains(t, buf.String(), "extension decode fell back to raw")
	assert.Contains(t, buf.String(), "oid=2.5.29.15")
}

func TestTryDecodeRecoversPanic(t *testing.T) {
	tests := []struct {
		name   string
		decode extensionDecoder
	}{
		{
			name: "panic with value",
			decode: func(Options, string, []byte) (ExtensionValue, error) {
				panic("boom")
			},
		},
		{
			name: "panic with error",
			decode: func(Options, string, []byte) (ExtensionValue, error) {
				panic(fmt.Errorf("boom"))
			},
		},
		{
			name: "error",
			decode: func(Options, string, []byte) (ExtensionValue, error) {
				return nil, ErrInvalidExtension
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tryDecode(Options{}, tt.decode, "1.2.3", nil)
			assert.True(t, res.IsError())
		})
	}
}
