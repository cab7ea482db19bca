// Package testutil builds App Attest shaped fixtures for tests: certificate
// chains, CMS receipts, authenticator data and attestation objects.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	encoding_asn1 "encoding/asn1"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// AppleRootPEM is the Apple App Attestation Root CA.
const AppleRootPEM = `-----BEGIN CERTIFICATE-----
MIICITCCAaegAwIBAgIQC/O+DvHN0uD7jG5yH2IXmDAKBggqhkjOPQQDAzBSMSYw
JAYDVQQDEx1BcHBsZSBBcHAgQXR0ZXN0YXRpb24gUm9vdCBDQTETMBEGA1UEChMK
QXBwbGUgSW5jLjETMBEGA1UECBMKQ2FsaWZvcm5pYTAeFw0yMDAzMTgxODMyNTNa
Fw0zOTAzMTgwMDAwMDBaMFIxJjAkBgNVBAMTHUFwcGxlIEFwcCBBdHRlc3RhdGlv
biBSb290IENBMRMwEQYDVQQKEwpBcHBsZSBJbmMuMRMwEQYDVQQIEwpDYWxpZm9y
bmlhMHYwEAYHKoZIzj0CAQYFK4EEACIDYgAERTHhmLW07ATaFQIEVwTtT4dyctdh
NbJhFs/Ii2FdCgAHGbpphY3+d8qjuDngIN3WVhQUBHAoMeQ/cLiP1sOUtgjqK9au
Yen1mMEvRq9Sk3Jm5X8U62H+xTD3FE9TgS41o0IwQDAPBgNVHRMBAf8EBTADAQH/
MB0GA1UdDgQWBBSskRBTM72+aEH/pwyp5frq5eWKoTAOBgNVHQ8BAf8EBAMCAQYw
CgYIKoZIzj0EAwMDaAAwZQIwQgFGnByvsiVbpTKwSga0kP0e8EeDS4+sQmTvb7vn
53O5+FRXgeLhpJ06ysC5PrOyAjEAp5U4xDgEgllF7En3VcE3iexZZtKeYnpqtijV
oyFraWVIyd/dganmrduC1bmTBGwD
-----END CERTIFICATE-----`

// AppleRootDER returns the DER bytes of AppleRootPEM.
func AppleRootDER(t testing.TB) []byte {
	t.Helper()
	block, _ := pem.Decode([]byte(AppleRootPEM))
	require.NotNil(t, block)
	return block.Bytes
}

// OIDAppleNonce is the App Attest nonce extension.
var OIDAppleNonce = encoding_asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

// NonceExtension encodes SEQUENCE { [1] EXPLICIT OCTET STRING nonce }.
func NonceExtension(nonce []byte) pkix.Extension {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.Tag(1).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(nonce)
		})
	})
	return pkix.Extension{Id: OIDAppleNonce, Value: b.BytesOrPanic()}
}

// Issued is a generated certificate with its key.
type Issued struct {
	DER  []byte
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

var serial int64

func template(cn string, isCA bool) *x509.Certificate {
	serial++
	notBefore := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1000 + serial),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Apple Inc."}, Province: []string{"California"}},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, 3),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		SubjectKeyId:          []byte(fmt.Sprintf("ski-%s", cn)),
	}
	if isCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		tmpl.MaxPathLen = 1
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}
	return tmpl
}

func issue(t testing.TB, tmpl *x509.Certificate, parent *Issued) *Issued {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	parentCert, parentKey := tmpl, key
	if parent != nil {
		parentCert, parentKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentCert, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Issued{DER: der, Cert: cert, Key: key}
}

// Root issues a self-signed CA certificate.
func Root(t testing.TB, cn string) *Issued {
	t.Helper()
	return issue(t, template(cn, true), nil)
}

// Intermediate issues a CA certificate under parent.
func Intermediate(t testing.TB, cn string, parent *Issued) *Issued {
	t.Helper()
	return issue(t, template(cn, true), parent)
}

// Leaf issues an end-entity certificate carrying the App Attest nonce and
// any extra extensions.
func Leaf(t testing.TB, parent *Issued, nonce []byte, extra ...pkix.Extension) *Issued {
	t.Helper()
	tmpl := template("credential", false)
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	tmpl.DNSNames = []string{"app.example.com"}
	tmpl.ExtraExtensions = append([]pkix.Extension{NonceExtension(nonce)}, extra...)
	return issue(t, tmpl, parent)
}

// Chain returns n DER certificates ordered leaf first, as in x5c.
func Chain(t testing.TB, n int, nonce []byte) [][]byte {
	t.Helper()
	if n == 0 {
		return [][]byte{}
	}
	root := Root(t, "Test App Attestation Root CA")
	issued := []*Issued{root}
	for i := 1; i < n-1; i++ {
		issued = append(issued, Intermediate(t, fmt.Sprintf("Test CA %d", i), issued[len(issued)-1]))
	}
	if n > 1 {
		issued = append(issued, Leaf(t, issued[len(issued)-1], nonce))
	}
	out := make([][]byte, 0, n)
	for i := len(issued) - 1; i >= 0; i-- {
		out = append(out, issued[i].DER)
	}
	return out
}

// OIDs used in CMS fixtures.
var (
	OIDSignedData = encoding_asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDData       = encoding_asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSHA256     = encoding_asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDECDSA256   = encoding_asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

// SignedData builds a CMS ContentInfo wrapping SignedData with the given
// certificates, payload and number of signers. A nil payload omits
// eContent.
func SignedData(certs [][]byte, payload []byte, signers int) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDSignedData)
		b.AddASN1(asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(1)
				b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(OIDSHA256)
						b.AddASN1NULL()
					})
				})
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(OIDData)
					if payload != nil {
						b.AddASN1(asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
							b.AddASN1OctetString(payload)
						})
					}
				})
				if len(certs) > 0 {
					b.AddASN1(asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
						for _, c := range certs {
							b.AddBytes(c)
						}
					})
				}
				b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
					for i := 0; i < signers; i++ {
						b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
							b.AddASN1Int64(1)
							b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
								b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {})
								b.AddASN1Int64(int64(i + 1))
							})
							b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
								b.AddASN1ObjectIdentifier(OIDSHA256)
							})
							b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
								b.AddASN1ObjectIdentifier(OIDECDSA256)
							})
							b.AddASN1OctetString([]byte{0x30, 0x00})
						})
					}
				})
			})
		})
	})
	return b.BytesOrPanic()
}

// Flags used in authenticator data.
const (
	FlagUserPresent  = 0x01
	FlagAttested     = 0x40
	FlagExtensions   = 0x80
	AAGUIDProduction = "appattest\x00\x00\x00\x00\x00\x00\x00"
	AAGUIDDevelop    = "appattestdevelop"
)

// COSEKey encodes an EC2 P-256 COSE_Key with fixed coordinates.
func COSEKey(t testing.TB) []byte {
	t.Helper()
	x := make([]byte, 32)
	y := make([]byte, 32)
	for i := range x {
		x[i], y[i] = byte(i), byte(0xff-i)
	}
	return Encode(t, map[int]any{1: 2, 3: -7, -1: 1, -2: x, -3: y})
}

// AuthDataOptions describes authenticator data to build.
type AuthDataOptions struct {
	RPID         string
	Flags        byte
	Counter      uint32
	AAGUID       string
	CredentialID []byte
	PublicKey    []byte
	Extensions   []byte
	Trailing     []byte
}

// AuthData lays out rpIdHash, flags, counter and the optional sections.
// Sections are written when present, independent of Flags, so malformed
// combinations can be built.
func AuthData(o AuthDataOptions) []byte {
	hash := sha256.Sum256([]byte(o.RPID))
	out := append([]byte{}, hash[:]...)
	out = append(out, o.Flags)
	out = binary.BigEndian.AppendUint32(out, o.Counter)
	if o.AAGUID != "" {
		out = append(out, o.AAGUID...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(o.CredentialID)))
		out = append(out, o.CredentialID...)
		out = append(out, o.PublicKey...)
	}
	out = append(out, o.Extensions...)
	return append(out, o.Trailing...)
}

// AttestedAuthData is authenticator data as App Attest produces it.
func AttestedAuthData(t testing.TB) []byte {
	t.Helper()
	return AuthData(AuthDataOptions{
		RPID:         "TEAM123456.com.example.app",
		Flags:        FlagAttested,
		AAGUID:       AAGUIDDevelop,
		CredentialID: []byte("credential-id-0123456789abcdef01"),
		PublicKey:    COSEKey(t),
	})
}

// Encode encodes v with the core deterministic profile.
func Encode(t testing.TB, v any) []byte {
	t.Helper()
	em, err := cbor.CoreDetEncOptions().EncMode()
	require.NoError(t, err)
	b, err := em.Marshal(v)
	require.NoError(t, err)
	return b
}

// AttestationOptions describes an attestation object to build.
type AttestationOptions struct {
	Format string
	// AuthDataKey is "authData" when nil.
	AuthDataKey any
	AuthData    []byte
	Chain       [][]byte
	Receipt     []byte
	Alg         *int64
	Sig         []byte
}

// AttestationObject encodes {fmt, authData, attStmt}.
func AttestationObject(t testing.TB, o AttestationOptions) []byte {
	t.Helper()
	stmt := map[string]any{}
	if o.Chain != nil {
		stmt["x5c"] = o.Chain
	}
	if o.Receipt != nil {
		stmt["receipt"] = o.Receipt
	}
	if o.Alg != nil {
		stmt["alg"] = *o.Alg
	}
	if o.Sig != nil {
		stmt["sig"] = o.Sig
	}
	key := o.AuthDataKey
	if key == nil {
		key = "authData"
	}
	format := o.Format
	if format == "" {
		format = "apple-appattest"
	}
	return Encode(t, map[any]any{
		"fmt":     format,
		key:       o.AuthData,
		"attStmt": stmt,
	})
}
