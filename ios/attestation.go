// Package ios decodes iOS App Attest artifacts: attestation objects produced
// by DCAppAttestService.attestKey and assertions produced by
// generateAssertion.
//
// Decoding is structural only. Nothing here checks signatures, the
// certificate chain, the nonce or counters.
//
// See: https://developer.apple.com/documentation/devicecheck/establishing_your_app_s_integrity
package ios

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kacy/appattest-decode/cbor"
	"github.com/kacy/appattest-decode/cert"
	"github.com/kacy/appattest-decode/cms"
	"github.com/kacy/appattest-decode/cose"
)

// Common errors.
var (
	ErrMissingRequiredField = errors.New("ios: missing required field")
	ErrUnexpectedType       = errors.New("ios: unexpected type")
	ErrAuthDataTruncated    = errors.New("ios: authenticator data truncated")
	ErrUnsupportedAlgorithm = errors.New("ios: unsupported algorithm")
	ErrInvalidBase64        = errors.New("ios: invalid base64")
)

// MissingFieldError reports a required key that was not found, together
// with every key that was present.
type MissingFieldError struct {
	Name string
	Keys []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("ios: missing required field %q (keys present: [%s])", e.Name, strings.Join(e.Keys, ", "))
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingRequiredField
}

// FormatAppleAppAttest is the fmt value of App Attest attestation objects.
const FormatAppleAppAttest = "apple-appattest"

// Options configures decoding. The zero value uses defaults.
type Options struct {
	MaxDepth         int
	MaxExtensionSize int
	// Base is added to every offset.
	Base   int
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) cborOptions(base int) cbor.Options {
	return cbor.Options{MaxDepth: o.MaxDepth, Base: base}
}

func (o Options) certOptions(base int) cert.Options {
	return cert.Options{
		MaxDepth:         o.MaxDepth,
		MaxExtensionSize: o.MaxExtensionSize,
		Base:             base,
		Logger:           o.Logger,
	}
}

// Certificate is one x5c entry.
type Certificate struct {
	// Item is the CBOR byte string holding the DER encoding.
	Item *cbor.Bytes       `json:"-"`
	Cert *cert.Certificate `json:"certificate"`
}

// Receipt is the attStmt receipt. A receipt that is not a decodable CMS
// envelope is kept with Err set instead of failing the attestation object.
type Receipt struct {
	Item       *cbor.Bytes     `json:"-"`
	SignedData *cms.SignedData `json:"signedData,omitempty"`
	Err        string          `json:"error,omitempty"`
}

// AttestationStatement is the decoded attStmt map.
type AttestationStatement struct {
	Map *cbor.Map `json:"-"`
	// Algorithm is nil when alg is absent, as it is for apple-appattest.
	Algorithm     *int64        `json:"alg,omitempty"`
	AlgorithmName string        `json:"algName,omitempty"`
	Signature     *cbor.Bytes   `json:"-"`
	Certificates  []Certificate `json:"x5c"`
	Receipt       *Receipt      `json:"receipt,omitempty"`
}

// AttestationObject is a decoded attestation object.
type AttestationObject struct {
	Raw  []byte    `json:"-"`
	Root *cbor.Map `json:"-"`

	Format string `json:"fmt"`
	// AuthDataKey is the key authData was found under.
	AuthDataKey  string               `json:"authDataKey"`
	AuthDataItem *cbor.Bytes          `json:"-"`
	AuthData     *AuthenticatorData   `json:"authData"`
	Statement    AttestationStatement `json:"attStmt"`
}

// DecodeAttestationObject decodes an attestation object with default
// options.
func DecodeAttestationObject(data []byte) (*AttestationObject, error) {
	return Options{}.DecodeAttestationObject(data)
}

// DecodeAttestationObjectBase64 decodes a base64 attestation object with
// default options.
func DecodeAttestationObjectBase64(s string) (*AttestationObject, error) {
	return Options{}.DecodeAttestationObjectBase64(s)
}

// DecodeAttestationObjectBase64 accepts standard or URL-safe base64, with or
// without padding.
func (o Options) DecodeAttestationObjectBase64(s string) (*AttestationObject, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	return o.DecodeAttestationObject(data)
}

// DecodeBase64 decodes standard or URL-safe base64, padded or not.
// Surrounding whitespace is ignored.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidBase64, firstErr)
}

// DecodeAttestationObject decodes {fmt, authData, attStmt}, then reparses
// authData, every x5c certificate and the receipt.
func (o Options) DecodeAttestationObject(data []byte) (*AttestationObject, error) {
	root, err := o.decodeRootMap(data)
	if err != nil {
		return nil, err
	}
	obj := &AttestationObject{Raw: data, Root: root}

	format, err := requireText(root, "fmt")
	if err != nil {
		return nil, err
	}
	obj.Format = format.Value

	if obj.AuthDataItem, obj.AuthDataKey, err = findAuthData(root); err != nil {
		return nil, err
	}
	authOpts := o
	authOpts.Base = obj.AuthDataItem.ContentOffset()
	if obj.AuthData, err = authOpts.ParseAuthenticatorData(obj.AuthDataItem.Value); err != nil {
		return nil, err
	}

	stmtValue, ok := root.Text("attStmt")
	if !ok {
		return nil, &MissingFieldError{Name: "attStmt", Keys: root.Keys()}
	}
	stmt, ok := stmtValue.(*cbor.Map)
	if !ok {
		return nil, unexpectedType("attStmt", "map", stmtValue)
	}
	if obj.Statement, err = o.decodeStatement(stmt); err != nil {
		return nil, err
	}

	o.logger().Debug("decoded attestation object",
		"fmt", obj.Format,
		"length", len(data),
		"certificates", len(obj.Statement.Certificates),
		"receipt", obj.Statement.Receipt != nil)
	return obj, nil
}

func (o Options) decodeRootMap(data []byte) (*cbor.Map, error) {
	v, err := o.cborOptions(o.Base).Decode(data)
	if err != nil {
		return nil, err
	}
	root, ok := v.(*cbor.Map)
	if !ok {
		return nil, unexpectedType("root", "map", v)
	}
	return root, nil
}

// findAuthData looks up the text key "authData" and otherwise falls back to
// the first byte string value under any key.
func findAuthData(root *cbor.Map) (*cbor.Bytes, string, error) {
	if v, ok := root.Text("authData"); ok {
		b, ok := v.(*cbor.Bytes)
		if !ok {
			return nil, "", unexpectedType("authData", "byte string", v)
		}
		return b, "authData", nil
	}
	for _, e := range root.Entries {
		if b, ok := e.Value.(*cbor.Bytes); ok {
			return b, cbor.KeyString(e.Key), nil
		}
	}
	return nil, "", &MissingFieldError{Name: "authData", Keys: root.Keys()}
}

func (o Options) decodeStatement(m *cbor.Map) (AttestationStatement, error) {
	stmt := AttestationStatement{Map: m, Certificates: []Certificate{}}

	if v, ok := m.Text("alg"); ok {
		alg, ok := cbor.Int(v)
		if !ok {
			return AttestationStatement{}, fmt.Errorf("%w: alg is %s at offset %d", ErrUnsupportedAlgorithm, v.Kind(), v.Pos().Offset)
		}
		stmt.Algorithm = &alg
		stmt.AlgorithmName = cose.AlgorithmName(alg)
	}

	if v, ok := m.Text("sig"); ok {
		sig, ok := v.(*cbor.Bytes)
		if !ok {
			return AttestationStatement{}, unexpectedType("attStmt.sig", "byte string", v)
		}
		stmt.Signature = sig
	}

	if v, ok := m.Text("x5c"); ok {
		arr, ok := v.(*cbor.Array)
		if !ok {
			return AttestationStatement{}, unexpectedType("attStmt.x5c", "array", v)
		}
		for i, item := range arr.Items {
			b, ok := item.(*cbor.Bytes)
			if !ok {
				return AttestationStatement{}, unexpectedType(fmt.Sprintf("attStmt.x5c[%d]", i), "byte string", item)
			}
			c, err := o.certOptions(b.ContentOffset()).Parse(b.Value)
			if err != nil {
				return AttestationStatement{}, fmt.Errorf("ios: x5c[%d]: %w", i, err)
			}
			stmt.Certificates = append(stmt.Certificates, Certificate{Item: b, Cert: c})
		}
	}

	if v, ok := m.Text("receipt"); ok {
		b, ok := v.(*cbor.Bytes)
		if !ok {
			return AttestationStatement{}, unexpectedType("attStmt.receipt", "byte string", v)
		}
		stmt.Receipt = o.decodeReceipt(b)
	}
	return stmt, nil
}

func (o Options) decodeReceipt(b *cbor.Bytes) *Receipt {
	r := &Receipt{Item: b}
	opts := cms.Options{
		MaxDepth: o.MaxDepth,
		Base:     b.ContentOffset(),
		Cert:     o.certOptions(0),
	}
	sd, err := opts.Parse(b.Value)
	if err != nil {
		o.logger().Debug("receipt kept raw", "offset", b.ContentOffset(), "error", err)
		r.Err = err.Error()
		return r
	}
	r.SignedData = sd
	return r
}

// Leaf returns the credential certificate, the first x5c entry.
func (s *AttestationStatement) Leaf() (*cert.Certificate, bool) {
	if len(s.Certificates) == 0 {
		return nil, false
	}
	return s.Certificates[0].Cert, true
}

// Nonce returns the App Attest nonce from the credential certificate.
func (obj *AttestationObject) Nonce() ([]byte, bool) {
	leaf, ok := obj.Statement.Leaf()
	if !ok {
		return nil, false
	}
	ext, ok := leaf.Extension(cert.OIDAppleAttestationNonce)
	if !ok {
		return nil, false
	}
	apple, ok := ext.Value.(*cert.AppleExtension)
	if !ok || apple.Nonce == nil {
		return nil, false
	}
	return apple.Nonce, true
}

func requireText(m *cbor.Map, name string) (*cbor.Text, error) {
	v, ok := m.Text(name)
	if !ok {
		return nil, &MissingFieldError{Name: name, Keys: m.Keys()}
	}
	t, ok := v.(*cbor.Text)
	if !ok {
		return nil, unexpectedType(name, "text string", v)
	}
	return t, nil
}

func requireBytes(m *cbor.Map, name string) (*cbor.Bytes, error) {
	v, ok := m.Text(name)
	if !ok {
		return nil, &MissingFieldError{Name: name, Keys: m.Keys()}
	}
	b, ok := v.(*cbor.Bytes)
	if !ok {
		return nil, unexpectedType(name, "byte string", v)
	}
	return b, nil
}

func unexpectedType(field, want string, v cbor.Value) error {
	return fmt.Errorf("%w: %s is %s at offset %d, want %s", ErrUnexpectedType, field, v.Kind(), v.Pos().Offset, want)
}
