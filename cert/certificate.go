// Package cert decodes X.509 certificates (RFC 5280) into a structural
// representation that keeps every byte range of the encoding.
//
// Decoding never validates signatures, chains or validity windows. The
// extension decoder is lenient: a recognized extension that
// fails to decode is reported as Unknown with its raw bytes intact instead of
// failing the certificate.
package cert

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/kacy/appattest-decode/der"
)

// DefaultMaxExtensionSize bounds extension values handed to typed decoders.
const DefaultMaxExtensionSize = 10 << 20

// MaxOIDLength bounds extension OID strings.
const MaxOIDLength = 256

// Options configures certificate and extension decoding. The zero value uses
// defaults.
type Options struct {
	MaxDepth         int
	MaxExtensionSize int
	// Base is added to every offset.
	Base   int
	Logger *slog.Logger
}

func (o Options) maxExtensionSize() int {
	if o.MaxExtensionSize <= 0 {
		return DefaultMaxExtensionSize
	}
	return o.MaxExtensionSize
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) treeOptions(base int) der.Options {
	return der.Options{MaxDepth: o.MaxDepth, Base: base}
}

// AlgorithmIdentifier is an algorithm OID with its optional parameters.
type AlgorithmIdentifier struct {
	OID  string `json:"oid"`
	Name string `json:"name"`
	// Parameters is the raw encoding of the parameters field, if present.
	Parameters []byte `json:"parameters,omitempty"`
}

// Attribute is one AttributeTypeAndValue of a distinguished name.
type Attribute struct {
	OID   string `json:"oid"`
	Name  string `json:"name"`
	Value string `json:"value"`
	// Type is the ASN.1 string type the value was encoded with.
	Type string `json:"type"`
}

// Name is an issuer or subject distinguished name. RDNs are flattened in
// encoding order.
type Name struct {
	Attributes []Attribute `json:"attributes"`
}

func (n Name) String() string {
	parts := make([]string, len(n.Attributes))
	for i, a := range n.Attributes {
		parts[i] = a.Name + "=" + a.Value
	}
	return strings.Join(parts, ", ")
}

// CommonName returns the first CN attribute.
func (n Name) CommonName() string {
	for _, a := range n.Attributes {
		if a.OID == "2.5.4.3" {
			return a.Value
		}
	}
	return ""
}

// PublicKeyInfo is the decoded SubjectPublicKeyInfo.
type PublicKeyInfo struct {
	Algorithm AlgorithmIdentifier `json:"algorithm"`
	// Curve is set for EC keys whose parameters name a curve.
	CurveOID string `json:"curveOid,omitempty"`
	Curve    string `json:"curve,omitempty"`
	// Bits is the key size: the curve order for EC keys, the modulus for RSA.
	Bits       int    `json:"bits,omitempty"`
	Key        []byte `json:"key"`
	UnusedBits int    `json:"unusedBits"`
}

// Extension is one certificate extension.
type Extension struct {
	OID      string `json:"oid"`
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	// Raw is the content of extnValue.
	Raw []byte `json:"raw"`
	// Offset is the absolute offset of Raw.
	Offset int `json:"offset"`
	// TLV is the complete Extension SEQUENCE.
	TLV   der.TLV        `json:"-"`
	Value ExtensionValue `json:"value"`
}

// Certificate is a decoded X.509 certificate.
type Certificate struct {
	// Raw is the complete DER encoding.
	Raw []byte `json:"-"`
	// Tree is the TLV tree of Raw with absolute offsets.
	Tree *der.Node `json:"-"`

	Version            int                 `json:"version"`
	SerialNumber       *big.Int            `json:"serialNumber"`
	SerialRaw          []byte              `json:"serialRaw"`
	SignatureAlgorithm AlgorithmIdentifier `json:"signatureAlgorithm"`
	Issuer             Name                `json:"issuer"`
	Subject            Name                `json:"subject"`
	NotBefore          time.Time           `json:"notBefore"`
	NotAfter           time.Time           `json:"notAfter"`
	PublicKey          PublicKeyInfo       `json:"publicKey"`
	IssuerUniqueID     []byte              `json:"issuerUniqueId,omitempty"`
	SubjectUniqueID    []byte              `json:"subjectUniqueId,omitempty"`
	Extensions         []Extension         `json:"extensions"`
	// OuterAlgorithm repeats the signature algorithm outside tbsCertificate.
	OuterAlgorithm AlgorithmIdentifier `json:"outerAlgorithm"`
	Signature      []byte              `json:"signature"`
}

// Extension returns the first extension with the given OID.
func (c *Certificate) Extension(oid string) (*Extension, bool) {
	for i := range c.Extensions {
		if c.Extensions[i].OID == oid {
			return &c.Extensions[i], true
		}
	}
	return nil, false
}

// Parse decodes a DER certificate.
func Parse(data []byte) (*Certificate, error) {
	return Options{}.Parse(data)
}

// Parse decodes a DER certificate.
func (o Options) Parse(data []byte) (*Certificate, error) {
	tree, err := o.treeOptions(o.Base).Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	if !tree.Is(der.TagSequence) || len(tree.Children) != 3 {
		return nil, fmt.Errorf("%w: expected SEQUENCE of 3 elements at offset %d, got %s with %d",
			ErrInvalidCertificate, tree.Offset, tree.Tag, len(tree.Children))
	}

	c := &Certificate{Raw: data, Tree: tree}
	tbs, algNode, sigNode := tree.Children[0], tree.Children[1], tree.Children[2]

	if err := o.parseTBS(c, tbs); err != nil {
		return nil, err
	}
	if c.OuterAlgorithm, err = ParseAlgorithm(algNode); err != nil {
		return nil, fmt.Errorf("%w: signatureAlgorithm: %w", ErrInvalidCertificate, err)
	}
	sig, err := der.Bits(sigNode.TLV)
	if err != nil {
		return nil, fmt.Errorf("%w: signatureValue: %w", ErrInvalidBitString, err)
	}
	c.Signature = sig.Bytes
	return c, nil
}

func (o Options) parseTBS(c *Certificate, tbs *der.Node) error {
	if !tbs.Is(der.TagSequence) {
		return fmt.Errorf("%w: tbsCertificate is %s at offset %d", ErrInvalidCertificate, tbs.Tag, tbs.Offset)
	}
	fields := tbs.Children
	next := func(name string) (*der.Node, error) {
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: tbsCertificate ends before %s", ErrInvalidCertificate, name)
		}
		n := fields[0]
		fields = fields[1:]
		return n, nil
	}

	c.Version = 1
	if len(fields) > 0 && fields[0].Is(der.ContextTag(0, true)) {
		n, _ := next("version")
		if len(n.Children) != 1 {
			return fmt.Errorf("%w: malformed version at offset %d", ErrInvalidCertificate, n.Offset)
		}
		v, err := der.Int64(n.Children[0].TLV)
		if err != nil {
			return fmt.Errorf("%w: version: %w", ErrInvalidCertificate, err)
		}
		if v < 0 || v > 2 {
			return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v+1)
		}
		c.Version = int(v) + 1
	}

	n, err := next("serialNumber")
	if err != nil {
		return err
	}
	if c.SerialNumber, err = der.BigInt(n.TLV); err != nil {
		return fmt.Errorf("%w: serialNumber: %w", ErrInvalidCertificate, err)
	}
	c.SerialRaw = n.Value()

	if n, err = next("signature"); err != nil {
		return err
	}
	if c.SignatureAlgorithm, err = ParseAlgorithm(n); err != nil {
		return fmt.Errorf("%w: signature: %w", ErrInvalidCertificate, err)
	}

	if n, err = next("issuer"); err != nil {
		return err
	}
	if c.Issuer, err = parseName(n); err != nil {
		return fmt.Errorf("%w: issuer: %w", ErrInvalidCertificate, err)
	}

	if n, err = next("validity"); err != nil {
		return err
	}
	if err := parseValidity(c, n); err != nil {
		return err
	}

	if n, err = next("subject"); err != nil {
		return err
	}
	if c.Subject, err = parseName(n); err != nil {
		return fmt.Errorf("%w: subject: %w", ErrInvalidCertificate, err)
	}

	if n, err = next("subjectPublicKeyInfo"); err != nil {
		return err
	}
	if c.PublicKey, err = parsePublicKey(n); err != nil {
		return err
	}

	for _, f := range fields {
		switch {
		case f.Is(der.ContextTag(1, false)) && c.Version >= 2:
			c.IssuerUniqueID = f.Value()
		case f.Is(der.ContextTag(2, false)) && c.Version >= 2:
			c.SubjectUniqueID = f.Value()
		case f.Is(der.ContextTag(3, true)) && c.Version == 3:
			if c.Extensions != nil {
				return fmt.Errorf("%w: duplicate extensions at offset %d", ErrInvalidCertificate, f.Offset)
			}
			exts, err := o.parseExtensions(f)
			if err != nil {
				return err
			}
			c.Extensions = exts
		default:
			return fmt.Errorf("%w: unexpected %s in v%d tbsCertificate at offset %d",
				ErrInvalidCertificate, f.Tag, c.Version, f.Offset)
		}
	}
	return nil
}

// ParseAlgorithm decodes an AlgorithmIdentifier node.
func ParseAlgorithm(n *der.Node) (AlgorithmIdentifier, error) {
	if !n.Is(der.TagSequence) || len(n.Children) == 0 || len(n.Children) > 2 {
		return AlgorithmIdentifier{}, fmt.Errorf("%w: malformed AlgorithmIdentifier at offset %d", ErrUnsupportedAlgorithm, n.Offset)
	}
	oid, err := der.OID(n.Children[0].TLV)
	if err != nil {
		return AlgorithmIdentifier{}, err
	}
	alg := AlgorithmIdentifier{OID: oid, Name: AlgorithmName(oid)}
	if len(n.Children) == 2 {
		alg.Parameters = n.Children[1].Bytes()
	}
	return alg, nil
}

func parseName(n *der.Node) (Name, error) {
	if !n.Is(der.TagSequence) {
		return Name{}, fmt.Errorf("name is %s at offset %d", n.Tag, n.Offset)
	}
	var name Name
	for _, rdn := range n.Children {
		if !rdn.Is(der.TagSet) {
			return Name{}, fmt.Errorf("RDN is %s at offset %d", rdn.Tag, rdn.Offset)
		}
		for _, atv := range rdn.Children {
			if !atv.Is(der.TagSequence) || len(atv.Children) != 2 {
				return Name{}, fmt.Errorf("malformed attribute at offset %d", atv.Offset)
			}
			oid, err := der.OID(atv.Children[0].TLV)
			if err != nil {
				return Name{}, err
			}
			val := atv.Children[1]
			attr := Attribute{OID: oid, Name: AttributeName(oid), Type: val.Tag.String()}
			if der.IsString(val.Tag) {
				if attr.Value, err = der.String(val.TLV); err != nil {
					return Name{}, err
				}
			} else {
				attr.Value = fmt.Sprintf("#%x", val.Bytes())
			}
			name.Attributes = append(name.Attributes, attr)
		}
	}
	return name, nil
}

func parseValidity(c *Certificate, n *der.Node) error {
	if !n.Is(der.TagSequence) || len(n.Children) != 2 {
		return fmt.Errorf("%w: malformed validity at offset %d", ErrInvalidCertificate, n.Offset)
	}
	var err error
	if c.NotBefore, err = der.Time(n.Children[0].TLV); err != nil {
		return fmt.Errorf("%w: notBefore: %w", ErrInvalidTimeEncoding, err)
	}
	if c.NotAfter, err = der.Time(n.Children[1].TLV); err != nil {
		return fmt.Errorf("%w: notAfter: %w", ErrInvalidTimeEncoding, err)
	}
	return nil
}

func parsePublicKey(n *der.Node) (PublicKeyInfo, error) {
	if !n.Is(der.TagSequence) || len(n.Children) != 2 {
		return PublicKeyInfo{}, fmt.Errorf("%w: malformed SubjectPublicKeyInfo at offset %d", ErrInvalidPublicKey, n.Offset)
	}
	alg, err := ParseAlgorithm(n.Children[0])
	if err != nil {
		return PublicKeyInfo{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	bits, err := der.Bits(n.Children[1].TLV)
	if err != nil {
		return PublicKeyInfo{}, fmt.Errorf("%w: subjectPublicKey: %w", ErrInvalidBitString, err)
	}
	info := PublicKeyInfo{Algorithm: alg, Key: bits.Bytes, UnusedBits: bits.UnusedBits}

	switch alg.OID {
	case "1.2.840.10045.2.1":
		if err := describeECKey(&info, n.Children[0]); err != nil {
			return PublicKeyInfo{}, err
		}
	case "1.2.840.113549.1.1.1":
		if err := describeRSAKey(&info, n.Children[1]); err != nil {
			return PublicKeyInfo{}, err
		}
	}
	return info, nil
}

func describeECKey(info *PublicKeyInfo, alg *der.Node) error {
	if len(alg.Children) != 2 || !alg.Children[1].Is(der.TagOID) {
		return fmt.Errorf("%w: EC key without named curve at offset %d", ErrInvalidPublicKey, alg.Offset)
	}
	curveOID, err := der.OID(alg.Children[1].TLV)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	info.CurveOID = curveOID
	curve, ok := curves[curveOID]
	if !ok {
		info.Curve = curveOID
		return nil
	}
	info.Curve = curve.name
	info.Bits = curve.size * 8
	if curve.size == 66 {
		info.Bits = 521
	}

	key := info.Key
	if info.UnusedBits != 0 || len(key) == 0 {
		return fmt.Errorf("%w: empty or misaligned EC point", ErrInvalidPublicKey)
	}
	switch key[0] {
	case 0x04:
		if len(key) != 1+2*curve.size {
			return fmt.Errorf("%w: uncompressed %s point of %d bytes", ErrInvalidPublicKey, curve.name, len(key))
		}
	case 0x02, 0x03:
		if len(key) != 1+curve.size {
			return fmt.Errorf("%w: compressed %s point of %d bytes", ErrInvalidPublicKey, curve.name, len(key))
		}
	default:
		return fmt.Errorf("%w: EC point format 0x%02x", ErrInvalidPublicKey, key[0])
	}
	return nil
}

func describeRSAKey(info *PublicKeyInfo, keyNode *der.Node) error {
	// The BIT STRING content is itself RSAPublicKey ::= SEQUENCE { n, e }.
	t, err := der.ParseSingle(info.Key, keyNode.ValueOffset()+1)
	if err != nil {
		return fmt.Errorf("%w: RSAPublicKey: %w", ErrInvalidPublicKey, err)
	}
	if !t.Is(der.TagSequence) {
		return fmt.Errorf("%w: RSAPublicKey is %s", ErrInvalidPublicKey, t.Tag)
	}
	r := t.Reader()
	modTLV, err := r.Expect(der.TagInteger)
	if err != nil {
		return fmt.Errorf("%w: modulus: %w", ErrInvalidPublicKey, err)
	}
	mod, err := der.BigInt(modTLV)
	if err != nil || mod.Sign() <= 0 {
		return fmt.Errorf("%w: modulus", ErrInvalidPublicKey)
	}
	if _, err := r.Expect(der.TagInteger); err != nil {
		return fmt.Errorf("%w: exponent: %w", ErrInvalidPublicKey, err)
	}
	info.Bits = mod.BitLen()
	return nil
}

func (o Options) parseExtensions(wrapper *der.Node) ([]Extension, error) {
	if len(wrapper.Children) != 1 || !wrapper.Children[0].Is(der.TagSequence) {
		return nil, fmt.Errorf("%w: malformed extensions at offset %d", ErrInvalidCertificate, wrapper.Offset)
	}
	seq := wrapper.Children[0]
	exts := make([]Extension, 0, len(seq.Children))
	for _, e := range seq.Children {
		ext, err := o.parseExtension(e)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

func (o Options) parseExtension(n *der.Node) (Extension, error) {
	if !n.Is(der.TagSequence) || len(n.Children) < 2 || len(n.Children) > 3 {
		return Extension{}, fmt.Errorf("%w: malformed extension at offset %d", ErrInvalidExtension, n.Offset)
	}
	oid, err := der.OID(n.Children[0].TLV)
	if err != nil {
		return Extension{}, fmt.Errorf("%w: %w", ErrInvalidExtension, err)
	}
	ext := Extension{OID: oid, Name: ExtensionName(oid), TLV: n.TLV}

	valueNode := n.Children[1]
	if len(n.Children) == 3 {
		if ext.Critical, err = der.Bool(n.Children[1].TLV); err != nil {
			return Extension{}, fmt.Errorf("%w: critical: %w", ErrInvalidExtension, err)
		}
		valueNode = n.Children[2]
	}
	if !valueNode.Is(der.TagOctetString) {
		return Extension{}, fmt.Errorf("%w: extnValue is %s at offset %d", ErrInvalidExtension, valueNode.Tag, valueNode.Offset)
	}
	ext.Raw = valueNode.Value()
	ext.Offset = valueNode.ValueOffset()
	ext.Value = o.decodeExtensionAt(oid, ext.Raw, ext.Offset)
	return ext, nil
}
