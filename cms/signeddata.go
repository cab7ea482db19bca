// Package cms decodes the CMS SignedData envelope (RFC 5652) that carries an
// App Attest receipt. The encapsulated payload is located and labeled with
// Sniff but never decoded.
package cms

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/samber/lo"

	"github.com/kacy/appattest-decode/cert"
	"github.com/kacy/appattest-decode/der"
)

// Content type OIDs.
const (
	OIDData       = "1.2.840.113549.1.7.1"
	OIDSignedData = "1.2.840.113549.1.7.2"
)

var (
	ErrInvalidContentInfo = errors.New("cms: invalid ContentInfo")
	ErrNotSignedData      = errors.New("cms: content is not SignedData")
	ErrInvalidSignedData  = errors.New("cms: invalid SignedData")
)

// Options configures decoding. The zero value uses defaults.
type Options struct {
	MaxDepth int
	// Base is added to every offset.
	Base int
	// Cert is used for embedded certificates. Its Base is ignored.
	Cert cert.Options
}

// EncapsulatedContent is encapContentInfo.
type EncapsulatedContent struct {
	Type string `json:"type"`
	// Present reports whether eContent was encoded at all.
	Present bool   `json:"present"`
	Bytes   []byte `json:"bytes,omitempty"`
	// Offset is the absolute offset of Bytes.
	Offset int    `json:"offset"`
	Format Format `json:"format"`
}

// SignerInfo summarizes one signer. Signed and unsigned attributes are
// counted, not decoded.
type SignerInfo struct {
	Version int `json:"version"`
	// Exactly one of IssuerSerial and SubjectKeyID is set.
	IssuerSerial       *big.Int                 `json:"issuerSerial,omitempty"`
	SubjectKeyID       []byte                   `json:"subjectKeyId,omitempty"`
	DigestAlgorithm    cert.AlgorithmIdentifier `json:"digestAlgorithm"`
	SignedAttributes   int                      `json:"signedAttributes"`
	SignatureAlgorithm cert.AlgorithmIdentifier `json:"signatureAlgorithm"`
	Signature          []byte                   `json:"signature"`
	UnsignedAttributes int                      `json:"unsignedAttributes"`
}

// SignedData is a decoded ContentInfo holding SignedData.
type SignedData struct {
	Raw  []byte    `json:"-"`
	Tree *der.Node `json:"-"`

	Version          int                        `json:"version"`
	DigestAlgorithms []cert.AlgorithmIdentifier `json:"digestAlgorithms"`
	Content          EncapsulatedContent        `json:"content"`
	Certificates     []*cert.Certificate        `json:"certificates"`
	// OtherCertificates counts CertificateChoices that are not plain
	// certificates.
	OtherCertificates int          `json:"otherCertificates"`
	CRLCount          int          `json:"crlCount"`
	Signers           []SignerInfo `json:"signers"`
}

// SignerCount returns the number of SignerInfo entries.
func (s *SignedData) SignerCount() int {
	return len(s.Signers)
}

// Parse decodes a DER ContentInfo with default options.
func Parse(data []byte) (*SignedData, error) {
	return Options{}.Parse(data)
}

// Parse decodes a DER ContentInfo whose content is SignedData.
func (o Options) Parse(data []byte) (*SignedData, error) {
	tree, err := der.Options{MaxDepth: o.MaxDepth, Base: o.Base}.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContentInfo, err)
	}
	if !tree.Is(der.TagSequence) || len(tree.Children) != 2 {
		return nil, fmt.Errorf("%w: expected SEQUENCE of 2 elements at offset %d", ErrInvalidContentInfo, tree.Offset)
	}
	oid, err := der.OID(tree.Children[0].TLV)
	if err != nil {
		return nil, fmt.Errorf("%w: contentType: %w", ErrInvalidContentInfo, err)
	}
	if oid != OIDSignedData {
		return nil, fmt.Errorf("%w: content type %s", ErrNotSignedData, oid)
	}
	wrapper := tree.Children[1]
	if !wrapper.Is(der.ContextTag(0, true)) || len(wrapper.Children) != 1 {
		return nil, fmt.Errorf("%w: content is %s at offset %d", ErrInvalidContentInfo, wrapper.Tag, wrapper.Offset)
	}

	sd := &SignedData{Raw: data, Tree: tree}
	if err := o.parseSignedData(sd, wrapper.Children[0]); err != nil {
		return nil, err
	}
	return sd, nil
}

func (o Options) parseSignedData(sd *SignedData, n *der.Node) error {
	if !n.Is(der.TagSequence) || len(n.Children) < 4 {
		return fmt.Errorf("%w: malformed SignedData at offset %d", ErrInvalidSignedData, n.Offset)
	}
	fields := n.Children

	v, err := der.Int64(fields[0].TLV)
	if err != nil {
		return fmt.Errorf("%w: version: %w", ErrInvalidSignedData, err)
	}
	sd.Version = int(v)

	if !fields[1].Is(der.TagSet) {
		return fmt.Errorf("%w: digestAlgorithms is %s", ErrInvalidSignedData, fields[1].Tag)
	}
	sd.DigestAlgorithms = make([]cert.AlgorithmIdentifier, 0, len(fields[1].Children))
	for _, a := range fields[1].Children {
		alg, err := cert.ParseAlgorithm(a)
		if err != nil {
			return fmt.Errorf("%w: digestAlgorithms: %w", ErrInvalidSignedData, err)
		}
		sd.DigestAlgorithms = append(sd.DigestAlgorithms, alg)
	}

	if sd.Content, err = parseContent(fields[2]); err != nil {
		return err
	}

	rest := fields[3:]
	if len(rest) > 0 && rest[0].Is(der.ContextTag(0, true)) {
		if err := o.parseCertificates(sd, rest[0]); err != nil {
			return err
		}
		rest = rest[1:]
	}
	if len(rest) > 0 && rest[0].Is(der.ContextTag(1, true)) {
		sd.CRLCount = len(rest[0].Children)
		rest = rest[1:]
	}
	if len(rest) != 1 || !rest[0].Is(der.TagSet) {
		return fmt.Errorf("%w: missing signerInfos", ErrInvalidSignedData)
	}

	set := rest[0]
	r := set.Reader()
	signers, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: signerInfos: %w", ErrInvalidSignedData, err)
	}
	sd.Signers = make([]SignerInfo, 0, len(signers))
	for i, t := range signers {
		si, err := parseSignerInfo(r, t, set.Children[i])
		if err != nil {
			return fmt.Errorf("%w: signerInfo %d: %w", ErrInvalidSignedData, i, err)
		}
		sd.Signers = append(sd.Signers, si)
	}
	return nil
}

func parseContent(n *der.Node) (EncapsulatedContent, error) {
	if !n.Is(der.TagSequence) || len(n.Children) == 0 || len(n.Children) > 2 {
		return EncapsulatedContent{}, fmt.Errorf("%w: malformed encapContentInfo at offset %d", ErrInvalidSignedData, n.Offset)
	}
	oid, err := der.OID(n.Children[0].TLV)
	if err != nil {
		return EncapsulatedContent{}, fmt.Errorf("%w: eContentType: %w", ErrInvalidSignedData, err)
	}
	c := EncapsulatedContent{Type: oid, Format: FormatEmpty}
	if len(n.Children) == 1 {
		return c, nil
	}

	w := n.Children[1]
	if !w.Is(der.ContextTag(0, true)) || len(w.Children) != 1 || !w.Children[0].Is(der.TagOctetString) {
		return EncapsulatedContent{}, fmt.Errorf("%w: eContent at offset %d", ErrInvalidSignedData, w.Offset)
	}
	octets := w.Children[0]
	c.Present = true
	c.Bytes = octets.Value()
	c.Offset = octets.ValueOffset()
	c.Format = Sniff(c.Bytes)
	return c, nil
}

func (o Options) parseCertificates(sd *SignedData, set *der.Node) error {
	co := o.Cert
	if co.MaxDepth == 0 {
		co.MaxDepth = o.MaxDepth
	}
	for i, c := range set.Children {
		if !c.Is(der.TagSequence) {
			sd.OtherCertificates++
			continue
		}
		co.Base = c.Offset
		parsed, err := co.Parse(c.Bytes())
		if err != nil {
			return fmt.Errorf("cms: certificate %d: %w", i, err)
		}
		sd.Certificates = append(sd.Certificates, parsed)
	}
	return nil
}

// parseSignerInfo reads the fields of t in order. n is the already parsed
// tree for t and supplies the children of constructed fields.
func parseSignerInfo(r *der.Reader, t der.TLV, n *der.Node) (SignerInfo, error) {
	if !t.Is(der.TagSequence) {
		want := der.TagSequence
		return SignerInfo{}, &der.TagError{Expected: &want, Actual: t.Tag, Offset: t.Offset}
	}
	nodes := lo.KeyBy(n.Children, func(c *der.Node) int { return c.Offset })
	var si SignerInfo

	err := r.WithValue(t, func(f *der.Reader) error {
		vt, err := f.Expect(der.TagInteger)
		if err != nil {
			return err
		}
		v, err := der.Int64(vt)
		if err != nil {
			return err
		}
		si.Version = int(v)

		sid, err := f.Next()
		if err != nil {
			return err
		}
		switch sid.Tag {
		case der.TagSequence:
			ias := nodes[sid.Offset]
			if len(ias.Children) != 2 {
				return fmt.Errorf("issuerAndSerialNumber has %d elements at offset %d", len(ias.Children), sid.Offset)
			}
			if si.IssuerSerial, err = der.BigInt(ias.Children[1].TLV); err != nil {
				return err
			}
		case der.ContextTag(0, false):
			si.SubjectKeyID = sid.Value()
		default:
			return fmt.Errorf("signer identifier is %s at offset %d", sid.Tag, sid.Offset)
		}

		digest, err := f.Expect(der.TagSequence)
		if err != nil {
			return err
		}
		if si.DigestAlgorithm, err = cert.ParseAlgorithm(nodes[digest.Offset]); err != nil {
			return err
		}

		signed, ok, err := f.ExpectOptional(der.ContextTag(0, true))
		if err != nil {
			return err
		}
		if ok {
			si.SignedAttributes = len(nodes[signed.Offset].Children)
		}

		sigAlg, err := f.Expect(der.TagSequence)
		if err != nil {
			return err
		}
		if si.SignatureAlgorithm, err = cert.ParseAlgorithm(nodes[sigAlg.Offset]); err != nil {
			return err
		}
		sig, err := f.Expect(der.TagOctetString)
		if err != nil {
			return err
		}
		si.Signature = sig.Value()

		unsigned, ok, err := f.ExpectOptional(der.ContextTag(1, true))
		if err != nil {
			return err
		}
		if ok {
			si.UnsignedAttributes = len(nodes[unsigned.Offset].Children)
		}
		return nil
	})
	if err != nil {
		return SignerInfo{}, err
	}
	return si, nil
}
