package cert

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/kacy/appattest-decode/der"
)

// ExtensionValue is the decoded form of an extension: one of
// *BasicConstraints, *KeyUsage, *ExtendedKeyUsage, *SubjectAltName,
// *AuthorityKeyIdentifier, *SubjectKeyIdentifier, *AppleExtension or
// *Unknown.
type ExtensionValue interface {
	Kind() string
}

// BasicConstraints is RFC 5280 section 4.2.1.9.
type BasicConstraints struct {
	IsCA bool `json:"isCA"`
	// PathLen is nil when absent. It is kept signed as encoded.
	PathLen *int64 `json:"pathLen"`
}

// KeyUsage is RFC 5280 section 4.2.1.3.
type KeyUsage struct {
	Usages     []string `json:"usages"`
	UnusedBits int      `json:"unusedBits"`
}

// Purpose is one ExtendedKeyUsage entry. Name is the OID when unknown.
type Purpose struct {
	OID  string `json:"oid"`
	Name string `json:"name"`
}

// ExtendedKeyUsage is RFC 5280 section 4.2.1.12.
type ExtendedKeyUsage struct {
	Purposes []Purpose `json:"purposes"`
}

// GeneralName is one entry of a SubjectAltName. Text is set for dNSName
// and URI entries, Raw for every other form.
type GeneralName struct {
	Tag  uint32 `json:"tag"`
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Raw  []byte `json:"raw,omitempty"`
}

// SubjectAltName is RFC 5280 section 4.2.1.6.
type SubjectAltName struct {
	Names []GeneralName `json:"names"`
}

// AuthorityKeyIdentifier is RFC 5280 section 4.2.1.1.
type AuthorityKeyIdentifier struct {
	KeyID []byte `json:"keyId,omitempty"`
	// HasIssuer reports an authorityCertIssuer field.
	HasIssuer bool   `json:"hasIssuer"`
	Serial    []byte `json:"serial,omitempty"`
}

// SubjectKeyIdentifier is RFC 5280 section 4.2.1.2.
type SubjectKeyIdentifier struct {
	KeyID []byte `json:"keyId"`
}

// Unknown preserves an extension that was not decoded. Raw is the input
// byte for byte unless the value exceeded the size limit, in which case Raw
// is empty and Truncated is set.
type Unknown struct {
	OID       string `json:"oid"`
	Raw       []byte `json:"raw"`
	Size      int    `json:"size"`
	Truncated bool   `json:"truncated"`
	Reason    string `json:"reason"`
}

func (*BasicConstraints) Kind() string       { return "basicConstraints" }
func (*KeyUsage) Kind() string               { return "keyUsage" }
func (*ExtendedKeyUsage) Kind() string       { return "extKeyUsage" }
func (*SubjectAltName) Kind() string         { return "subjectAltName" }
func (*AuthorityKeyIdentifier) Kind() string { return "authorityKeyIdentifier" }
func (*SubjectKeyIdentifier) Kind() string   { return "subjectKeyIdentifier" }
func (*Unknown) Kind() string                { return "unknown" }

// Reasons recorded in Unknown.
const (
	ReasonUnrecognized = "unrecognized extension"
	ReasonOIDTooLong   = "object identifier too long"
	ReasonTooLarge     = "value exceeds size limit"
)

type extensionDecoder func(o Options, oid string, raw []byte) (ExtensionValue, error)

var decoders = map[string]extensionDecoder{
	OIDBasicConstraints:       decodeBasicConstraints,
	OIDKeyUsage:               decodeKeyUsage,
	OIDExtendedKeyUsage:       decodeExtendedKeyUsage,
	OIDSubjectAltName:         decodeSubjectAltName,
	OIDAuthorityKeyIdentifier: decodeAuthorityKeyIdentifier,
	OIDSubjectKeyIdentifier:   decodeSubjectKeyIdentifier,
}

// DecodeExtension decodes an extension value with default options.
func DecodeExtension(oid string, raw []byte) ExtensionValue {
	return Options{}.DecodeExtension(oid, raw)
}

// DecodeExtension decodes raw, the content of extnValue, according to oid.
// It never fails: unrecognized OIDs, oversized input and decode errors all
// yield *Unknown. Offsets in a fallback reason count from the start of raw.
func (o Options) DecodeExtension(oid string, raw []byte) ExtensionValue {
	return o.decodeExtensionAt(oid, raw, 0)
}

// decodeExtensionAt is DecodeExtension for raw located at base in the
// original input.
func (o Options) decodeExtensionAt(oid string, raw []byte, base int) ExtensionValue {
	o.Base = base
	if len(oid) > MaxOIDLength {
		return &Unknown{OID: oid[:MaxOIDLength], Raw: raw, Size: len(raw), Reason: ReasonOIDTooLong}
	}
	if len(raw) > o.maxExtensionSize() {
		o.logger().Debug("extension value over size limit", "oid", oid, "size", len(raw))
		return &Unknown{OID: oid, Raw: []byte{}, Size: len(raw), Truncated: true, Reason: ReasonTooLarge}
	}

	decode, ok := decoders[oid]
	if !ok && IsApple(oid) {
		decode, ok = decodeApple, true
	}
	if !ok {
		return &Unknown{OID: oid, Raw: raw, Size: len(raw), Reason: ReasonUnrecognized}
	}

	res := tryDecode(o, decode, oid, raw)
	if res.IsError() {
		o.logger().Debug("extension decode fell back to raw", "oid", oid, "error", res.Error())
		return &Unknown{OID: oid, Raw: raw, Size: len(raw), Reason: res.Error().Error()}
	}
	return res.MustGet()
}

// tryDecode runs decode and converts both errors and panics into a failed
// result.
func tryDecode(o Options, decode extensionDecoder, oid string, raw []byte) mo.Result[ExtensionValue] {
	var v ExtensionValue
	caught, ok := lo.TryWithErrorValue(func() error {
		var err error
		v, err = decode(o, oid, raw)
		return err
	})
	if ok {
		return mo.Ok(v)
	}
	if err, isErr := caught.(error); isErr {
		return mo.Err[ExtensionValue](err)
	}
	return mo.Err[ExtensionValue](fmt.Errorf("%w: %v", ErrInvalidExtension, caught))
}

// single parses raw as exactly one element with the given tag.
func single(o Options, raw []byte, tag der.Tag) (*der.Node, error) {
	n, err := o.treeOptions(o.Base).Parse(raw)
	if err != nil {
		return nil, err
	}
	if n.Tag != tag {
		return nil, &der.TagError{Expected: &tag, Actual: n.Tag, Offset: n.Offset}
	}
	return n, nil
}

func decodeBasicConstraints(o Options, _ string, raw []byte) (ExtensionValue, error) {
	bc := &BasicConstraints{}
	if len(raw) == 0 {
		return bc, nil
	}
	seq, err := single(o, raw, der.TagSequence)
	if err != nil {
		return nil, err
	}
	fields := seq.Children
	if len(fields) > 0 && fields[0].Is(der.TagBoolean) {
		if bc.IsCA, err = der.Bool(fields[0].TLV); err != nil {
			return nil, err
		}
		fields = fields[1:]
	}
	if len(fields) > 0 && fields[0].Is(der.TagInteger) {
		n, err := der.Int64(fields[0].TLV)
		if err != nil {
			return nil, err
		}
		bc.PathLen = &n
		fields = fields[1:]
	}
	if len(fields) > 0 {
		return nil, fmt.Errorf("%w: unexpected %s in basicConstraints", ErrInvalidExtension, fields[0].Tag)
	}
	return bc, nil
}

// keyUsageCeiling is the number of defined KeyUsage bits.
const keyUsageCeiling = len(keyUsageNames)

func decodeKeyUsage(o Options, _ string, raw []byte) (ExtensionValue, error) {
	n, err := single(o, raw, der.TagBitString)
	if err != nil {
		return nil, err
	}
	bits, err := der.Bits(n.TLV)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBitString, err)
	}
	ku := &KeyUsage{Usages: []string{}, UnusedBits: bits.UnusedBits}
	// The fixed ceiling applies first, then the encoded bit length.
	for i := 0; i < keyUsageCeiling; i++ {
		if i >= bits.BitLength() {
			break
		}
		if bits.At(i) {
			ku.Usages = append(ku.Usages, keyUsageNames[i])
		}
	}
	return ku, nil
}

func decodeExtendedKeyUsage(o Options, _ string, raw []byte) (ExtensionValue, error) {
	seq, err := single(o, raw, der.TagSequence)
	if err != nil {
		return nil, err
	}
	eku := &ExtendedKeyUsage{Purposes: make([]Purpose, 0, len(seq.Children))}
	for _, c := range seq.Children {
		oid, err := der.OID(c.TLV)
		if err != nil {
			return nil, err
		}
		eku.Purposes = append(eku.Purposes, Purpose{OID: oid, Name: lookup(purposeNames, oid)})
	}
	return eku, nil
}

func decodeSubjectAltName(o Options, _ string, raw []byte) (ExtensionValue, error) {
	seq, err := single(o, raw, der.TagSequence)
	if err != nil {
		return nil, err
	}
	san := &SubjectAltName{Names: make([]GeneralName, 0, len(seq.Children))}
	for _, c := range seq.Children {
		if c.Tag.Class != der.ClassContextSpecific || c.Tag.Number > 8 {
			return nil, fmt.Errorf("%w: GeneralName with tag %s", ErrInvalidExtension, c.Tag)
		}
		gn := GeneralName{Tag: c.Tag.Number, Kind: generalNameKinds[c.Tag.Number]}
		switch c.Tag.Number {
		case 2, 6:
			if c.Tag.Constructed {
				return nil, fmt.Errorf("%w: constructed %s", ErrInvalidExtension, gn.Kind)
			}
			gn.Text = string(c.Value())
		default:
			gn.Raw = c.Value()
		}
		san.Names = append(san.Names, gn)
	}
	return san, nil
}

func decodeAuthorityKeyIdentifier(o Options, _ string, raw []byte) (ExtensionValue, error) {
	seq, err := single(o, raw, der.TagSequence)
	if err != nil {
		return nil, err
	}
	aki := &AuthorityKeyIdentifier{}
	for _, c := range seq.Children {
		switch c.Tag {
		case der.ContextTag(0, false):
			aki.KeyID = c.Value()
		case der.ContextTag(1, true):
			aki.HasIssuer = true
		case der.ContextTag(2, false):
			aki.Serial = c.Value()
		default:
			return nil, fmt.Errorf("%w: unexpected %s in authorityKeyIdentifier", ErrInvalidExtension, c.Tag)
		}
	}
	return aki, nil
}

func decodeSubjectKeyIdentifier(o Options, _ string, raw []byte) (ExtensionValue, error) {
	n, err := single(o, raw, der.TagOctetString)
	if err != nil {
		return nil, err
	}
	return &SubjectKeyIdentifier{KeyID: n.Value()}, nil
}

// IsUnknown reports whether v is the raw fallback variant.
func IsUnknown(v ExtensionValue) bool {
	_, ok := v.(*Unknown)
	return ok
}
