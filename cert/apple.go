package cert

import (
	"encoding/hex"
	"fmt"

	"github.com/kacy/appattest-decode/der"
)

// AppleField is one element of an Apple private extension. Tag is the
// context tag number, or -1 for an untagged element.
type AppleField struct {
	Tag   int64  `json:"tag"`
	Type  string `json:"type"`
	Value string `json:"value"`
	Raw   []byte `json:"raw"`
}

// AppleExtension is a best-effort view of an extension under Apple's
// private arc. The layouts are undocumented and may change between OS
// releases, so the result is always marked Unstable.
type AppleExtension struct {
	OID      string       `json:"oid"`
	Name     string       `json:"name"`
	Unstable bool         `json:"unstable"`
	Fields   []AppleField `json:"fields"`
	// Nonce is the App Attest nonce, set only for the nonce extension.
	Nonce []byte `json:"nonce,omitempty"`
}

func (*AppleExtension) Kind() string { return "apple" }

func decodeApple(o Options, oid string, raw []byte) (ExtensionValue, error) {
	root, err := o.treeOptions(o.Base).Parse(raw)
	if err != nil {
		return nil, err
	}
	ext := &AppleExtension{OID: oid, Name: ExtensionName(oid), Unstable: true}

	elems := []*der.Node{root}
	if root.Is(der.TagSequence) || root.Is(der.TagSet) {
		elems = root.Children
	}
	for _, e := range elems {
		ext.Fields = append(ext.Fields, appleField(e))
	}

	if oid == OIDAppleAttestationNonce {
		nonce, err := appleNonce(root)
		if err != nil {
			return nil, err
		}
		ext.Nonce = nonce
	}
	return ext, nil
}

// appleNonce extracts SEQUENCE { [1] EXPLICIT OCTET STRING }.
func appleNonce(root *der.Node) ([]byte, error) {
	if !root.Is(der.TagSequence) {
		return nil, fmt.Errorf("%w: nonce extension is %s", ErrInvalidExtension, root.Tag)
	}
	for _, c := range root.Children {
		if c.Is(der.ContextTag(1, true)) && len(c.Children) == 1 && c.Children[0].Is(der.TagOctetString) {
			return c.Children[0].Value(), nil
		}
	}
	return nil, fmt.Errorf("%w: nonce extension without [1] OCTET STRING", ErrInvalidExtension)
}

func appleField(n *der.Node) AppleField {
	f := AppleField{Tag: -1, Raw: n.Bytes()}
	inner := n
	if n.Tag.Class == der.ClassContextSpecific {
		f.Tag = int64(n.Tag.Number)
		if n.Tag.Constructed && len(n.Children) == 1 {
			inner = n.Children[0]
		}
	}
	f.Type = inner.Tag.String()
	f.Value = renderPrimitive(inner)
	return f
}

// renderPrimitive gives a short text form of a primitive element.
func renderPrimitive(n *der.Node) string {
	switch {
	case der.IsString(n.Tag):
		if s, err := der.String(n.TLV); err == nil {
			return s
		}
	case n.Is(der.TagInteger):
		if v, err := der.BigInt(n.TLV); err == nil {
			return v.String()
		}
	case n.Is(der.TagBoolean):
		if v, err := der.Bool(n.TLV); err == nil {
			return fmt.Sprint(v)
		}
	case n.Is(der.TagOID):
		if v, err := der.OID(n.TLV); err == nil {
			return v
		}
	}
	return hex.EncodeToString(n.Value())
}
