// Package walk enumerates every node of a decoded artifact with its byte
// range, digests and a preview, and proves that the top-level byte ranges
// account for every input byte exactly once.
//
// A walk is a pure function of the decoded tree: walking the same tree twice
// yields identical reports. Map entries are visited integers first, then text
// keys by byte order, then any other key by its encoding.
package walk

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/kacy/appattest-decode/cbor"
	"github.com/kacy/appattest-decode/cert"
	"github.com/kacy/appattest-decode/cms"
	"github.com/kacy/appattest-decode/der"
	"github.com/kacy/appattest-decode/ios"
)

// Node kinds that are neither CBOR nor DER.
const KindRaw = "raw"

// maxDiagLength bounds the CBOR items rendered in diagnostic notation.
const maxDiagLength = 64

// Node is one enumerated item. Offset is relative to the start of the walked
// input.
type Node struct {
	Path    string `json:"path" yaml:"path"`
	Kind    string `json:"kind" yaml:"kind"`
	Offset  int    `json:"offset" yaml:"offset"`
	Length  int    `json:"length" yaml:"length"`
	SHA256  string `json:"sha256" yaml:"sha256"`
	Base64  string `json:"base64" yaml:"base64"`
	Preview string `json:"preview,omitempty" yaml:"preview,omitempty"`
	Diag    string `json:"diag,omitempty" yaml:"diag,omitempty"`
	Note    string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Field is a top-level accounted byte range. A scattered field, such as the
// CBOR framing of an attestation object, is a byte count rather than one
// contiguous range.
type Field struct {
	Name      string `json:"name" yaml:"name"`
	Offset    int    `json:"offset" yaml:"offset"`
	Length    int    `json:"length" yaml:"length"`
	Scattered bool   `json:"scattered,omitempty" yaml:"scattered,omitempty"`
}

// Proof is the accounting summary of a walk.
type Proof struct {
	InputLength    int      `json:"inputLength" yaml:"inputLength"`
	CBORNodes      int      `json:"cborNodes" yaml:"cborNodes"`
	TLVNodes       int      `json:"tlvNodes" yaml:"tlvNodes"`
	RawNodes       int      `json:"rawNodes" yaml:"rawNodes"`
	Fields         []Field  `json:"fields" yaml:"fields"`
	AccountedBytes int      `json:"accountedBytes" yaml:"accountedBytes"`
	Defects        []string `json:"defects" yaml:"defects"`
	Notes          []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// OK reports whether the walk found no accounting defect.
func (p *Proof) OK() bool {
	return len(p.Defects) == 0
}

// Report is the result of a walk.
type Report struct {
	InputLength int    `json:"inputLength" yaml:"inputLength"`
	InputSHA256 string `json:"inputSha256" yaml:"inputSha256"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Proof       Proof  `json:"proof" yaml:"proof"`
}

// Options configures a walk. The zero value uses defaults.
type Options struct {
	// MaxDepth bounds the DER parse of extension values.
	MaxDepth int
}

// Attestation walks a decoded attestation object with default options.
func Attestation(obj *ios.AttestationObject) *Report {
	return Options{}.Attestation(obj)
}

// Assertion walks a decoded assertion with default options.
func Assertion(a *ios.Assertion) *Report {
	return Options{}.Assertion(a)
}

// CBOR walks a decoded CBOR value with default options.
func CBOR(v cbor.Value) *Report {
	return Options{}.CBOR(v)
}

// Certificate walks a decoded certificate with default options.
func Certificate(c *cert.Certificate) *Report {
	return Options{}.Certificate(c)
}

// SignedData walks a decoded CMS envelope with default options.
func SignedData(sd *cms.SignedData) *Report {
	return Options{}.SignedData(sd)
}

// Attestation walks the object's CBOR tree and descends into authData, each
// x5c certificate and the receipt. The accounted fields are the CBOR framing
// (rawCBOR), authData.rawData, each x5c[i].rawDER, signature and
// receipt.rawData.
func (o Options) Attestation(obj *ios.AttestationObject) *Report {
	w := newWalker(o, obj.Raw, obj.Root.Offset)
	stmt := &obj.Statement

	inner := nested{
		obj.AuthDataItem: func(path string) { w.authData(path, obj.AuthData) },
	}
	for _, c := range stmt.Certificates {
		inner[c.Item] = func(path string) { w.certificate(path, c.Cert, c.Item.ContentOffset(), len(c.Item.Value)) }
	}
	if stmt.Signature != nil {
		inner[stmt.Signature] = func(string) {}
	}
	if r := stmt.Receipt; r != nil {
		inner[r.Item] = func(path string) { w.receipt(path, r) }
	}

	framing := 0
	w.cbor("", obj.Root, inner, &framing)

	w.scattered("rawCBOR", framing)
	w.field("authData.rawData", obj.AuthDataItem.ContentOffset(), len(obj.AuthDataItem.Value))
	for i, c := range stmt.Certificates {
		w.field(fmt.Sprintf("x5c[%d].rawDER", i), c.Item.ContentOffset(), len(c.Item.Value))
	}
	if stmt.Signature != nil {
		w.field("signature", stmt.Signature.ContentOffset(), len(stmt.Signature.Value))
	}
	if r := stmt.Receipt; r != nil {
		w.field("receipt.rawData", r.Item.ContentOffset(), len(r.Item.Value))
	}
	return w.report()
}

// Assertion walks an assertion. The accounted fields are rawCBOR,
// authenticatorData.rawData and signature.
func (o Options) Assertion(a *ios.Assertion) *Report {
	w := newWalker(o, a.Raw, a.Root.Offset)
	inner := nested{}
	var authItem, sigItem *cbor.Bytes
	if v, ok := a.Root.Text("authenticatorData"); ok {
		if b, ok := v.(*cbor.Bytes); ok {
			authItem = b
			inner[b] = func(path string) { w.authData(path, a.AuthenticatorData) }
		}
	}
	if v, ok := a.Root.Text("signature"); ok {
		if b, ok := v.(*cbor.Bytes); ok {
			sigItem = b
			inner[b] = func(string) {}
		}
	}

	framing := 0
	w.cbor("", a.Root, inner, &framing)

	w.scattered("rawCBOR", framing)
	if authItem != nil {
		w.field("authenticatorData.rawData", authItem.ContentOffset(), len(authItem.Value))
	}
	if sigItem != nil {
		w.field("signature", sigItem.ContentOffset(), len(sigItem.Value))
	}
	return w.report()
}

// CBOR walks v over its own encoding. Every byte is CBOR framing.
func (o Options) CBOR(v cbor.Value) *Report {
	s := v.Pos()
	w := newWalker(o, s.Raw(), s.Offset)
	framing := 0
	w.cbor("", v, nil, &framing)
	w.scattered("rawCBOR", framing)
	return w.report()
}

// Certificate walks c with named paths for the certificate fields and one
// path per extension, keyed by OID.
func (o Options) Certificate(c *cert.Certificate) *Report {
	w := newWalker(o, c.Raw, c.Tree.Offset)
	w.certificate("", c, c.Tree.Offset, len(c.Raw))
	w.field("rawDER", c.Tree.Offset, len(c.Raw))
	return w.report()
}

// SignedData walks the TLV tree of a CMS envelope.
func (o Options) SignedData(sd *cms.SignedData) *Report {
	w := newWalker(o, sd.Raw, sd.Tree.Offset)
	w.signedData("", sd, sd.Tree.Offset, len(sd.Raw))
	w.field("rawDER", sd.Tree.Offset, len(sd.Raw))
	return w.report()
}

// Preview renders b in hex. Anything longer than 48 bytes is shortened to
// its first 32 and last 16 bytes.
func Preview(b []byte) string {
	if len(b) <= 48 {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:32]) + "..." + hex.EncodeToString(b[len(b)-16:])
}

// nested maps byte strings whose content is walked by a dedicated decoder
// and accounted by its own field.
type nested map[*cbor.Bytes]func(path string)

type walker struct {
	opts  Options
	input []byte
	// base is the decoder offset of input[0].
	base  int
	nodes []Node
	seen  map[string]int
	proof Proof
}

func newWalker(o Options, input []byte, base int) *walker {
	return &walker{
		opts:  o,
		input: input,
		base:  base,
		seen:  make(map[string]int),
		proof: Proof{
			InputLength: len(input),
			Fields:      []Field{},
			Defects:     []string{},
		},
	}
}

func (w *walker) defect(format string, args ...any) {
	w.proof.Defects = append(w.proof.Defects, fmt.Sprintf(format, args...))
}

func displayPath(path string) string {
	if path == "" {
		return "."
	}
	return path
}

// unique makes repeated paths, such as duplicate map keys, distinct.
func (w *walker) unique(path string) string {
	p := displayPath(path)
	n := w.seen[p]
	w.seen[p] = n + 1
	if n == 0 {
		return p
	}
	return fmt.Sprintf("%s#%d", p, n+1)
}

func (w *walker) slice(path string, off, length int) ([]byte, bool) {
	rel := off - w.base
	if rel < 0 || length < 0 || rel > len(w.input)-length {
		w.defect("%s: range [%d, %d) outside input of %d bytes", path, rel, rel+length, len(w.input))
		return nil, false
	}
	return w.input[rel : rel+length], true
}

func (w *walker) node(path, kind string, off, length int) (Node, []byte) {
	n := Node{Path: w.unique(path), Kind: kind, Offset: off - w.base, Length: length}
	b, ok := w.slice(n.Path, off, length)
	if ok {
		sum := sha256.Sum256(b)
		n.SHA256 = hex.EncodeToString(sum[:])
		n.Base64 = base64.StdEncoding.EncodeToString(b)
	}
	return n, b
}

func (w *walker) raw(path string, off, length int, note string) {
	n, b := w.node(path, KindRaw, off, length)
	n.Preview = Preview(b)
	n.Note = note
	w.proof.RawNodes++
	w.nodes = append(w.nodes, n)
}

// tiles records a defect when a container's children do not cover its
// content exactly.
func (w *walker) tiles(path string, want, got int) {
	if want != got {
		w.defect("%s: children cover %d of %d bytes", displayPath(path), got, want)
	}
}

// covers records a defect when a decoded tree does not span the byte string
// it was decoded from.
func (w *walker) covers(path string, off, length, wantOff, wantLen int) {
	if off != wantOff || length != wantLen {
		w.defect("%s: decoded [%d, %d) but payload is [%d, %d)", displayPath(path),
			off-w.base, off-w.base+length, wantOff-w.base, wantOff-w.base+wantLen)
	}
}

func count(framing *int, n int) {
	if framing != nil {
		*framing += n
	}
}

func (w *walker) cbor(path string, v cbor.Value, inner nested, framing *int) {
	s := v.Pos()
	n, _ := w.node(path, "cbor."+v.Kind().String(), s.Offset, s.Length)
	if s.Length <= maxDiagLength {
		if d, err := cbor.Diagnose(v); err == nil {
			n.Diag = d
		}
	}
	w.proof.CBORNodes++

	switch x := v.(type) {
	case *cbor.Bytes:
		n.Preview = Preview(x.Value)
		w.nodes = append(w.nodes, n)
		if fn, ok := inner[x]; ok {
			count(framing, s.HeaderLen)
			fn(path)
			return
		}
		count(framing, s.Length)
	case *cbor.Array:
		w.nodes = append(w.nodes, n)
		count(framing, s.HeaderLen)
		covered := s.HeaderLen
		for i, item := range x.Items {
			w.cbor(fmt.Sprintf("%s[%d]", path, i), item, inner, framing)
			covered += item.Pos().Length
		}
		w.tiles(path, s.Length, covered)
	case *cbor.Map:
		w.nodes = append(w.nodes, n)
		count(framing, s.HeaderLen)
		covered := s.HeaderLen
		for _, e := range cbor.SortedEntries(x) {
			child := path + keySegment(e.Key)
			w.cbor(child+"@key", e.Key, inner, framing)
			w.cbor(child, e.Value, inner, framing)
			covered += e.Key.Pos().Length + e.Value.Pos().Length
		}
		w.tiles(path, s.Length, covered)
	case *cbor.Tag:
		w.nodes = append(w.nodes, n)
		count(framing, s.HeaderLen)
		w.cbor(fmt.Sprintf("%s<%d>", path, x.Number), x.Content, inner, framing)
		w.tiles(path, s.Length, s.HeaderLen+x.Content.Pos().Length)
	default:
		w.nodes = append(w.nodes, n)
		count(framing, s.Length)
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// keySegment renders a map key as a path segment: .name for identifier-like
// text, ["text"] for other text, [n] for integers.
func keySegment(k cbor.Value) string {
	if t, ok := k.(*cbor.Text); ok {
		if isIdentifier(t.Value) {
			return "." + t.Value
		}
		return "[" + strconv.Quote(t.Value) + "]"
	}
	return "[" + cbor.KeyString(k) + "]"
}

func size(n *der.Node) int {
	return n.HeaderLen + n.Length
}

// derNode emits n without its children.
func (w *walker) derNode(path string, n *der.Node) {
	out, _ := w.node(path, "der."+n.Tag.String(), n.Offset, size(n))
	if !n.Tag.Constructed {
		out.Preview = Preview(n.Value())
	}
	w.proof.TLVNodes++
	w.nodes = append(w.nodes, out)
}

func (w *walker) der(path string, n *der.Node) {
	w.derNode(path, n)
	if !n.Tag.Constructed {
		return
	}
	covered := 0
	for i, c := range n.Children {
		w.der(fmt.Sprintf("%s[%d]", path, i), c)
		covered += size(c)
	}
	w.tiles(path, n.Length, covered)
}

func (w *walker) authData(path string, ad *ios.AuthenticatorData) {
	off := ad.Offset
	w.raw(path+".rpIdHash", off, 32, "")
	w.raw(path+".flags", off+32, 1, ad.Flags.String())
	w.raw(path+".signCount", off+33, 4, strconv.FormatUint(uint64(ad.SignCount), 10))
	covered := 37

	if cred := ad.AttestedCredential; cred != nil {
		p := path + ".attestedCredential"
		w.raw(p+".aaguid", off+covered, 16, cred.Environment)
		w.raw(p+".credentialIdLength", off+covered+16, 2, strconv.Itoa(len(cred.CredentialID)))
		w.raw(p+".credentialId", cred.CredentialIDOffset, len(cred.CredentialID), "")
		w.cbor(p+".credentialPublicKey", cred.PublicKey, nil, nil)
		covered += 18 + len(cred.CredentialID) + cred.PublicKey.Pos().Length
	}
	if ad.Extensions != nil {
		w.cbor(path+".extensions", ad.Extensions, nil, nil)
		covered += ad.Extensions.Pos().Length
	}
	if len(ad.Trailing) > 0 {
		w.raw(path+".trailing", ad.TrailingOffset, len(ad.Trailing), "")
		covered += len(ad.Trailing)
	}
	if covered != len(ad.Raw) {
		w.defect("%s: sections cover %d of %d bytes", displayPath(path), covered, len(ad.Raw))
	}
}

var tbsFields = []string{"serialNumber", "signature", "issuer", "validity", "subject", "subjectPublicKeyInfo"}

func (w *walker) certificate(path string, c *cert.Certificate, wantOff, wantLen int) {
	root := c.Tree
	w.covers(path, root.Offset, size(root), wantOff, wantLen)
	if len(root.Children) != 3 || !root.Children[0].Tag.Constructed {
		w.der(path+".certificate", root)
		return
	}
	w.derNode(path+".certificate", root)
	tbs, alg, sig := root.Children[0], root.Children[1], root.Children[2]
	w.tiles(path+".certificate", root.Length, size(tbs)+size(alg)+size(sig))

	w.derNode(path+".tbsCertificate", tbs)
	covered, named := 0, 0
	for i, f := range tbs.Children {
		covered += size(f)
		switch {
		case i == 0 && f.Is(der.ContextTag(0, true)):
			w.der(path+".version", f)
		case named < len(tbsFields):
			w.der(path+"."+tbsFields[named], f)
			named++
		case f.Is(der.ContextTag(1, false)):
			w.der(path+".issuerUniqueID", f)
		case f.Is(der.ContextTag(2, false)):
			w.der(path+".subjectUniqueID", f)
		case f.Is(der.ContextTag(3, true)):
			w.extensions(path, f, c)
		default:
			w.der(fmt.Sprintf("%s.tbsCertificate[%d]", path, i), f)
		}
	}
	w.tiles(path+".tbsCertificate", tbs.Length, covered)

	w.der(path+".signatureAlgorithm", alg)
	w.der(path+".signatureValue", sig)
}

func (w *walker) extensions(path string, wrapper *der.Node, c *cert.Certificate) {
	p := path + ".extensions"
	if len(wrapper.Children) != 1 {
		w.der(p, wrapper)
		return
	}
	w.derNode(p, wrapper)
	list := wrapper.Children[0]
	w.tiles(p, wrapper.Length, size(list))
	w.derNode(p+".list", list)

	covered := 0
	for i, e := range list.Children {
		covered += size(e)
		if i >= len(c.Extensions) || c.Extensions[i].TLV.Offset != e.Offset {
			w.der(fmt.Sprintf("%s[%d]", p, i), e)
			continue
		}
		ext := c.Extensions[i]
		ep := fmt.Sprintf("%s[%s]", p, ext.OID)
		w.der(ep, e)
		w.extensionValue(ep, ext)
	}
	w.tiles(p+".list", list.Length, covered)
}

// extensionValue walks the DER inside extnValue. Values that are not a
// single DER element are left to the OCTET STRING node.
func (w *walker) extensionValue(path string, ext cert.Extension) {
	if len(ext.Raw) == 0 {
		return
	}
	inner, err := der.Options{MaxDepth: w.opts.MaxDepth, Base: ext.Offset}.Parse(ext.Raw)
	if err != nil {
		return
	}
	w.der(path+".value", inner)
}

func (w *walker) receipt(path string, r *ios.Receipt) {
	if r.SignedData == nil {
		w.proof.Notes = append(w.proof.Notes, fmt.Sprintf("%s: kept raw: %s", displayPath(path), r.Err))
		return
	}
	w.signedData(path, r.SignedData, r.Item.ContentOffset(), len(r.Item.Value))
}

func (w *walker) signedData(path string, sd *cms.SignedData, wantOff, wantLen int) {
	w.covers(path, sd.Tree.Offset, size(sd.Tree), wantOff, wantLen)
	w.der(path+".contentInfo", sd.Tree)
	if c := sd.Content; c.Present {
		w.raw(path+".eContent", c.Offset, len(c.Bytes), "format "+string(c.Format))
	}
}

// scattered adds a field that is a byte count rather than one range.
func (w *walker) scattered(name string, length int) {
	w.proof.Fields = append(w.proof.Fields, Field{Name: name, Length: length, Scattered: true})
}

func (w *walker) field(name string, off, length int) {
	w.proof.Fields = append(w.proof.Fields, Field{Name: name, Offset: off - w.base, Length: length})
}

func (w *walker) report() *Report {
	w.account()
	sum := sha256.Sum256(w.input)
	return &Report{
		InputLength: len(w.input),
		InputSHA256: hex.EncodeToString(sum[:]),
		Nodes:       w.nodes,
		Proof:       w.proof,
	}
}
