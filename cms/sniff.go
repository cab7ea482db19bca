package cms

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	_cbor "github.com/fxamacker/cbor/v2"

	"github.com/kacy/appattest-decode/der"
)

// Format labels the payload of an envelope. It is a guess from the leading
// bytes and overall shape; nothing is decoded.
type Format string

const (
	FormatEmpty  Format = "empty"
	FormatASN1   Format = "asn1"
	FormatPlist  Format = "plist"
	FormatUTF8   Format = "utf8"
	FormatCBOR   Format = "cbor"
	FormatBinary Format = "binary"
)

var (
	bplistMagic = []byte("bplist")
	xmlMagic    = []byte("<?xml")
	plistTag    = []byte("<plist")
)

// Sniff labels b. A single DER element spanning all of b is asn1; property
// lists are recognized by their magic; printable UTF-8 text is utf8; a
// well-formed CBOR item is cbor; anything else is binary.
func Sniff(b []byte) Format {
	switch {
	case len(b) == 0:
		return FormatEmpty
	case isDER(b):
		return FormatASN1
	case bytes.HasPrefix(b, bplistMagic),
		bytes.HasPrefix(b, xmlMagic) && bytes.Contains(b, plistTag):
		return FormatPlist
	case isText(b):
		return FormatUTF8
	case _cbor.Wellformed(b) == nil:
		return FormatCBOR
	}
	return FormatBinary
}

func isDER(b []byte) bool {
	if b[0] != 0x30 && b[0] != 0x31 {
		return false
	}
	_, err := der.ParseSingle(b, 0)
	return err == nil
}

func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
