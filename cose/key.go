package cose

import (
	"fmt"

	_cbor "github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
)

// KeyInfo summarizes a COSE_Key map. It is a label for display, not a
// usable public key.
type KeyInfo struct {
	KeyType     int64  `json:"kty"`
	KeyTypeName string `json:"ktyName"`
	Algorithm   int64  `json:"alg,omitempty"`
	AlgName     string `json:"algName,omitempty"`
	Curve       int64  `json:"crv,omitempty"`
	CurveName   string `json:"crvName,omitempty"`
	X           []byte `json:"x,omitempty"`
	Y           []byte `json:"y,omitempty"`
	Params      int    `json:"params"`
}

var keyTypeNames = map[int64]string{
	iana.KeyTypeOKP:       "OKP",
	iana.KeyTypeEC2:       "EC2",
	iana.KeyTypeRSA:       "RSA",
	iana.KeyTypeSymmetric: "Symmetric",
}

var curveNames = map[int64]string{
	iana.EllipticCurveP_256:   "P-256",
	iana.EllipticCurveP_384:   "P-384",
	iana.EllipticCurveP_521:   "P-521",
	iana.EllipticCurveX25519:  "X25519",
	iana.EllipticCurveX448:    "X448",
	iana.EllipticCurveEd25519: "Ed25519",
	iana.EllipticCurveEd448:   "Ed448",
}

// DescribeKey decodes raw as a COSE_Key and summarizes its type, algorithm
// and curve parameters.
func DescribeKey(raw []byte) (*KeyInfo, error) {
	var k key.Key
	if err := _cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("cose: COSE_Key: %w", err)
	}

	if !k.Has(iana.KeyParameterKty) {
		return nil, fmt.Errorf("cose: COSE_Key without kty")
	}
	kty, err := k.GetInt64(iana.KeyParameterKty)
	if err != nil {
		return nil, fmt.Errorf("cose: COSE_Key kty: %w", err)
	}
	info := &KeyInfo{
		KeyType:     kty,
		KeyTypeName: nameOr(keyTypeNames, kty),
		Params:      len(k),
	}
	if alg, ok := intParam(k, iana.KeyParameterAlg); ok {
		info.Algorithm = alg
		info.AlgName = AlgorithmName(alg)
	}
	if kty == iana.KeyTypeEC2 || kty == iana.KeyTypeOKP {
		if crv, ok := intParam(k, iana.EC2KeyParameterCrv); ok {
			info.Curve = crv
			info.CurveName = nameOr(curveNames, crv)
		}
		info.X = bytesParam(k, iana.EC2KeyParameterX)
		info.Y = bytesParam(k, iana.EC2KeyParameterY)
	}
	return info, nil
}

// intParam reads an optional integer parameter. Values of the wrong type
// are skipped.
func intParam(k key.Key, label int) (int64, bool) {
	if !k.Has(label) {
		return 0, false
	}
	v, err := k.GetInt64(label)
	return v, err == nil
}

func bytesParam(k key.Key, label int) []byte {
	b, err := k.GetBytes(label)
	if err != nil {
		return nil
	}
	return b
}

func nameOr(names map[int64]string, v int64) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("unassigned(%d)", v)
}
