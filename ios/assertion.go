package ios

import "github.com/kacy/appattest-decode/cbor"

// Assertion is a decoded assertion object.
type Assertion struct {
	Raw               []byte             `json:"-"`
	Root              *cbor.Map          `json:"-"`
	Signature         []byte             `json:"signature"`
	SignatureOffset   int                `json:"signatureOffset"`
	AuthenticatorData *AuthenticatorData `json:"authenticatorData"`
}

// DecodeAssertion decodes an assertion with default options.
func DecodeAssertion(data []byte) (*Assertion, error) {
	return Options{}.DecodeAssertion(data)
}

// DecodeAssertion decodes {signature, authenticatorData}. The
// authenticator data of an assertion normally carries no attested
// credential; if the AT flag is set it is decoded anyway.
func (o Options) DecodeAssertion(data []byte) (*Assertion, error) {
	root, err := o.decodeRootMap(data)
	if err != nil {
		return nil, err
	}
	sig, err := requireBytes(root, "signature")
	if err != nil {
		return nil, err
	}
	ad, err := requireBytes(root, "authenticatorData")
	if err != nil {
		return nil, err
	}

	authOpts := o
	authOpts.Base = ad.ContentOffset()
	parsed, err := authOpts.ParseAuthenticatorData(ad.Value)
	if err != nil {
		return nil, err
	}
	o.logger().Debug("decoded assertion", "length", len(data), "signCount", parsed.SignCount)
	return &Assertion{
		Raw:               data,
		Root:              root,
		Signature:         sig.Value,
		SignatureOffset:   sig.ContentOffset(),
		AuthenticatorData: parsed,
	}, nil
}
