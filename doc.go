// Package attestation decodes Apple App Attest artifacts into structured,
// loss-free trees.
//
// An attestation object is CBOR carrying authenticator data, a chain of DER
// X.509 certificates and an optional CMS receipt. Every layer is decoded
// with absolute byte offsets into the original input, and the walker proves
// that every input byte is accounted for exactly once.
//
// Decoding is structural only: signatures, chains, nonces and counters are
// never checked. Inputs are treated as hostile; nesting depth and extension
// sizes are bounded and malformed input fails with an error that carries the
// offset of the fault.
//
// See: https://developer.apple.com/documentation/devicecheck/establishing_your_app_s_integrity
//
// # Basic Usage
//
//	decoder, err := attestation.NewDecoder(attestation.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	obj, err := decoder.DecodeAttestationObject(data)
//	if err != nil {
//	    if mf, ok := attestation.IsMissingField(err); ok {
//	        log.Printf("missing %s, keys present: %v", mf.Name, mf.Keys)
//	    }
//	    log.Fatal(err)
//	}
//
//	report := decoder.WalkLossless(obj)
//	if !report.Proof.OK() {
//	    log.Printf("accounting defects: %v", report.Proof.Defects)
//	}
//
// # Subpackages
//
// The library is organized into the following subpackages:
//
//   - der: DER TLV reader with absolute offsets
//   - cbor: CBOR decoder that keeps every item's byte range
//   - cose: COSE_Sign1 envelopes and COSE_Key summaries
//   - cert: X.509 certificates and extensions
//   - cms: CMS SignedData receipts and payload sniffing
//   - ios: attestation objects, assertions and authenticator data
//   - walk: lossless node enumeration, accounting proof and report diffs
package attestation
