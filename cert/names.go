package cert

import "strings"

// Static lookup tables. They are read-only after init and safe to share.

var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.4":                    "SN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "street",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"2.5.4.12":                   "title",
	"2.5.4.42":                   "GN",
	"2.5.4.43":                   "initials",
	"2.5.4.46":                   "dnQualifier",
	"2.5.4.65":                   "pseudonym",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
	"1.2.840.113549.1.9.1":       "emailAddress",
}

var algorithmNames = map[string]string{
	"1.2.840.10045.2.1":      "ecPublicKey",
	"1.2.840.10045.4.3.1":    "ecdsa-with-SHA224",
	"1.2.840.10045.4.3.2":    "ecdsa-with-SHA256",
	"1.2.840.10045.4.3.3":    "ecdsa-with-SHA384",
	"1.2.840.10045.4.3.4":    "ecdsa-with-SHA512",
	"1.2.840.113549.1.1.1":   "rsaEncryption",
	"1.2.840.113549.1.1.5":   "sha1WithRSAEncryption",
	"1.2.840.113549.1.1.10":  "rsassa-pss",
	"1.2.840.113549.1.1.11":  "sha256WithRSAEncryption",
	"1.2.840.113549.1.1.12":  "sha384WithRSAEncryption",
	"1.2.840.113549.1.1.13":  "sha512WithRSAEncryption",
	"1.3.101.112":            "ed25519",
	"1.3.101.110":            "x25519",
	"1.3.14.3.2.26":          "sha1",
	"2.16.840.1.101.3.4.2.1": "sha256",
	"2.16.840.1.101.3.4.2.2": "sha384",
	"2.16.840.1.101.3.4.2.3": "sha512",
}

// curve parameters: name and field size in bytes.
type curveInfo struct {
	name string
	size int
}

var curves = map[string]curveInfo{
	"1.2.840.10045.3.1.7": {"P-256", 32},
	"1.3.132.0.34":        {"P-384", 48},
	"1.3.132.0.35":        {"P-521", 66},
	"1.3.132.0.10":        {"secp256k1", 32},
}

// Extension OIDs.
const (
	OIDSubjectKeyIdentifier   = "2.5.29.14"
	OIDKeyUsage               = "2.5.29.15"
	OIDSubjectAltName         = "2.5.29.17"
	OIDBasicConstraints       = "2.5.29.19"
	OIDCRLDistributionPoints  = "2.5.29.31"
	OIDCertificatePolicies    = "2.5.29.32"
	OIDAuthorityKeyIdentifier = "2.5.29.35"
	OIDExtendedKeyUsage       = "2.5.29.37"
	OIDAuthorityInfoAccess    = "1.3.6.1.5.5.7.1.1"

	// OIDAppleAttestationNonce carries the App Attest nonce in the
	// credential certificate.
	OIDAppleAttestationNonce = "1.2.840.113635.100.8.2"
	// AppleOIDPrefix covers Apple's private certificate extensions.
	AppleOIDPrefix = "1.2.840.113635.100"
)

var extensionNames = map[string]string{
	OIDSubjectKeyIdentifier:   "subjectKeyIdentifier",
	OIDKeyUsage:               "keyUsage",
	OIDSubjectAltName:         "subjectAltName",
	OIDBasicConstraints:       "basicConstraints",
	OIDCRLDistributionPoints:  "cRLDistributionPoints",
	OIDCertificatePolicies:    "certificatePolicies",
	OIDAuthorityKeyIdentifier: "authorityKeyIdentifier",
	OIDExtendedKeyUsage:       "extKeyUsage",
	OIDAuthorityInfoAccess:    "authorityInfoAccess",
	OIDAppleAttestationNonce:  "appleAttestationNonce",
}

var purposeNames = map[string]string{
	"2.5.29.37.0":       "anyExtendedKeyUsage",
	"1.3.6.1.5.5.7.3.1": "serverAuth",
	"1.3.6.1.5.5.7.3.2": "clientAuth",
	"1.3.6.1.5.5.7.3.3": "codeSigning",
	"1.3.6.1.5.5.7.3.4": "emailProtection",
	"1.3.6.1.5.5.7.3.5": "ipsecEndSystem",
	"1.3.6.1.5.5.7.3.6": "ipsecTunnel",
	"1.3.6.1.5.5.7.3.7": "ipsecUser",
	"1.3.6.1.5.5.7.3.8": "timeStamping",
	"1.3.6.1.5.5.7.3.9": "OCSPSigning",
}

// keyUsageNames are the KeyUsage bits in RFC 5280 order.
var keyUsageNames = [...]string{
	"digitalSignature",
	"nonRepudiation",
	"keyEncipherment",
	"dataEncipherment",
	"keyAgreement",
	"keyCertSign",
	"cRLSign",
	"encipherOnly",
	"decipherOnly",
}

var generalNameKinds = map[uint32]string{
	0: "otherName",
	1: "rfc822Name",
	2: "dNSName",
	3: "x400Address",
	4: "directoryName",
	5: "ediPartyName",
	6: "uniformResourceIdentifier",
	7: "iPAddress",
	8: "registeredID",
}

func lookup(table map[string]string, oid string) string {
	if name, ok := table[oid]; ok {
		return name
	}
	return oid
}

// AttributeName returns the short name of a DN attribute, or the dotted
// OID when it is not in the table.
func AttributeName(oid string) string {
	return lookup(attributeNames, oid)
}

// AlgorithmName returns the name of a signature or key algorithm OID.
func AlgorithmName(oid string) string {
	return lookup(algorithmNames, oid)
}

// ExtensionName returns the name of an extension OID. Apple private
// extensions without a specific entry are named "applePrivate".
func ExtensionName(oid string) string {
	if name, ok := extensionNames[oid]; ok {
		return name
	}
	if IsApple(oid) {
		return "applePrivate"
	}
	return oid
}

// IsApple reports whether oid is under Apple's private extension arc.
func IsApple(oid string) bool {
	return oid == AppleOIDPrefix || strings.HasPrefix(oid, AppleOIDPrefix+".")
}
