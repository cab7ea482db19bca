package ios

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kacy/appattest-decode/cbor"
	"github.com/kacy/appattest-decode/cose"
)

// AuthenticatorFlags is the flags byte of authenticator data.
type AuthenticatorFlags uint8

const (
	FlagUserPresent            AuthenticatorFlags = 0x01
	FlagUserVerified           AuthenticatorFlags = 0x04
	FlagBackupEligible         AuthenticatorFlags = 0x08
	FlagBackupState            AuthenticatorFlags = 0x10
	FlagAttestedCredentialData AuthenticatorFlags = 0x40
	FlagExtensionData          AuthenticatorFlags = 0x80
)

var flagNames = []struct {
	flag AuthenticatorFlags
	name string
}{
	{FlagUserPresent, "UP"},
	{FlagUserVerified, "UV"},
	{FlagBackupEligible, "BE"},
	{FlagBackupState, "BS"},
	{FlagAttestedCredentialData, "AT"},
	{FlagExtensionData, "ED"},
}

func (f AuthenticatorFlags) Has(flag AuthenticatorFlags) bool { return f&flag == flag }

func (f AuthenticatorFlags) UserPresent() bool     { return f.Has(FlagUserPresent) }
func (f AuthenticatorFlags) UserVerified() bool    { return f.Has(FlagUserVerified) }
func (f AuthenticatorFlags) BackupEligible() bool  { return f.Has(FlagBackupEligible) }
func (f AuthenticatorFlags) BackupState() bool     { return f.Has(FlagBackupState) }
func (f AuthenticatorFlags) HasAttestedData() bool { return f.Has(FlagAttestedCredentialData) }
func (f AuthenticatorFlags) HasExtensions() bool   { return f.Has(FlagExtensionData) }

// String lists the set flags, e.g. "UP|AT". Reserved bits are shown in hex.
func (f AuthenticatorFlags) String() string {
	var parts []string
	known := AuthenticatorFlags(0)
	for _, fn := range flagNames {
		known |= fn.flag
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ known; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Environment labels derived from the AAGUID.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
	EnvironmentUnknown     = "unknown"
)

var (
	aaguidProduction  = [16]byte{'a', 'p', 'p', 'a', 't', 't', 'e', 's', 't'}
	aaguidDevelopment = [16]byte{'a', 'p', 'p', 'a', 't', 't', 'e', 's', 't', 'd', 'e', 'v', 'e', 'l', 'o', 'p'}
)

// Environment returns the App Attest environment an AAGUID names.
func Environment(aaguid uuid.UUID) string {
	switch [16]byte(aaguid) {
	case aaguidProduction:
		return EnvironmentProduction
	case aaguidDevelopment:
		return EnvironmentDevelopment
	}
	return EnvironmentUnknown
}

// minAuthDataLen is rpIdHash, flags and signCount.
const minAuthDataLen = 32 + 1 + 4

// AttestedCredentialData is present when the AT flag is set.
type AttestedCredentialData struct {
	AAGUID       uuid.UUID `json:"aaguid"`
	Environment  string    `json:"environment"`
	CredentialID []byte    `json:"credentialId"`
	// CredentialIDOffset is the absolute offset of CredentialID.
	CredentialIDOffset int `json:"credentialIdOffset"`
	// PublicKey is the COSE_Key exactly as encoded.
	PublicKey cbor.Value `json:"-"`
	// Key summarizes PublicKey. It is nil when PublicKey is not a
	// recognizable COSE_Key.
	Key *cose.KeyInfo `json:"key,omitempty"`
}

// AuthenticatorData is the WebAuthn authenticator data layout.
type AuthenticatorData struct {
	Raw []byte `json:"-"`
	// Offset is the absolute offset of Raw.
	Offset    int                `json:"offset"`
	RPIDHash  []byte             `json:"rpIdHash"`
	Flags     AuthenticatorFlags `json:"flags"`
	SignCount uint32             `json:"signCount"`

	AttestedCredential *AttestedCredentialData `json:"attestedCredential,omitempty"`
	// Extensions is the CBOR value following the credential when the ED
	// flag is set.
	Extensions cbor.Value `json:"-"`

	// Trailing holds bytes left after every announced section.
	Trailing       []byte `json:"trailing,omitempty"`
	TrailingOffset int    `json:"trailingOffset,omitempty"`
}

// ParseAuthenticatorData decodes authenticator data with default options.
func ParseAuthenticatorData(data []byte) (*AuthenticatorData, error) {
	return Options{}.ParseAuthenticatorData(data)
}

// ParseAuthenticatorData decodes the fixed 37-byte prefix and the
// sections announced by the flags. Offsets are reported relative to
// data plus o.Base.
func (o Options) ParseAuthenticatorData(data []byte) (*AuthenticatorData, error) {
	if len(data) < minAuthDataLen {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, need %d", ErrAuthDataTruncated, len(data), o.Base, minAuthDataLen)
	}
	ad := &AuthenticatorData{
		Raw:       data,
		Offset:    o.Base,
		RPIDHash:  data[:32],
		Flags:     AuthenticatorFlags(data[32]),
		SignCount: binary.BigEndian.Uint32(data[33:37]),
	}
	pos := minAuthDataLen

	if ad.Flags.HasAttestedData() {
		cred, n, err := o.parseAttestedCredential(data[pos:], o.Base+pos)
		if err != nil {
			return nil, err
		}
		ad.AttestedCredential = cred
		pos += n
	}

	if ad.Flags.HasExtensions() {
		if pos == len(data) {
			return nil, fmt.Errorf("%w: extension data flagged but absent at offset %d", ErrAuthDataTruncated, o.Base+pos)
		}
		ext, n, err := o.cborOptions(o.Base + pos).DecodeFirst(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("ios: authenticator extensions: %w", err)
		}
		ad.Extensions = ext
		pos += n
	}

	if pos < len(data) {
		ad.Trailing = data[pos:]
		ad.TrailingOffset = o.Base + pos
		o.logger().Debug("authenticator data has trailing bytes", "offset", ad.TrailingOffset, "length", len(ad.Trailing))
	}
	return ad, nil
}

func (o Options) parseAttestedCredential(data []byte, base int) (*AttestedCredentialData, int, error) {
	const fixed = 16 + 2
	if len(data) < fixed {
		return nil, 0, fmt.Errorf("%w: attested credential data at offset %d: %d bytes, need %d",
			ErrAuthDataTruncated, base, len(data), fixed)
	}
	aaguid, err := uuid.FromBytes(data[:16])
	if err != nil {
		return nil, 0, fmt.Errorf("ios: aaguid: %w", err)
	}
	idLen := int(binary.BigEndian.Uint16(data[16:18]))
	if len(data)-fixed < idLen {
		return nil, 0, fmt.Errorf("%w: credentialId at offset %d: need %d bytes, %d remaining",
			ErrAuthDataTruncated, base+fixed, idLen, len(data)-fixed)
	}
	pos := fixed + idLen
	cred := &AttestedCredentialData{
		AAGUID:             aaguid,
		Environment:        Environment(aaguid),
		CredentialID:       data[fixed:pos],
		CredentialIDOffset: base + fixed,
	}

	if pos == len(data) {
		return nil, 0, fmt.Errorf("%w: credentialPublicKey absent at offset %d", ErrAuthDataTruncated, base+pos)
	}
	key, n, err := o.cborOptions(base + pos).DecodeFirst(data[pos:])
	if err != nil {
		return nil, 0, fmt.Errorf("ios: credentialPublicKey: %w", err)
	}
	cred.PublicKey = key
	if info, err := cose.DescribeKey(key.Pos().Raw()); err == nil {
		cred.Key = info
	} else {
		o.logger().Debug("credential public key is not a COSE_Key", "error", err)
	}
	return cred, pos + n, nil
}
