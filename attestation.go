package attestation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/kacy/appattest-decode/cbor"
	"github.com/kacy/appattest-decode/cert"
	"github.com/kacy/appattest-decode/cms"
	"github.com/kacy/appattest-decode/cose"
	"github.com/kacy/appattest-decode/der"
	"github.com/kacy/appattest-decode/ios"
	"github.com/kacy/appattest-decode/walk"
)

// ErrInvalidConfig is returned by NewDecoder for out-of-range limits.
var ErrInvalidConfig = errors.New("invalid decoder config")

// Config holds configuration for the decoder. Zero values use defaults.
type Config struct {
	// MaxDepth bounds nesting of CBOR containers and DER constructed
	// elements (default: 12).
	MaxDepth int

	// MaxExtensionSize bounds extension values handed to typed decoders
	// (default: 10 MiB). Larger values are kept as unknown without their
	// bytes.
	MaxExtensionSize int

	// Logger receives debug records for decode calls and extension
	// fallbacks (default: slog.Default()).
	Logger *slog.Logger
}

// Decoder decodes App Attest artifacts and the formats nested in them.
type Decoder interface {
	// DecodeCBOR decodes a single CBOR data item.
	DecodeCBOR(data []byte) (cbor.Value, error)

	// DecodeCOSESign1 decodes a tagged or untagged COSE_Sign1 message.
	DecodeCOSESign1(data []byte) (*cose.Sign1, error)

	// ParseCertificate decodes a DER X.509 certificate.
	ParseCertificate(data []byte) (*cert.Certificate, error)

	// DecodeExtension decodes one extension value. It never fails; values
	// that cannot be decoded are returned as *cert.Unknown.
	DecodeExtension(oid string, raw []byte) cert.ExtensionValue

	// ParseCMSSignedData decodes a DER ContentInfo carrying SignedData.
	ParseCMSSignedData(data []byte) (*cms.SignedData, error)

	// DecodeAttestationObject decodes an attestation object together with
	// its authenticator data, certificates and receipt.
	DecodeAttestationObject(data []byte) (*ios.AttestationObject, error)

	// DecodeAttestationObjectBase64 is DecodeAttestationObject for
	// standard or URL-safe base64 input.
	DecodeAttestationObjectBase64(s string) (*ios.AttestationObject, error)

	// DecodeAssertion decodes an assertion object.
	DecodeAssertion(data []byte) (*ios.Assertion, error)

	// WalkLossless enumerates every node of a decoded attestation object
	// and accounts for every input byte.
	WalkLossless(obj *ios.AttestationObject) *walk.Report
}

type decoder struct {
	config Config
	logger *slog.Logger
	ios    ios.Options
}

// NewDecoder creates a new decoder.
func NewDecoder(cfg Config) (Decoder, error) {
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: MaxDepth %d", ErrInvalidConfig, cfg.MaxDepth)
	}
	if cfg.MaxExtensionSize < 0 {
		return nil, fmt.Errorf("%w: MaxExtensionSize %d", ErrInvalidConfig, cfg.MaxExtensionSize)
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = der.DefaultMaxDepth
	}
	if cfg.MaxExtensionSize == 0 {
		cfg.MaxExtensionSize = cert.DefaultMaxExtensionSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &decoder{
		config: cfg,
		logger: cfg.Logger,
		ios: ios.Options{
			MaxDepth:         cfg.MaxDepth,
			MaxExtensionSize: cfg.MaxExtensionSize,
			Logger:           cfg.Logger,
		},
	}, nil
}

func (d *decoder) certOptions() cert.Options {
	return cert.Options{
		MaxDepth:         d.config.MaxDepth,
		MaxExtensionSize: d.config.MaxExtensionSize,
		Logger:           d.logger,
	}
}

func (d *decoder) DecodeCBOR(data []byte) (cbor.Value, error) {
	v, err := cbor.Options{MaxDepth: d.config.MaxDepth}.Decode(data)
	if err != nil {
		d.logger.Debug("cbor decode failed", "length", len(data), "error", err)
		return nil, err
	}
	d.logger.Debug("decoded cbor", "length", len(data), "kind", v.Kind())
	return v, nil
}

func (d *decoder) DecodeCOSESign1(data []byte) (*cose.Sign1, error) {
	msg, err := cose.Options{MaxDepth: d.config.MaxDepth}.DecodeSign1(data)
	if err != nil {
		d.logger.Debug("cose decode failed", "length", len(data), "error", err)
		return nil, err
	}
	d.logger.Debug("decoded cose_sign1", "length", len(data), "tagged", msg.Tagged)
	return msg, nil
}

func (d *decoder) ParseCertificate(data []byte) (*cert.Certificate, error) {
	c, err := d.certOptions().Parse(data)
	if err != nil {
		d.logger.Debug("certificate parse failed", "length", len(data), "error", err)
		return nil, err
	}
	d.logger.Debug("parsed certificate", "length", len(data), "subject", c.Subject.String(), "extensions", len(c.Extensions))
	return c, nil
}

func (d *decoder) DecodeExtension(oid string, raw []byte) cert.ExtensionValue {
	return d.certOptions().DecodeExtension(oid, raw)
}

func (d *decoder) ParseCMSSignedData(data []byte) (*cms.SignedData, error) {
	sd, err := cms.Options{MaxDepth: d.config.MaxDepth, Cert: d.certOptions()}.Parse(data)
	if err != nil {
		d.logger.Debug("cms parse failed", "length", len(data), "error", err)
		return nil, err
	}
	d.logger.Debug("parsed cms signed data", "length", len(data), "certificates", len(sd.Certificates), "signers", sd.SignerCount())
	return sd, nil
}

func (d *decoder) DecodeAttestationObject(data []byte) (*ios.AttestationObject, error) {
	return d.ios.DecodeAttestationObject(data)
}

func (d *decoder) DecodeAttestationObjectBase64(s string) (*ios.AttestationObject, error) {
	return d.ios.DecodeAttestationObjectBase64(s)
}

func (d *decoder) DecodeAssertion(data []byte) (*ios.Assertion, error) {
	return d.ios.DecodeAssertion(data)
}

func (d *decoder) WalkLossless(obj *ios.AttestationObject) *walk.Report {
	r := walk.Options{MaxDepth: d.config.MaxDepth}.Attestation(obj)
	d.logger.Debug("walked attestation object",
		"length", r.InputLength,
		"cborNodes", r.Proof.CBORNodes,
		"tlvNodes", r.Proof.TLVNodes,
		"defects", len(r.Proof.Defects))
	return r
}

var (
	cborErrors = []error{cbor.ErrTruncated, cbor.ErrInvalidInitialByte, cbor.ErrUnsupportedType, cbor.ErrTrailingData, cbor.ErrMaxDepth}
	derErrors  = []error{
		der.ErrTruncated, der.ErrInvalidTag, der.ErrInvalidLength, der.ErrLengthOutOfBounds,
		der.ErrNonMinimalLength, der.ErrIndefiniteLength, der.ErrInvalidOID, der.ErrInvalidValue,
		der.ErrTrailingData, der.ErrMaxDepth,
	}
	coseErrors = []error{cose.ErrNotArray, cose.ErrWrongLength, cose.ErrInvalidElement}
	certErrors = []error{
		cert.ErrInvalidCertificate, cert.ErrUnsupportedVersion, cert.ErrUnsupportedAlgorithm,
		cert.ErrInvalidTimeEncoding, cert.ErrInvalidBitString, cert.ErrInvalidPublicKey, cert.ErrInvalidExtension,
	}
	cmsErrors = []error{cms.ErrInvalidContentInfo, cms.ErrNotSignedData, cms.ErrInvalidSignedData}
)

func isAny(err error, targets []error) bool {
	return err != nil && lo.ContainsBy(targets, func(target error) bool {
		return errors.Is(err, target)
	})
}

// IsCBORError reports whether err originates in the CBOR decoder.
func IsCBORError(err error) bool { return isAny(err, cborErrors) }

// IsDERError reports whether err originates in the DER reader. Certificate
// and CMS errors often wrap one.
func IsDERError(err error) bool { return isAny(err, derErrors) }

// IsCOSEError reports whether err is a COSE_Sign1 structure error.
func IsCOSEError(err error) bool { return isAny(err, coseErrors) }

// IsCertificateError reports whether err originates in the certificate
// decoder.
func IsCertificateError(err error) bool { return isAny(err, certErrors) }

// IsCMSError reports whether err originates in the CMS decoder.
func IsCMSError(err error) bool { return isAny(err, cmsErrors) }

// IsMissingField returns the missing-field detail carried by err, if any.
func IsMissingField(err error) (*ios.MissingFieldError, bool) {
	var mf *ios.MissingFieldError
	if errors.As(err, &mf) {
		return mf, true
	}
	return nil, false
}
