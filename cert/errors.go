package cert

import "errors"

var (
	ErrInvalidCertificate   = errors.New("cert: invalid certificate")
	ErrUnsupportedVersion   = errors.New("cert: unsupported certificate version")
	ErrUnsupportedAlgorithm = errors.New("cert: unsupported algorithm")
	ErrInvalidTimeEncoding  = errors.New("cert: invalid time encoding")
	ErrInvalidBitString     = errors.New("cert: invalid bit string")
	ErrInvalidPublicKey     = errors.New("cert: invalid public key")
	ErrInvalidExtension     = errors.New("cert: invalid extension")
)
