package recordseal

import "github.com/pkg/errors"

// Sentinel errors raised by the codec, the key derivation module, and the mode
// policy. Callers discriminate with errors.Is; wrapped variants preserve the
// sentinel as their cause.
var (
	// ErrMalformedEnvelope indicates structural validation failed. No
	// cryptographic operation is ever attempted on such input.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecryptAuthFailed indicates authentication tag verification failed:
	// wrong key, or tampered/corrupted ciphertext. Plaintext is never
	// returned in this case, partially or otherwise.
	ErrDecryptAuthFailed = errors.New("decrypt authentication failed")

	// ErrNoKeyAvailable indicates an encrypt or decrypt was attempted while
	// no key is loaded in the session.
	ErrNoKeyAvailable = errors.New("no key available")

	// ErrMissingKDFParams indicates an envelope or configuration omits
	// required key derivation parameters.
	ErrMissingKDFParams = errors.New("missing kdf parameters")

	// ErrInvalidMode indicates an unsupported mode in configuration or in a
	// stored envelope.
	ErrInvalidMode = errors.New("invalid mode")
)
