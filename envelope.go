package recordseal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// EnvelopeVersion is the current envelope generation. Readers reject any
// other value.
const EnvelopeVersion = 1

// AlgAES256GCM is the single supported AEAD algorithm identifier. No
// alternate algorithms are ever written or accepted.
const AlgAES256GCM = "AES-256-GCM"

// NonceSize is the nonce size required by the supported AEAD scheme.
const NonceSize = 12

// Mode governs whether and how a record is encrypted.
type Mode string

const (
	// ModePlain stores records unencrypted, wrapped in a versioned envelope
	// for format uniformity. Permitted only outside production.
	ModePlain Mode = "plain"
	// ModeDevEnc encrypts records under a fixed development secret.
	ModeDevEnc Mode = "dev-enc"
	// ModeProdEnc encrypts records under a passphrase-derived key.
	ModeProdEnc Mode = "prod-enc"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePlain, ModeDevEnc, ModeProdEnc:
		return true
	}

	return false
}

// Encrypted reports whether m requires a key.
func (m Mode) Encrypted() bool {
	return m == ModeDevEnc || m == ModeProdEnc
}

// Bytes is a byte slice carried in the envelope wire format. It marshals as a
// URL-safe, unpadded base64 string.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}

	*b = decoded

	return nil
}

// KDFParams records the derivation parameters an envelope's key was derived
// under, so a record encrypted under one cost profile remains decryptable
// even if defaults change later. Present only in prod-enc envelopes.
type KDFParams struct {
	Algorithm   string `json:"algorithm"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	Salt        Bytes  `json:"salt"`
}

// complete reports whether all derivation parameters are present together.
func (p *KDFParams) complete() bool {
	return p != nil &&
		p.Algorithm != "" &&
		p.Time > 0 &&
		p.Memory > 0 &&
		p.Parallelism > 0 &&
		len(p.Salt) > 0
}

// Meta is the small set of non-sensitive identifiers duplicated in cleartext
// at the store layer. Inside the envelope it serves diagnostics, not trust.
type Meta struct {
	ID        string `json:"id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Envelope is the versioned wire structure wrapping a stored record's
// payload, whether sealed or intentionally plaintext. Envelopes are always
// replaced wholesale on write, never patched in place: AEAD ciphertext cannot
// be partially mutated safely.
type Envelope struct {
	Version    int        `json:"version"`
	Mode       Mode       `json:"mode"`
	Algorithm  string     `json:"algorithm"`
	KDF        *KDFParams `json:"kdfParams,omitempty"`
	Nonce      Bytes      `json:"nonce,omitempty"`
	Ciphertext Bytes      `json:"ciphertext,omitempty"`
	Payload    Bytes      `json:"plaintextPayload,omitempty"`
	Timestamp  int64      `json:"timestamp"`
	Meta       *Meta      `json:"meta,omitempty"`
}

// Sealed reports whether the envelope carries encrypted content.
func (e *Envelope) Sealed() bool {
	return e.Mode.Encrypted()
}

// Validate checks the envelope's structure against its declared mode. It is
// pure and has no side effects; it must pass before any cryptographic
// operation is attempted on the envelope.
func (e *Envelope) Validate() error {
	if e == nil {
		return errors.Wrap(ErrMalformedEnvelope, "nil envelope")
	}

	if e.Version != EnvelopeVersion {
		return errors.Wrapf(ErrMalformedEnvelope, "unsupported version %d", e.Version)
	}

	if !e.Mode.Valid() {
		return errors.Wrapf(ErrInvalidMode, "unknown mode %q", e.Mode)
	}

	if e.Algorithm != AlgAES256GCM {
		return errors.Wrapf(ErrMalformedEnvelope, "unsupported algorithm %q", e.Algorithm)
	}

	if e.Timestamp <= 0 {
		return errors.Wrap(ErrMalformedEnvelope, "missing timestamp")
	}

	switch e.Mode {
	case ModePlain:
		if len(e.Payload) == 0 {
			return errors.Wrap(ErrMalformedEnvelope, "plain envelope missing payload")
		}

		if len(e.Nonce) != 0 || len(e.Ciphertext) != 0 {
			return errors.Wrap(ErrMalformedEnvelope, "plain envelope carries ciphertext")
		}

		if e.KDF != nil {
			return errors.Wrap(ErrMalformedEnvelope, "plain envelope carries kdf parameters")
		}
	case ModeDevEnc:
		if err := e.validateSealed(); err != nil {
			return err
		}

		if e.KDF != nil {
			return errors.Wrap(ErrMalformedEnvelope, "dev-enc envelope carries kdf parameters")
		}
	case ModeProdEnc:
		if err := e.validateSealed(); err != nil {
			return err
		}

		if !e.KDF.complete() {
			return errors.Wrap(ErrMissingKDFParams, "prod-enc envelope")
		}
	}

	return nil
}

func (e *Envelope) validateSealed() error {
	if len(e.Payload) != 0 {
		return errors.Wrap(ErrMalformedEnvelope, "sealed envelope carries plaintext payload")
	}

	if len(e.Nonce) != NonceSize {
		return errors.Wrapf(ErrMalformedEnvelope, "nonce must be %d bytes", NonceSize)
	}

	if len(e.Ciphertext) == 0 {
		return errors.Wrap(ErrMalformedEnvelope, "sealed envelope missing ciphertext")
	}

	return nil
}

// IsWellFormed reports whether candidate is a structurally valid envelope of
// the current generation. Any other shape, including unknown fields standing
// in for required ones, returns false. Callers must treat false as "not an
// envelope, or unknown format" rather than attempting a graceful decode.
func IsWellFormed(candidate []byte) bool {
	var e Envelope

	dec := json.NewDecoder(bytes.NewReader(candidate))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&e); err != nil {
		return false
	}

	// Trailing data after the envelope object is not an envelope.
	if dec.More() {
		return false
	}

	return e.Validate() == nil
}
