// Package aead provides the single AEAD cipher used to seal record payloads.
package aead

import (
	"crypto/cipher"

	"github.com/pkg/errors"

	"github.com/tidelock/recordseal"
	"github.com/tidelock/recordseal/internal"
)

type cryptoFunc func(key []byte) (cipher.AEAD, error)

// Encrypt encrypts data using the provided key bytes. A fresh random nonce is
// generated on every call and returned alongside the ciphertext; nonce reuse
// across calls would break the cipher's guarantees, so the nonce is never
// derived from the input.
func (c cryptoFunc) Encrypt(data, key []byte) (nonce, ciphertext []byte, err error) {
	aeadCipher, err := c(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = internal.GetRandBytes(aeadCipher.NonceSize())
	ciphertext = aeadCipher.Seal(nil, nonce, data, nil)

	return nonce, ciphertext, nil
}

// Decrypt authenticates and decrypts ciphertext using the provided key and
// nonce. Tag verification failure is reported as ErrDecryptAuthFailed.
func (c cryptoFunc) Decrypt(nonce, ciphertext, key []byte) ([]byte, error) {
	aeadCipher, err := c(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != aeadCipher.NonceSize() {
		return nil, errors.Wrapf(recordseal.ErrMalformedEnvelope, "nonce length %d", len(nonce))
	}

	if len(ciphertext) < aeadCipher.Overhead() {
		return nil, errors.Wrap(recordseal.ErrMalformedEnvelope, "ciphertext shorter than tag")
	}

	d, err := aeadCipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(recordseal.ErrDecryptAuthFailed, err.Error())
	}

	return d, nil
}
