package aead

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/tidelock/recordseal"
)

// aesGCMCipherFactory returns an AEAD cipher using AES/GCM.
func aesGCMCipherFactory(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// NewAES256GCM returns the logic required to encrypt data using AES-256-GCM,
// the single AEAD scheme written and accepted by the envelope format.
func NewAES256GCM() recordseal.AEAD {
	return cryptoFunc(aesGCMCipherFactory)
}
