// Package kdf derives session keys from passphrases using a memory-hard
// derivation function. Derivation is deterministic: the same passphrase, salt
// and parameters always yield the same key, which is what keeps previously
// encrypted records decryptable across restarts.
package kdf

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

// Algorithm is the derivation algorithm identifier recorded in envelope
// kdfParams.
const Algorithm = "argon2id"

const (
	// SaltSize is the size of the per-installation salt.
	SaltSize = 32
	// KeySize is the size of the derived key.
	KeySize = 32
)

// Params are the explicit cost parameters for a derivation. They are stored
// alongside every prod-enc envelope so a record encrypted under one cost
// profile remains decryptable even if the defaults change later.
type Params struct {
	Time        uint32
	Memory      uint32
	Parallelism uint8
}

// DefaultParams returns the cost profile used for newly encrypted records.
func DefaultParams() Params {
	return Params{
		Time:        3,
		Memory:      64 * 1024, // KiB
		Parallelism: 4,
	}
}

// valid reports whether all cost parameters are explicit and non-zero.
func (p Params) valid() bool {
	return p.Time > 0 && p.Memory > 0 && p.Parallelism > 0
}

// DeriveKey derives a KeySize-byte key from passphrase and salt under the
// given cost parameters. The caller owns the returned slice and is
// responsible for wiping it once the key has been moved into secure memory.
func DeriveKey(passphrase, salt []byte, p Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("kdf: empty passphrase")
	}

	if len(salt) == 0 {
		return nil, errors.New("kdf: empty salt")
	}

	if !p.valid() {
		return nil, errors.New("kdf: incomplete cost parameters")
	}

	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Parallelism, KeySize), nil
}
