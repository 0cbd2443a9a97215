// Package recordseal implements the encrypted envelope storage layer for a
// per-record document store. Records are sealed into versioned envelopes by an
// AEAD codec before they reach the underlying store, and unsealed on the way
// back out, while a small set of meta fields stays in cleartext so the store's
// indexing keeps working without decrypting every row.
//
// Your main interaction with the library is a Session, opened once per
// authenticated run and closed on logout, and a Store wrapping your
// RecordStore implementation. The key derived for a Session lives only in
// memory and is wiped when the Session is closed.
package recordseal

import "context"

// AEAD contains the functions required to encrypt and decrypt data using the
// single supported cipher. The nonce is produced by Encrypt and carried
// separately from the ciphertext.
type AEAD interface {
	// Encrypt encrypts data using the provided key bytes and returns the
	// freshly generated nonce along with the ciphertext (tag included).
	Encrypt(data, key []byte) (nonce, ciphertext []byte, err error)
	// Decrypt authenticates and decrypts ciphertext using the provided key
	// and nonce.
	Decrypt(nonce, ciphertext, key []byte) ([]byte, error)
}

// RecordStore declares the behavior required of the underlying per-key-value
// record store. Implementations own query/indexing; recordseal only requires
// point reads, writes, per-kind iteration, and an atomic bulk write.
type RecordStore interface {
	// Get returns the stored value for (kind, id), or nil if not present.
	Get(ctx context.Context, kind, id string) ([]byte, error)
	// Put stores value under (kind, id), replacing any previous value.
	Put(ctx context.Context, kind, id string, value []byte) error
	// Delete removes the value stored under (kind, id). Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, kind, id string) error
	// ForEach invokes fn for every record of the given kind. Iteration stops
	// on the first error returned by fn.
	ForEach(ctx context.Context, kind string, fn func(id string, value []byte) error) error
	// BulkPut stores all values of a single kind atomically. Either every
	// entry lands or none do.
	BulkPut(ctx context.Context, kind string, values map[string][]byte) error
	// Kinds returns the record kinds currently present in the store.
	Kinds(ctx context.Context) ([]string, error)
}

// SaltStore persists the per-installation KDF salt. The salt is not a secret
// and is stored in cleartext.
type SaltStore interface {
	// LoadSalt returns the persisted salt, or nil if none has been created.
	LoadSalt(ctx context.Context) ([]byte, error)
	// StoreSalt persists the salt. It is called at most once per installation.
	StoreSalt(ctx context.Context, salt []byte) error
}

// KeySize is the size of the symmetric key used by the AEAD implementation.
const KeySize int = 32

// MetricsPrefix prefixes all metrics names.
const MetricsPrefix = "recordseal"
