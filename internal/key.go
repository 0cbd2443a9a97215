package internal

import (
	"sync"

	"github.com/godaddy/asherah/go/securememory"
)

// SessionKey is the symmetric key held for the lifetime of an authenticated
// session. The key bytes live in a secure memory section and are wiped when
// the key is closed. A SessionKey is never persisted and must not leak into
// logs, error messages, or serialized state.
type SessionKey struct {
	secret securememory.Secret
	once   sync.Once
}

// NewSessionKey wraps key in secure memory. The provided slice is wiped
// before the function returns.
func NewSessionKey(factory securememory.SecretFactory, key []byte) (*SessionKey, error) {
	sec, err := factory.New(key)
	if err != nil {
		return nil, err
	}

	return &SessionKey{secret: sec}, nil
}

// GenerateSessionKey creates a new random key of the given size.
func GenerateSessionKey(factory securememory.SecretFactory, size int) (*SessionKey, error) {
	sec, err := factory.CreateRandom(size)
	if err != nil {
		return nil, err
	}

	return &SessionKey{secret: sec}, nil
}

// WithBytes makes the underlying key bytes readable and passes them to
// action. A reference to the bytes must not escape action; the backing memory
// is protected again after it returns.
func (k *SessionKey) WithBytes(action func([]byte) error) error {
	return k.secret.WithBytes(action)
}

// WithBytesFunc is WithBytes for actions that produce a byte slice.
func (k *SessionKey) WithBytesFunc(action func([]byte) ([]byte, error)) ([]byte, error) {
	return k.secret.WithBytesFunc(action)
}

// Close wipes and releases the underlying secure buffer. It is safe to call
// more than once.
func (k *SessionKey) Close() {
	k.once.Do(func() {
		_ = k.secret.Close()
	})
}

// IsClosed reports whether the underlying buffer has been destroyed.
func (k *SessionKey) IsClosed() bool {
	return k.secret.IsClosed()
}
