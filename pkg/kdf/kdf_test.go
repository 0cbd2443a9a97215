package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low-cost parameters keep the argon2id calls fast in tests.
var testParams = Params{Time: 1, Memory: 8 * 1024, Parallelism: 1}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := DeriveKey([]byte("correct horse"), salt, testParams)
	require.NoError(t, err)

	k2, err := DeriveKey([]byte("correct horse"), salt, testParams)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)
}

func TestDeriveKeyPassphraseSensitivity(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := DeriveKey([]byte("passphrase one"), salt, testParams)
	require.NoError(t, err)

	k2, err := DeriveKey([]byte("passphrase two"), salt, testParams)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeySaltSensitivity(t *testing.T) {
	k1, err := DeriveKey([]byte("same passphrase"), []byte("salt-aaaaaaaaaaaaaaaaaaaaaaaaaaa"), testParams)
	require.NoError(t, err)

	k2, err := DeriveKey([]byte("same passphrase"), []byte("salt-bbbbbbbbbbbbbbbbbbbbbbbbbbb"), testParams)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeyParamSensitivity(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := DeriveKey([]byte("same passphrase"), salt, testParams)
	require.NoError(t, err)

	k2, err := DeriveKey([]byte("same passphrase"), salt, Params{Time: 2, Memory: 8 * 1024, Parallelism: 1})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeyRejectsIncompleteInput(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	_, err := DeriveKey(nil, salt, testParams)
	assert.Error(t, err)

	_, err = DeriveKey([]byte("p"), nil, testParams)
	assert.Error(t, err)

	_, err = DeriveKey([]byte("p"), salt, Params{})
	assert.Error(t, err)
}

func TestDefaultParamsExplicit(t *testing.T) {
	p := DefaultParams()

	assert.True(t, p.valid())
}
