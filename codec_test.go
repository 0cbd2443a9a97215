package recordseal_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelock/recordseal"
	"github.com/tidelock/recordseal/pkg/crypto/aead"
	"github.com/tidelock/recordseal/pkg/storage"
)

func TestCodec_RoundTrip_DevEnc(t *testing.T) {
	codec := newTestCodec(t, openDevSession(t))

	fields := recordseal.Fields{"name": "alice", "count": float64(2)}

	env, err := codec.Encode(fields, nil)
	require.NoError(t, err)

	assert.Equal(t, recordseal.EnvelopeVersion, env.Version)
	assert.Equal(t, recordseal.ModeDevEnc, env.Mode)
	assert.Equal(t, recordseal.AlgAES256GCM, env.Algorithm)
	assert.Len(t, []byte(env.Nonce), recordseal.NonceSize)
	assert.NotEmpty(t, env.Ciphertext)
	assert.Empty(t, env.Payload)
	assert.Nil(t, env.KDF)

	decoded, err := codec.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, fields, decoded)
}

func TestCodec_FreshNoncePerEncode(t *testing.T) {
	codec := newTestCodec(t, openDevSession(t))

	fields := recordseal.Fields{"same": "plaintext"}

	a, err := codec.Encode(fields, nil)
	require.NoError(t, err)

	b, err := codec.Encode(fields, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestCodec_Plain(t *testing.T) {
	session, err := recordseal.Open(context.Background(), &recordseal.Config{Mode: recordseal.ModePlain}, nil, nil)
	require.NoError(t, err)

	defer session.Close()

	codec := newTestCodec(t, session)

	env, err := codec.Encode(recordseal.Fields{"a": float64(1)}, nil)
	require.NoError(t, err)

	assert.Equal(t, recordseal.ModePlain, env.Mode)
	assert.NotEmpty(t, env.Payload)
	assert.Empty(t, env.Nonce)
	assert.Empty(t, env.Ciphertext)

	// Plain envelopes decode without any key loaded.
	decoded, err := codec.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, recordseal.Fields{"a": float64(1)}, decoded)
}

func TestCodec_ProdEnc_CarriesKDFParams(t *testing.T) {
	salts := storage.NewMemoryStore()
	codec := newTestCodec(t, openProdSession(t, "hunter2", salts))

	env, err := codec.Encode(recordseal.Fields{"k": "v"}, nil)
	require.NoError(t, err)

	require.NotNil(t, env.KDF)
	assert.Equal(t, "argon2id", env.KDF.Algorithm)
	assert.NotZero(t, env.KDF.Time)
	assert.NotZero(t, env.KDF.Memory)
	assert.NotZero(t, env.KDF.Parallelism)

	salt, err := salts.LoadSalt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recordseal.Bytes(salt), env.KDF.Salt)
}

func TestCodec_WrongPassphrase(t *testing.T) {
	salts := storage.NewMemoryStore()

	sealer := newTestCodec(t, openProdSession(t, "correct horse battery staple", salts))
	opener := newTestCodec(t, openProdSession(t, "incorrect horse", salts))

	env, err := sealer.Encode(recordseal.Fields{"secret": "s"}, nil)
	require.NoError(t, err)

	decoded, err := opener.Decode(env)
	assert.Equal(t, recordseal.ErrDecryptAuthFailed, errors.Cause(err))
	assert.Nil(t, decoded)
}

func TestCodec_ClosedSession(t *testing.T) {
	session := openDevSession(t)
	codec := newTestCodec(t, session)

	env, err := codec.Encode(recordseal.Fields{"a": float64(1)}, nil)
	require.NoError(t, err)

	require.NoError(t, session.Close())

	_, err = codec.Encode(recordseal.Fields{"b": float64(2)}, nil)
	assert.Equal(t, recordseal.ErrNoKeyAvailable, errors.Cause(err))

	_, err = codec.Decode(env)
	assert.Equal(t, recordseal.ErrNoKeyAvailable, errors.Cause(err))
}

func TestCodec_TamperedCiphertext(t *testing.T) {
	codec := newTestCodec(t, openDevSession(t))

	env, err := codec.Encode(recordseal.Fields{"a": float64(1)}, nil)
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0x01

	decoded, err := codec.Decode(env)
	assert.Equal(t, recordseal.ErrDecryptAuthFailed, errors.Cause(err))
	assert.Nil(t, decoded)
}

func TestCodec_ValidatesBeforeDecrypting(t *testing.T) {
	codec := newTestCodec(t, openDevSession(t))

	env, err := codec.Encode(recordseal.Fields{"a": float64(1)}, nil)
	require.NoError(t, err)

	env.Version = 9

	_, err = codec.Decode(env)
	assert.Equal(t, recordseal.ErrMalformedEnvelope, errors.Cause(err))
}

func TestCodec_PayloadSizes(t *testing.T) {
	codec := newTestCodec(t, openDevSession(t))

	t.Run("empty record", func(t *testing.T) {
		env, err := codec.Encode(nil, nil)
		require.NoError(t, err)

		decoded, err := codec.Decode(env)
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})

	t.Run("large record", func(t *testing.T) {
		fields := recordseal.Fields{"blob": strings.Repeat("x", 64*1024)}

		env, err := codec.Encode(fields, nil)
		require.NoError(t, err)

		decoded, err := codec.Decode(env)
		require.NoError(t, err)
		assert.Equal(t, fields, decoded)
	})
}

func TestCodec_WithMetricsDisabled(t *testing.T) {
	codec := recordseal.NewCodec(
		openDevSession(t),
		aead.NewAES256GCM(),
		recordseal.WithMetrics(false),
	)

	_, err := codec.Encode(recordseal.Fields{"a": float64(1)}, nil)
	require.NoError(t, err)

	// Disabling removes the timers from the default registry, so encode
	// activity is never published.
	assert.Nil(t, metrics.DefaultRegistry.Get("recordseal.codec.encode"))
	assert.Nil(t, metrics.DefaultRegistry.Get("recordseal.migrate.reencrypt"))
}

func TestCodec_TimestampAndMeta(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)

	codec := recordseal.NewCodec(
		openDevSession(t),
		aead.NewAES256GCM(),
		recordseal.WithClock(func() time.Time { return fixed }),
	)

	meta := &recordseal.Meta{ID: "r1", Kind: "user", UpdatedAt: 42}

	env, err := codec.Encode(recordseal.Fields{"a": float64(1)}, meta)
	require.NoError(t, err)

	assert.Equal(t, fixed.UnixMilli(), env.Timestamp)
	require.NotNil(t, env.Meta)
	assert.Equal(t, *meta, *env.Meta)

	// The envelope holds a copy, not the caller's pointer.
	meta.ID = "mutated"
	assert.Equal(t, "r1", env.Meta.ID)
}
