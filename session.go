package recordseal

import (
	"context"

	"github.com/godaddy/asherah/go/securememory"
	"github.com/godaddy/asherah/go/securememory/memguard"
	"github.com/pkg/errors"

	"github.com/tidelock/recordseal/internal"
	"github.com/tidelock/recordseal/pkg/kdf"
	"github.com/tidelock/recordseal/pkg/log"
)

// defaultDevSecret is the built-in fixed secret for dev-enc deployments that
// do not supply one. It provides format parity with production, not secrecy.
var defaultDevSecret = []byte("recordseal-development-secret-01")

// Session owns the in-memory key material for one authenticated run. It is
// created by Open and must be closed on logout or lock, which wipes the key.
//
// A Session's key may be read by any number of in-flight codec calls, but
// callers are responsible for draining in-flight operations before replacing
// a session; operations racing a Close may fail with ErrNoKeyAvailable or
// ErrDecryptAuthFailed.
type Session struct {
	mode      Mode
	key       *internal.SessionKey
	kdfParams *KDFParams
}

// SessionOption is used to configure additional options when opening a Session.
type SessionOption func(*sessionSettings)

type sessionSettings struct {
	secrets securememory.SecretFactory
}

// WithSecretFactory sets the factory used to allocate secure memory for the
// session key.
func WithSecretFactory(f securememory.SecretFactory) SessionOption {
	return func(s *sessionSettings) {
		s.secrets = f
	}
}

// Open resolves the active mode from cfg and produces the session key for it.
//
// In prod-enc mode the key is derived from passphrase and the persisted
// installation salt; in dev-enc mode the configured (or built-in) fixed
// secret is used; in plain mode no key is produced and passphrase is ignored.
// The passphrase itself is consumed here and never retained, persisted, or
// logged.
func Open(ctx context.Context, cfg *Config, passphrase []byte, salts SaltStore, opts ...SessionOption) (*Session, error) {
	settings := &sessionSettings{
		secrets: new(memguard.SecretFactory),
	}

	for _, opt := range opts {
		opt(settings)
	}

	mode, err := ResolveMode(cfg)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModePlain:
		return &Session{mode: mode}, nil
	case ModeDevEnc:
		return openDev(cfg, settings)
	default:
		return openProd(ctx, cfg, passphrase, salts, settings)
	}
}

func openDev(cfg *Config, settings *sessionSettings) (*Session, error) {
	secret := cfg.DevSecret
	if len(secret) == 0 {
		secret = defaultDevSecret
	}

	if len(secret) != KeySize {
		return nil, errors.Errorf("dev secret must be %d bytes, got %d", KeySize, len(secret))
	}

	// The factory wipes its input, which must not reach the shared default.
	buf := make([]byte, len(secret))
	copy(buf, secret)

	key, err := internal.NewSessionKey(settings.secrets, buf)
	if err != nil {
		return nil, err
	}

	return &Session{mode: ModeDevEnc, key: key}, nil
}

func openProd(ctx context.Context, cfg *Config, passphrase []byte, salts SaltStore, settings *sessionSettings) (*Session, error) {
	if len(passphrase) == 0 {
		return nil, errors.Wrap(ErrNoKeyAvailable, "prod-enc requires a passphrase")
	}

	if salts == nil {
		return nil, errors.New("prod-enc requires a salt store")
	}

	salt, err := loadOrCreateSalt(ctx, salts)
	if err != nil {
		return nil, err
	}

	params := cfg.KDF
	if params == (kdf.Params{}) {
		params = kdf.DefaultParams()
	}

	keyBytes, err := kdf.DeriveKey(passphrase, salt, params)
	if err != nil {
		return nil, err
	}

	// NewSessionKey wipes keyBytes on its way into secure memory.
	key, err := internal.NewSessionKey(settings.secrets, keyBytes)
	if err != nil {
		return nil, err
	}

	return &Session{
		mode: ModeProdEnc,
		key:  key,
		kdfParams: &KDFParams{
			Algorithm:   kdf.Algorithm,
			Time:        params.Time,
			Memory:      params.Memory,
			Parallelism: params.Parallelism,
			Salt:        salt,
		},
	}, nil
}

// loadOrCreateSalt reads the persisted per-installation salt, generating and
// persisting one if none exists yet. Creation is a one-time event: a silently
// regenerated salt would make every existing encrypted record permanently
// undecryptable, so a new salt is only ever written when none was found, and
// the event is logged.
func loadOrCreateSalt(ctx context.Context, salts SaltStore) ([]byte, error) {
	salt, err := salts.LoadSalt(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading installation salt")
	}

	if len(salt) > 0 {
		return salt, nil
	}

	salt = internal.GetRandBytes(kdf.SaltSize)

	if err := salts.StoreSalt(ctx, salt); err != nil {
		return nil, errors.Wrap(err, "persisting new installation salt")
	}

	log.Warnf("recordseal: created new installation salt")

	return salt, nil
}

// Mode returns the mode this session was opened under. Callers enforcing the
// plain-mode-outside-loopback policy act on this value.
func (s *Session) Mode() Mode {
	return s.mode
}

// HasKey reports whether a key is currently loaded. Callers use it to fail
// fast rather than let a codec call fail deep in the stack.
func (s *Session) HasKey() bool {
	return s.key != nil && !s.key.IsClosed()
}

// Close wipes the session key. It is safe to call more than once; a plain
// mode session closes trivially.
func (s *Session) Close() error {
	if s.key != nil {
		s.key.Close()
	}

	return nil
}

// kdfWireParams returns a copy of the derivation parameters recorded in
// prod-enc envelopes, or nil for other modes.
func (s *Session) kdfWireParams() *KDFParams {
	if s.kdfParams == nil {
		return nil
	}

	cp := *s.kdfParams

	return &cp
}

// withKey exposes the key bytes to action. It fails fast with
// ErrNoKeyAvailable before any cryptographic primitive is reached.
func (s *Session) withKey(action func(keyBytes []byte) error) error {
	if !s.HasKey() {
		return ErrNoKeyAvailable
	}

	return s.key.WithBytes(action)
}
