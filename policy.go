package recordseal

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tidelock/recordseal/pkg/kdf"
	"github.com/tidelock/recordseal/pkg/log"
)

// Config contains the deployment-level settings consumed by the mode policy
// and session setup.
type Config struct {
	// Mode is the explicitly configured operating mode. Empty means
	// unconfigured, in which case ResolveMode applies the fallback rules.
	Mode Mode
	// Namespace names the storage namespace records live under.
	Namespace string
	// Production marks a production build. A production build must never
	// run unencrypted, and must not silently fall back to a default mode.
	Production bool
	// DevSecret optionally overrides the built-in fixed secret used in
	// dev-enc mode. Must be exactly KeySize bytes when set.
	DevSecret []byte
	// KDF is the cost profile for prod-enc key derivation. The zero value
	// selects kdf.DefaultParams.
	KDF kdf.Params
}

var devFallbackWarning sync.Once

// ResolveMode decides which of the three modes is active for this run and
// enforces the startup safety gates:
//
//   - an explicitly configured unknown mode is a fatal configuration error;
//   - a production build never starts in plain mode, explicitly configured
//     or otherwise;
//   - an unconfigured production build fails startup rather than defaulting;
//   - an unconfigured non-production build falls back to dev-enc with a
//     one-time visible warning.
//
// Detecting an unsafe combination aborts initialization; it is a startup
// gate, not a runtime toggle.
func ResolveMode(cfg *Config) (Mode, error) {
	if cfg == nil {
		return "", errors.Wrap(ErrInvalidMode, "nil config")
	}

	if cfg.Mode == "" {
		if cfg.Production {
			return "", errors.Wrap(ErrInvalidMode, "mode must be configured in production")
		}

		devFallbackWarning.Do(func() {
			log.Warnf("recordseal: no mode configured, falling back to dev-enc; configure prod-enc before shipping")
		})

		return ModeDevEnc, nil
	}

	if !cfg.Mode.Valid() {
		return "", errors.Wrapf(ErrInvalidMode, "unrecognized mode %q", cfg.Mode)
	}

	if cfg.Production && cfg.Mode == ModePlain {
		return "", errors.Wrap(ErrInvalidMode, "plain mode is not permitted in a production build")
	}

	return cfg.Mode, nil
}
