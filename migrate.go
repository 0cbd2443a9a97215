package recordseal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/tidelock/recordseal/pkg/log"
)

// Migration metrics
var (
	reencryptTimer = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.migrate.reencrypt", MetricsPrefix), nil)
	repairTimer    = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.migrate.repair", MetricsPrefix), nil)
)

// MigrationCounts reports, per record kind, how many records a migration pass
// rewrote and how many it had to skip. The caller is responsible for
// surfacing partial completion to the user.
type MigrationCounts struct {
	Changed map[string]int
	Skipped map[string]int
}

func newMigrationCounts() MigrationCounts {
	return MigrationCounts{
		Changed: make(map[string]int),
		Skipped: make(map[string]int),
	}
}

// TotalChanged sums rewrites across kinds.
func (c MigrationCounts) TotalChanged() int {
	var n int
	for _, v := range c.Changed {
		n += v
	}

	return n
}

// TotalSkipped sums skipped records across kinds.
func (c MigrationCounts) TotalSkipped() int {
	var n int
	for _, v := range c.Skipped {
		n += v
	}

	return n
}

// Migrator bulk-rewrites stored records across mode or format-generation
// boundaries. Rewrites for one record kind are applied in a single atomic
// bulk write, so a failure partway never leaves a mixed-format kind.
type Migrator struct {
	rs       RecordStore
	codec    *Codec
	legacy   *Codec
	progress func(kind string, processed int)
	now      func() time.Time
}

// MigratorOption is used to configure additional options in a Migrator.
type MigratorOption func(*Migrator)

// WithLegacyCodec supplies a codec opened under the previous mode or key,
// used to decode envelopes the current codec cannot.
func WithLegacyCodec(c *Codec) MigratorOption {
	return func(m *Migrator) {
		m.legacy = c
	}
}

// WithProgress registers a callback invoked after each processed record.
func WithProgress(fn func(kind string, processed int)) MigratorOption {
	return func(m *Migrator) {
		m.progress = fn
	}
}

// NewMigrator returns a Migrator rewriting records into the mode of codec.
func NewMigrator(rs RecordStore, codec *Codec, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		rs:    rs,
		codec: codec,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ReencryptAll walks every stored record and rewrites those not already in
// envelope form under the current mode: bare pre-envelope documents are
// wrapped and encoded, and envelopes sealed under an outdated mode are
// decoded and re-encoded. Records already current are left untouched, so a
// second run rewrites nothing.
//
// An individual record that fails to decode is logged and skipped; one bad
// record never aborts the whole pass.
func (m *Migrator) ReencryptAll(ctx context.Context) (MigrationCounts, error) {
	defer reencryptTimer.UpdateSince(time.Now())

	counts := newMigrationCounts()

	kinds, err := m.kinds(ctx)
	if err != nil {
		return counts, err
	}

	for _, kind := range kinds {
		rewrites := make(map[string][]byte)

		var processed int

		err := m.rs.ForEach(ctx, kind, func(id string, value []byte) error {
			processed++
			if m.progress != nil {
				m.progress(kind, processed)
			}

			rewritten, ok := m.reencryptOne(kind, id, value)
			switch {
			case rewritten != nil:
				rewrites[id] = rewritten
			case !ok:
				counts.Skipped[kind]++
			}

			return nil
		})
		if err != nil {
			return counts, errors.Wrapf(err, "walking records of kind %s", kind)
		}

		if len(rewrites) == 0 {
			continue
		}

		if err := m.rs.BulkPut(ctx, kind, rewrites); err != nil {
			return counts, errors.Wrapf(err, "rewriting records of kind %s", kind)
		}

		counts.Changed[kind] = len(rewrites)

		log.Debugf("reencrypted %d records of kind %s", len(rewrites), kind)
	}

	return counts, nil
}

// reencryptOne returns the rewritten value for one record, or nil when it
// needs no rewrite (ok) or could not be converted (not ok).
func (m *Migrator) reencryptOne(kind, id string, value []byte) (rewritten []byte, ok bool) {
	switch ClassifyValue(value) {
	case ShapeCurrent:
		var sr storedRecord
		if err := json.Unmarshal(value, &sr); err != nil {
			log.Debugf("skipping unreadable record %s/%s: %v", kind, id, err)

			return nil, false
		}

		if sr.Envelope != nil && sr.Envelope.Mode == m.codec.Mode() {
			return nil, true
		}

		fields, err := m.decodeAny(sr.Envelope)
		if err != nil {
			log.Debugf("skipping undecodable record %s/%s: %v", kind, id, err)

			return nil, false
		}

		out, err := sealRecordValue(m.codec, kind, id, fields, sr.UpdatedAt)
		if err != nil {
			log.Debugf("skipping record %s/%s: re-encode failed: %v", kind, id, err)

			return nil, false
		}

		return out, true

	case ShapePlainDoc:
		fields, err := unmarshalFields(value)
		if err != nil {
			log.Debugf("skipping unreadable legacy record %s/%s: %v", kind, id, err)

			return nil, false
		}

		updatedAt, hasUpdated := asInt64(fields["updatedAt"])
		if !hasUpdated {
			updatedAt = m.now().UnixMilli()
		}

		out, err := sealRecordValue(m.codec, kind, id, fields, updatedAt)
		if err != nil {
			log.Debugf("skipping legacy record %s/%s: encode failed: %v", kind, id, err)

			return nil, false
		}

		return out, true

	case ShapeLegacySealed:
		// Handled by RepairSplitMeta, which preserves the sealed payload
		// byte-exactly instead of round-tripping it through the key.
		return nil, true

	default:
		log.Debugf("skipping unrecognized value for %s/%s", kind, id)

		return nil, false
	}
}

// decodeAny decodes env with the current codec, falling back to the legacy
// codec when one was supplied.
func (m *Migrator) decodeAny(env *Envelope) (Fields, error) {
	fields, err := m.codec.Decode(env)
	if err == nil {
		return fields, nil
	}

	if m.legacy != nil {
		if fields, legacyErr := m.legacy.Decode(env); legacyErr == nil {
			return fields, nil
		}
	}

	return nil, err
}

// legacySealed is the pre-split stored shape: nonce and ciphertext inline at
// the top level, no version tag, meta fields mixed in alongside.
type legacySealed struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	UpdatedAt  int64  `json:"updatedAt"`
	Timestamp  int64  `json:"timestamp"`
	Nonce      Bytes  `json:"nonce"`
	Ciphertext Bytes  `json:"ciphertext"`
}

// RepairSplitMeta detects records predating the meta/payload separation,
// identifiable by inline nonce/ciphertext fields without a version tag, and
// rewrites them into the current envelope shape. The sealed payload is
// preserved byte-exactly; nothing is decrypted, so the repair works without
// the original records' key being loadable.
//
// Repair requires an encrypted active mode: a legacy sealed payload cannot be
// labeled plain.
func (m *Migrator) RepairSplitMeta(ctx context.Context) (int, error) {
	defer repairTimer.UpdateSince(time.Now())

	mode := m.codec.Mode()
	if !mode.Encrypted() {
		return 0, errors.Wrap(ErrInvalidMode, "meta repair requires an encrypted mode")
	}

	kinds, err := m.kinds(ctx)
	if err != nil {
		return 0, err
	}

	var total int

	for _, kind := range kinds {
		rewrites := make(map[string][]byte)

		var processed int

		err := m.rs.ForEach(ctx, kind, func(id string, value []byte) error {
			processed++
			if m.progress != nil {
				m.progress(kind, processed)
			}

			if ClassifyValue(value) != ShapeLegacySealed {
				return nil
			}

			out, repairErr := m.repairOne(kind, id, value)
			if repairErr != nil {
				log.Debugf("skipping unrepairable record %s/%s: %v", kind, id, repairErr)

				return nil
			}

			rewrites[id] = out

			return nil
		})
		if err != nil {
			return total, errors.Wrapf(err, "walking records of kind %s", kind)
		}

		if len(rewrites) == 0 {
			continue
		}

		if err := m.rs.BulkPut(ctx, kind, rewrites); err != nil {
			return total, errors.Wrapf(err, "rewriting records of kind %s", kind)
		}

		total += len(rewrites)

		log.Debugf("repaired %d legacy records of kind %s", len(rewrites), kind)
	}

	return total, nil
}

func (m *Migrator) repairOne(kind, id string, value []byte) ([]byte, error) {
	var legacy legacySealed
	if err := json.Unmarshal(value, &legacy); err != nil {
		return nil, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}

	if legacy.ID == "" {
		legacy.ID = id
	}

	if legacy.Kind == "" {
		legacy.Kind = kind
	}

	timestamp := legacy.Timestamp
	if timestamp <= 0 {
		timestamp = m.now().UnixMilli()
	}

	env := &Envelope{
		Version:    EnvelopeVersion,
		Mode:       m.codec.Mode(),
		Algorithm:  AlgAES256GCM,
		Nonce:      legacy.Nonce,
		Ciphertext: legacy.Ciphertext,
		Timestamp:  timestamp,
		Meta: &Meta{
			ID:        legacy.ID,
			Kind:      legacy.Kind,
			UpdatedAt: legacy.UpdatedAt,
		},
	}

	if env.Mode == ModeProdEnc {
		env.KDF = m.codec.session.kdfWireParams()
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	return json.Marshal(&storedRecord{
		ID:        legacy.ID,
		Kind:      legacy.Kind,
		UpdatedAt: legacy.UpdatedAt,
		Envelope:  env,
	})
}

// kinds returns the non-reserved record kinds present in the store.
func (m *Migrator) kinds(ctx context.Context) ([]string, error) {
	all, err := m.rs.Kinds(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing record kinds")
	}

	kinds := all[:0]

	for _, kind := range all {
		if strings.HasPrefix(kind, "_") {
			continue
		}

		kinds = append(kinds, kind)
	}

	return kinds, nil
}

// sealRecordValue encodes fields into a stored record value of the current
// generation, mirroring the meta fields into the payload, the envelope meta,
// and the cleartext stored shape.
func sealRecordValue(codec *Codec, kind, id string, fields Fields, updatedAt int64) ([]byte, error) {
	fields = fields.clone()
	fields["id"] = id
	fields["kind"] = kind
	fields["updatedAt"] = updatedAt

	meta := &Meta{ID: id, Kind: kind, UpdatedAt: updatedAt}

	env, err := codec.Encode(fields, meta)
	if err != nil {
		return nil, err
	}

	return json.Marshal(&storedRecord{
		ID:        id,
		Kind:      kind,
		UpdatedAt: updatedAt,
		Envelope:  env,
	})
}
